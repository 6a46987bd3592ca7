package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

func fakeServer(t *testing.T, createTopic bool) (*pstest.Server, option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	if createTopic {
		admin, err := pubsub.NewClient(context.Background(), "proj", option.WithGRPCConn(conn))
		require.NoError(t, err)
		_, err = admin.TopicAdminClient.CreateTopic(context.Background(), &pubsubpb.Topic{Name: "projects/proj/topics/articles"})
		require.NoError(t, err)
	}
	return srv, option.WithGRPCConn(conn)
}

func TestPublishEvent(t *testing.T) {
	t.Parallel()

	srv, opt := fakeServer(t, true)
	pub, err := Open(context.Background(), "proj", "articles", zap.NewNop(), opt)
	require.NoError(t, err)

	ev := news.Event{Type: "article.published", ArticleID: "art-1", Slug: "fete-des-lumieres"}
	id, err := pub.Publish(context.Background(), ev.Type, ev)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "article.published", msgs[0].Attributes["event_type"])
	require.Equal(t, "art-1", msgs[0].Attributes["article_id"])

	var got news.Event
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "fete-des-lumieres", got.Slug)
}

func TestOpenMissingTopic(t *testing.T) {
	t.Parallel()

	_, opt := fakeServer(t, false)
	_, err := Open(context.Background(), "proj", "missing", nil, opt)
	require.Error(t, err)
}

func TestOpenRequiresNames(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "topic", nil)
	require.Error(t, err)
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
