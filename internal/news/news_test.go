package news

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"accents stripped", "Fête de la Musique à Lyon!", "fete-de-la-musique-a-lyon"},
		{"apostrophes and spaces", "L'été  à  Croix-Rousse", "l-ete-a-croix-rousse"},
		{"leading punctuation", "  --Hello, World--  ", "hello-world"},
		{"non latin dropped", "東京 Lyon", "lyon"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Slugify(tt.input))
		})
	}
}

func TestSlugifyTruncates(t *testing.T) {
	t.Parallel()

	got := Slugify(strings.Repeat("abcdefghi ", 10))
	require.LessOrEqual(t, len(got), 50)
	require.False(t, strings.HasSuffix(got, "-"))
}

func TestArticleSlug(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, time.March, 5, 22, 0, 0, 0, time.UTC)
	require.Equal(t, "nouveau-tram-2024-03-05", ArticleSlug("Nouveau tram", date))
	require.Equal(t, "article-2024-03-05", ArticleSlug("!!!", date))
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base := "https://news.example.com/lyon/index.html"
	require.Equal(t, "https://cdn.example.com/a.jpg", ResolveURL(base, "//cdn.example.com/a.jpg"))
	require.Equal(t, "https://news.example.com/img/a.jpg", ResolveURL(base, "/img/a.jpg"))
	require.Equal(t, "https://news.example.com/lyon/b.html", ResolveURL(base, "b.html"))
	require.Equal(t, "https://other.example.com/x", ResolveURL(base, "https://other.example.com/x"))
	require.Empty(t, ResolveURL(base, "  "))
	require.Empty(t, ResolveURL("not a url", "/x"))
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("HTTPS://News.Example.com:443/a?b=2&a=1#frag")
	require.NoError(t, err)
	require.Equal(t, "https://news.example.com/a?a=1&b=2", got)

	_, err = NormalizeURL("/relative")
	require.Error(t, err)
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com", Origin("https://example.com/a/b?c=d"))
	require.Empty(t, Origin("::"))
}

func TestStatusCanTransition(t *testing.T) {
	t.Parallel()

	require.True(t, StatusScraped.CanTransition(StatusPublished))
	require.True(t, StatusScraped.CanTransition(StatusRewritten))
	require.True(t, StatusRewritten.CanTransition(StatusRejected))
	require.False(t, StatusRewritten.CanTransition(StatusScraped))
	require.False(t, StatusPublished.CanTransition(StatusRewritten))
	require.False(t, StatusRejected.CanTransition(StatusPublished))
}

func TestCountsAdd(t *testing.T) {
	t.Parallel()

	c := Counts{Scraped: 1}
	c.Add(Counts{Scraped: 2, Published: 1})
	require.Equal(t, Counts{Scraped: 3, Published: 1}, c)
}
