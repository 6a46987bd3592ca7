package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/config"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/md5"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Rewrite.APIKey = "sk-test"
	cfg.Sources = []config.SourceConfig{
		{ID: "lyon-mag", Name: "Lyon Mag", Kind: "feed", URL: "https://www.lyonmag.com/rss"},
	}
	return &cfg
}

func TestBuildInMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Enabled = true

	app, err := Build(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NotNil(t, app.Orchestrator())
	require.NotNil(t, app.Images())
	require.NotNil(t, app.scheduler)
	require.Nil(t, app.pgStore)

	sources, err := app.store.ListActiveSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, news.SourceKindFeed, sources[0].Kind)

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, app.Close(context.Background()))
}

func TestBuildAnthropicProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rewrite.Provider = "anthropic"
	cfg.RateLimit.Enabled = false

	app, err := Build(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.Nil(t, app.scheduler)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRequiresRewriteKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rewrite.APIKey = ""

	_, err := Build(context.Background(), cfg, "test")
	require.Error(t, err)
}

func TestBuildLocalImages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Images.Backend = "local"
	cfg.Images.Local.BaseDir = t.TempDir()

	app, err := Build(context.Background(), cfg, "test")
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildFailureReleasesOpenedResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Headless.Enabled = true
	cfg.Headless.MaxParallel = 1
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "not a cron spec"

	app := &App{cfg: cfg, logger: zap.NewNop()}
	err := wire(context.Background(), app)
	require.Error(t, err)
	require.NotNil(t, app.headless, "headless fetcher opened before the scheduler failed")
	require.NotPanics(t, app.closeInfrastructure)

	built, err := Build(context.Background(), cfg, "test")
	require.Error(t, err)
	require.Nil(t, built)
}

func TestSetupHasher(t *testing.T) {
	t.Parallel()

	require.IsType(t, &sha256.Hasher{}, setupHasher("sha256"))
	require.IsType(t, &md5.Hasher{}, setupHasher("md5"))
	require.IsType(t, &md5.Hasher{}, setupHasher(""))
}

func TestValidatorConfigOverrides(t *testing.T) {
	t.Parallel()

	got := validatorConfig(config.ValidationConfig{ContentMin: 800, LocalityTerms: []string{"villeurbanne"}})
	require.Equal(t, 800, got.ContentMin)
	require.Equal(t, 60, got.TitleMax)
	require.Equal(t, []string{"villeurbanne"}, got.LocalityTerms)
}
