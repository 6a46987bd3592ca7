package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
	"github.com/JakeFAU/localnews-pipeline/internal/pipeline"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRunner) ProcessAll(context.Context) (news.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return news.RunResult{Counts: news.Counts{Scraped: 2, Published: 1}, Run: news.RunLog{ID: "run-1"}}, f.err
}

type fakeSweeper struct {
	olderThan time.Duration
	err       error
}

func (f *fakeSweeper) Sweep(_ context.Context, olderThan time.Duration) (news.SweepResult, error) {
	f.olderThan = olderThan
	return news.SweepResult{Scanned: 3, Deleted: 2}, f.err
}

func TestNewRegistersJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		sweeper Sweeper
		want    int
	}{
		{"both", Config{RunSpec: "*/30 * * * *", SweepSpec: "0 3 * * *", Retention: time.Hour}, &fakeSweeper{}, 2},
		{"run only", Config{RunSpec: "@every 1h"}, &fakeSweeper{}, 1},
		{"sweep without sweeper", Config{RunSpec: "*/30 * * * *", SweepSpec: "0 3 * * *"}, nil, 1},
		{"nothing", Config{}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := New(tt.cfg, &fakeRunner{}, tt.sweeper, zap.NewNop())
			require.NoError(t, err)
			require.Equal(t, tt.want, s.Jobs())
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{RunSpec: "every minute"}, &fakeRunner{}, nil, nil)
	require.Error(t, err)

	_, err = New(Config{SweepSpec: "0 3 * * *"}, &fakeRunner{}, &fakeSweeper{}, nil)
	require.ErrorContains(t, err, "retention")

	_, err = New(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestRunPipelineLogsOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		level string
		msg   string
	}{
		{"success", nil, "info", "scheduled run finished"},
		{"busy", pipeline.ErrRunInProgress, "info", "scheduled run skipped, another run is in progress"},
		{"failure", errors.New("list active sources: timeout"), "error", "scheduled run failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.InfoLevel)
			runner := &fakeRunner{err: tt.err}
			s, err := New(Config{}, runner, nil, zap.New(core))
			require.NoError(t, err)

			s.runPipeline()

			require.Equal(t, 1, runner.calls)
			entries := logs.FilterMessage(tt.msg).All()
			require.Len(t, entries, 1)
			require.Equal(t, tt.level, entries[0].Level.String())
		})
	}
}

func TestSweepImagesUsesRetention(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{}
	s, err := New(Config{SweepSpec: "0 3 * * *", Retention: 30 * 24 * time.Hour}, &fakeRunner{}, sweeper, nil)
	require.NoError(t, err)

	s.sweepImages()
	require.Equal(t, 30*24*time.Hour, sweeper.olderThan)

	sweeper.err = errors.New("list objects: denied")
	s.sweepImages()
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(Config{RunSpec: "@every 1h"}, &fakeRunner{}, nil, nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.Error(t, s.ctx.Err())
}
