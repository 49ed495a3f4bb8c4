package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dailymed-etl/internal/mapping"
	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/scheduler"
	"dailymed-etl/internal/scrape"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScraper struct {
	outcome scrape.Outcome
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeScraper) RunCycle(ctx context.Context) (scrape.Outcome, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return scrape.Skipped, ctx.Err()
		}
	}
	return f.outcome, f.err
}

type fakeMapper struct {
	release chan struct{}
	calls   atomic.Int32
	ran     chan struct{}
}

func (f *fakeMapper) Run(ctx context.Context) (mapping.Summary, error) {
	f.calls.Add(1)
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return mapping.Summary{}, ctx.Err()
		}
	}
	return mapping.Summary{Total: 1, Classified: 1, Persisted: 1}, nil
}

func newScheduler(t *testing.T, s scheduler.Scraper, m scheduler.Mapper, met *metrics.Metrics) *scheduler.Scheduler {
	t.Helper()
	log, _ := test.NewNullLogger()
	sch, err := scheduler.New("@every 1h", s, m, met, log)
	require.NoError(t, err)
	return sch
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := scheduler.New("every minute", &fakeScraper{}, &fakeMapper{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every minute")
}

func TestRunScrapeCycle_RefreshQueuesMapping(t *testing.T) {
	t.Parallel()

	sch := newScheduler(t, &fakeScraper{outcome: scrape.Refreshed}, &fakeMapper{}, nil)

	refreshed, err := sch.RunScrapeCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)

	select {
	case <-sch.Refreshed():
	default:
		t.Fatal("expected a pending refresh event")
	}
}

func TestRunScrapeCycle_SkipDoesNotQueueMapping(t *testing.T) {
	t.Parallel()

	sch := newScheduler(t, &fakeScraper{outcome: scrape.Skipped}, &fakeMapper{}, nil)

	refreshed, err := sch.RunScrapeCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)

	select {
	case <-sch.Refreshed():
		t.Fatal("skipped cycle must not queue mapping")
	default:
	}
}

func TestRunScrapeCycle_ErrorDoesNotQueueMapping(t *testing.T) {
	t.Parallel()

	boom := errors.New("fetch failed")
	sch := newScheduler(t, &fakeScraper{outcome: scrape.Refreshed, err: boom}, &fakeMapper{}, nil)

	_, err := sch.RunScrapeCycle(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, sch.Refreshed())
}

func TestRunScrapeCycle_RefusesOverlap(t *testing.T) {
	t.Parallel()

	scr := &fakeScraper{outcome: scrape.Skipped, release: make(chan struct{})}
	met := metrics.Nop()
	sch := newScheduler(t, scr, &fakeMapper{}, met)

	done := make(chan error, 1)
	go func() {
		_, err := sch.RunScrapeCycle(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return scr.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := sch.RunScrapeCycle(context.Background())
	require.ErrorIs(t, err, scheduler.ErrCycleInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.ScrapeCycles.WithLabelValues(metrics.OutcomeOverlap)))

	close(scr.release)
	require.NoError(t, <-done)

	_, err = sch.RunScrapeCycle(context.Background())
	require.NoError(t, err, "guard must clear once the cycle finishes")
	assert.Equal(t, int32(2), scr.calls.Load())
}

func TestRunMappingCycle_RefusesOverlap(t *testing.T) {
	t.Parallel()

	mp := &fakeMapper{release: make(chan struct{})}
	met := metrics.Nop()
	sch := newScheduler(t, &fakeScraper{}, mp, met)

	task, err := sch.RunMappingCycle(context.Background())
	require.NoError(t, err)

	_, err = sch.RunMappingCycle(context.Background())
	require.ErrorIs(t, err, scheduler.ErrCycleInProgress)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.MappingCycles.WithLabelValues(metrics.OutcomeOverlap)))

	close(mp.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	summary, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Persisted)

	next, err := sch.RunMappingCycle(context.Background())
	require.NoError(t, err)
	_, err = next.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), mp.calls.Load())
}

func TestStart_RunsScrapeAtBootAndMapsOnRefresh(t *testing.T) {
	t.Parallel()

	scr := &fakeScraper{outcome: scrape.Refreshed}
	mp := &fakeMapper{ran: make(chan struct{}, 1)}
	sch := newScheduler(t, scr, mp, nil)

	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()

	select {
	case <-mp.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("mapping was not started after the boot scrape")
	}
	assert.Equal(t, int32(1), scr.calls.Load())
}

func TestStart_SkippedBootScrapeDoesNotMap(t *testing.T) {
	t.Parallel()

	scr := &fakeScraper{outcome: scrape.Skipped}
	mp := &fakeMapper{}
	sch := newScheduler(t, scr, mp, nil)

	require.NoError(t, sch.Start(context.Background()))
	require.Eventually(t, func() bool { return scr.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	sch.Stop()

	assert.Zero(t, mp.calls.Load())
}

func TestStart_RefreshDuringManualMappingRerunsMapping(t *testing.T) {
	t.Parallel()

	scr := &fakeScraper{outcome: scrape.Refreshed}
	mp := &fakeMapper{release: make(chan struct{})}
	sch := newScheduler(t, scr, mp, nil)

	manual, err := sch.RunMappingCycle(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mp.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sch.Start(context.Background()))
	defer sch.Stop()
	require.Eventually(t, func() bool { return scr.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The refresh must not start a second cycle while the manual one runs.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), mp.calls.Load())

	close(mp.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = manual.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mp.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond,
		"refresh event should start a new mapping cycle once the running one finishes")
}
