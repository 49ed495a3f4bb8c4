package scrape_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dailymed-etl/internal/cache"
	"dailymed-etl/internal/extractor"
	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/model"
	"dailymed-etl/internal/scrape"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sourceURL = "https://dailymed.example/label"

type fakeFetcher struct {
	body  []byte
	err   error
	calls int
	url   string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	f.url = url
	return f.body, f.err
}

type fakeExtractor struct {
	records []model.RawIndication
	err     error
	calls   int
}

func (f *fakeExtractor) Extract([]byte) ([]model.RawIndication, error) {
	f.calls++
	return f.records, f.err
}

type fakeCache struct {
	fresh     bool
	writes    int
	written   []model.RawIndication
	retention time.Duration
	err       error
}

func (f *fakeCache) IsFresh() bool { return f.fresh }

func (f *fakeCache) Write(records []model.RawIndication, retention time.Duration) error {
	f.writes++
	f.written = records
	f.retention = retention
	return f.err
}

func newCoordinator(f scrape.Fetcher, e scrape.Extractor, c scrape.Cache, m *metrics.Metrics) *scrape.Coordinator {
	log, _ := test.NewNullLogger()
	return scrape.New(sourceURL, cache.DefaultRetention, f, e, c, m, log)
}

func TestRunCycle_FreshSkips(t *testing.T) {
	t.Parallel()

	f, e, c := &fakeFetcher{}, &fakeExtractor{}, &fakeCache{fresh: true}
	m := metrics.Nop()

	outcome, err := newCoordinator(f, e, c, m).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scrape.Skipped, outcome)
	assert.Zero(t, f.calls)
	assert.Zero(t, e.calls)
	assert.Zero(t, c.writes)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScrapeCycles.WithLabelValues("skipped")))
}

func TestRunCycle_StaleRefreshes(t *testing.T) {
	t.Parallel()

	records := []model.RawIndication{{ID: 1, Title: "Hypertension", Text: "High blood pressure"}}
	f := &fakeFetcher{body: []byte("<html/>")}
	e := &fakeExtractor{records: records}
	c := &fakeCache{}
	m := metrics.Nop()

	outcome, err := newCoordinator(f, e, c, m).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scrape.Refreshed, outcome)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, sourceURL, f.url)
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, 1, c.writes)
	assert.Equal(t, records, c.written)
	assert.Equal(t, 7*24*time.Hour, c.retention)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsScraped))
}

func TestRunCycle_FetchErrorLeavesCache(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	f, e, c := &fakeFetcher{err: boom}, &fakeExtractor{}, &fakeCache{}

	_, err := newCoordinator(f, e, c, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, e.calls)
	assert.Zero(t, c.writes)
}

func TestRunCycle_ExtractionErrorLeavesCache(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{body: []byte("<html/>")}
	e := &fakeExtractor{err: extractor.ErrExtraction}
	c := &fakeCache{}

	_, err := newCoordinator(f, e, c, nil).RunCycle(context.Background())
	require.ErrorIs(t, err, extractor.ErrExtraction)
	assert.Zero(t, c.writes)
}

func TestRunCycle_WriteError(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{body: []byte("<html/>")}
	e := &fakeExtractor{}
	c := &fakeCache{err: errors.New("disk full")}

	outcome, err := newCoordinator(f, e, c, nil).RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, scrape.Skipped, outcome)
}

// A snapshot that expires in a day is fresh, so no fetch happens.
func TestRunCycle_WithFileCache(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := cache.NewStore(filepath.Join(t.TempDir(), "snapshot.json"), cache.WithClock(func() time.Time { return now }))
	require.NoError(t, store.Write(
		[]model.RawIndication{{ID: 1, Title: "Hypertension", Text: "High blood pressure"}},
		24*time.Hour,
	))
	require.True(t, store.IsFresh())

	f := &fakeFetcher{}
	outcome, err := newCoordinator(f, &fakeExtractor{}, store, nil).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scrape.Skipped, outcome)
	assert.Zero(t, f.calls)
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "refreshed", scrape.Refreshed.String())
	assert.Equal(t, "skipped", scrape.Skipped.String())
}
