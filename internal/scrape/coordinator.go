// Package scrape refreshes the cached snapshot when it has gone stale.
package scrape

import (
	"context"
	"fmt"
	"time"

	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/model"

	"github.com/sirupsen/logrus"
)

// Outcome reports what a cycle did.
type Outcome int

const (
	// Skipped means the snapshot was still fresh and nothing was touched.
	Skipped Outcome = iota
	// Refreshed means a new snapshot was written.
	Refreshed
)

func (o Outcome) String() string {
	if o == Refreshed {
		return metrics.OutcomeRefreshed
	}
	return metrics.OutcomeSkipped
}

// Fetcher retrieves the raw source document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor parses the source document into records.
type Extractor interface {
	Extract(body []byte) ([]model.RawIndication, error)
}

// Cache is the snapshot store as seen by the coordinator.
type Cache interface {
	IsFresh() bool
	Write(records []model.RawIndication, retention time.Duration) error
}

// Coordinator runs the fetch → extract → store pipeline. Nothing is written
// unless fetch and extraction both succeed.
type Coordinator struct {
	url       string
	retention time.Duration
	fetcher   Fetcher
	extractor Extractor
	cache     Cache
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// New constructs a Coordinator for the document at url.
func New(url string, retention time.Duration, f Fetcher, e Extractor, c Cache, m *metrics.Metrics, log logrus.FieldLogger) *Coordinator {
	if m == nil {
		m = metrics.Nop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		url:       url,
		retention: retention,
		fetcher:   f,
		extractor: e,
		cache:     c,
		metrics:   m,
		log:       log.WithField("component", "scrape"),
	}
}

// RunCycle refreshes the snapshot if it is stale. Fetch and extraction
// errors are returned unchanged in meaning and leave the cache untouched.
func (c *Coordinator) RunCycle(ctx context.Context) (Outcome, error) {
	if c.cache.IsFresh() {
		c.log.Debug("snapshot is fresh, skipping scrape")
		c.metrics.ScrapeCycles.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Skipped, nil
	}

	start := time.Now()
	defer func() {
		c.metrics.CycleDuration.WithLabelValues("scrape").Observe(time.Since(start).Seconds())
	}()

	c.log.WithField("url", c.url).Info("snapshot is stale, scraping source")

	records, err := c.scrape(ctx)
	if err != nil {
		c.metrics.ScrapeCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Skipped, err
	}

	if err := c.cache.Write(records, c.retention); err != nil {
		c.metrics.ScrapeCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Skipped, fmt.Errorf("store snapshot: %w", err)
	}

	c.metrics.ScrapeCycles.WithLabelValues(metrics.OutcomeRefreshed).Inc()
	c.metrics.RecordsScraped.Set(float64(len(records)))
	c.log.WithFields(logrus.Fields{
		"records": len(records),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("snapshot refreshed")

	return Refreshed, nil
}

func (c *Coordinator) scrape(ctx context.Context) ([]model.RawIndication, error) {
	body, err := c.fetcher.Fetch(ctx, c.url)
	if err != nil {
		return nil, err
	}
	return c.extractor.Extract(body)
}
