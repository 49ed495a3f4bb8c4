// Package mapping classifies the cached indications and replaces the stored
// collection with the result.
package mapping

import (
	"context"
	"fmt"
	"time"

	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/model"
	"dailymed-etl/internal/store"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps in-flight classification calls when none is set.
const DefaultConcurrency = 4

// Classifier returns the code for one indication.
type Classifier interface {
	Classify(ctx context.Context, title, text string) (string, error)
}

// SnapshotReader is the read side of the snapshot cache.
type SnapshotReader interface {
	Read() (*model.Snapshot, bool)
}

// Summary describes one mapping cycle.
type Summary struct {
	Total      int `json:"total"`
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
	Persisted  int `json:"persisted"`
	// Skipped is true when there was no snapshot data and storage was not
	// touched.
	Skipped bool `json:"skipped"`
}

// result is the settled outcome of one classification call.
type result struct {
	code string
	err  error
}

// Orchestrator runs mapping cycles.
type Orchestrator struct {
	cache       SnapshotReader
	classifier  Classifier
	repo        store.Repository
	concurrency int
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
}

// New constructs an Orchestrator. concurrency <= 0 uses DefaultConcurrency.
func New(cache SnapshotReader, cl Classifier, repo store.Repository, concurrency int, m *metrics.Metrics, log logrus.FieldLogger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if m == nil {
		m = metrics.Nop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		cache:       cache,
		classifier:  cl,
		repo:        repo,
		concurrency: concurrency,
		metrics:     m,
		log:         log.WithField("component", "mapping"),
	}
}

// Run performs one cycle and blocks until it has finished.
//
// Every record is classified independently; a failed call only drops that
// record. Storage is replaced once all calls have settled, and is left alone
// when the snapshot is absent or empty.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	snap, ok := o.cache.Read()
	if !ok || len(snap.Data) == 0 {
		o.log.Info("no cached indications, skipping mapping")
		o.metrics.MappingCycles.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Summary{Skipped: true}, nil
	}

	start := time.Now()
	defer func() {
		o.metrics.CycleDuration.WithLabelValues("mapping").Observe(time.Since(start).Seconds())
	}()

	records := snap.Data
	results := o.classifyAll(ctx, records)

	summary := Summary{Total: len(records)}
	inds := make([]model.Indication, 0, len(records))
	for i, rec := range records {
		res := results[i]
		if res.err != nil {
			summary.Failed++
			o.metrics.Classifications.WithLabelValues("failed").Inc()
			o.log.WithFields(logrus.Fields{
				"id":    rec.ID,
				"title": rec.Title,
			}).WithError(res.err).Warn("classification failed, dropping record")
			continue
		}
		summary.Classified++
		o.metrics.Classifications.WithLabelValues("ok").Inc()
		inds = append(inds, model.NewIndication(rec, res.code))
	}

	if err := ctx.Err(); err != nil {
		o.metrics.MappingCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		return summary, fmt.Errorf("mapping cancelled before persisting: %w", err)
	}

	persisted, err := o.persist(ctx, inds)
	summary.Persisted = persisted
	if err != nil {
		o.metrics.MappingCycles.WithLabelValues(metrics.OutcomeFailed).Inc()
		return summary, err
	}

	o.metrics.MappingCycles.WithLabelValues(metrics.OutcomeCompleted).Inc()
	o.metrics.RecordsStored.Set(float64(persisted))
	o.log.WithFields(logrus.Fields{
		"total":      summary.Total,
		"classified": summary.Classified,
		"failed":     summary.Failed,
		"elapsed":    time.Since(start).Round(time.Millisecond),
	}).Info("indications mapped")

	return summary, nil
}

// classifyAll issues one call per record through a bounded pool and waits
// for all of them. Calls never return an error to the group, so one failure
// cannot cancel the others.
func (o *Orchestrator) classifyAll(ctx context.Context, records []model.RawIndication) []result {
	results := make([]result, len(records))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, rec := range records {
		g.Go(func() error {
			code, err := o.classifier.Classify(ctx, rec.Title, rec.Text)
			results[i] = result{code: code, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// persist swaps the stored collection for inds. Repositories that implement
// store.Replacer do it atomically; others get the reset-then-insert sequence.
func (o *Orchestrator) persist(ctx context.Context, inds []model.Indication) (int, error) {
	if rep, ok := o.repo.(store.Replacer); ok {
		if err := rep.Replace(ctx, inds); err != nil {
			return 0, fmt.Errorf("replace indications: %w", err)
		}
		return len(inds), nil
	}

	existing, err := o.repo.FindAll(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list existing indications: %w", err)
	}
	for _, ind := range existing {
		if err := o.repo.Delete(ctx, ind.ID); err != nil {
			return 0, fmt.Errorf("delete indication %d: %w", ind.ID, err)
		}
	}

	for i := range inds {
		if err := o.repo.Create(ctx, &inds[i]); err != nil {
			return i, fmt.Errorf("create indication %q: %w", inds[i].Indication, err)
		}
	}
	return len(inds), nil
}

// Task is a mapping cycle running in the background.
type Task struct {
	done    chan struct{}
	summary Summary
	err     error
}

// Start runs fn in a new goroutine and returns a Task tracking it.
func Start(ctx context.Context, fn func(context.Context) (Summary, error)) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.summary, t.err = fn(ctx)
	}()
	return t
}

// Execute starts Run in the background and returns immediately.
func (o *Orchestrator) Execute(ctx context.Context) *Task {
	return Start(ctx, func(ctx context.Context) (Summary, error) {
		summary, err := o.Run(ctx)
		if err != nil {
			o.log.WithError(err).Error("mapping cycle failed")
		}
		return summary, err
	})
}

// Done is closed when the cycle has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the cycle finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-t.done:
		return t.summary, t.err
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}
