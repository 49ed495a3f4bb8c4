// Package scheduler drives the scrape cycle on a cron schedule and starts a
// mapping cycle whenever a scrape refreshes the snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dailymed-etl/internal/mapping"
	"dailymed-etl/internal/metrics"
	"dailymed-etl/internal/scrape"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrCycleInProgress is returned when a cycle of the same kind is running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Scraper runs one scrape cycle.
type Scraper interface {
	RunCycle(ctx context.Context) (scrape.Outcome, error)
}

// Mapper runs one mapping cycle to completion.
type Mapper interface {
	Run(ctx context.Context) (mapping.Summary, error)
}

// Scheduler owns the cron trigger and the scrape → mapping hand-off. At most
// one scrape and one mapping cycle run at any time.
type Scheduler struct {
	spec    string
	scraper Scraper
	mapper  Mapper
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	cron *cron.Cron

	scraping atomic.Bool

	mapMu   sync.Mutex
	running *mapping.Task // nil when no mapping cycle is in flight

	// refreshed carries "snapshot refreshed" events to the mapping loop.
	// Pending events coalesce.
	refreshed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec and returns an unstarted Scheduler.
func New(spec string, s Scraper, m Mapper, met *metrics.Metrics, log logrus.FieldLogger) (*Scheduler, error) {
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if met == nil {
		met = metrics.Nop()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	log = log.WithField("component", "scheduler")
	cronLog := cron.PrintfLogger(log)

	return &Scheduler{
		spec:      spec,
		scraper:   s,
		mapper:    m,
		metrics:   met,
		log:       log,
		cron:      cron.New(cron.WithParser(parser), cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog))),
		refreshed: make(chan struct{}, 1),
	}, nil
}

// Start registers the cron trigger, starts the mapping loop and runs one
// scrape cycle immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.spec, s.trigger); err != nil {
		return fmt.Errorf("schedule scrape: %w", err)
	}

	s.wg.Add(1)
	go s.mappingLoop()

	s.cron.Start()
	s.log.WithField("schedule", s.spec).Info("scheduler started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trigger()
	}()
	return nil
}

// Stop halts the trigger, cancels running cycles and waits for them.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-cronCtx.Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunScrapeCycle runs one scrape cycle and reports whether the snapshot was
// refreshed. A refresh queues a mapping cycle.
func (s *Scheduler) RunScrapeCycle(ctx context.Context) (bool, error) {
	if !s.scraping.CompareAndSwap(false, true) {
		s.metrics.ScrapeCycles.WithLabelValues(metrics.OutcomeOverlap).Inc()
		return false, fmt.Errorf("scrape: %w", ErrCycleInProgress)
	}
	defer s.scraping.Store(false)

	outcome, err := s.scraper.RunCycle(ctx)
	if err != nil {
		return false, err
	}
	if outcome != scrape.Refreshed {
		return false, nil
	}

	select {
	case s.refreshed <- struct{}{}:
	default:
	}
	return true, nil
}

// RunMappingCycle starts a mapping cycle in the background. Callers observe
// completion through the returned task.
func (s *Scheduler) RunMappingCycle(ctx context.Context) (*mapping.Task, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if s.running != nil {
		s.metrics.MappingCycles.WithLabelValues(metrics.OutcomeOverlap).Inc()
		return nil, fmt.Errorf("mapping: %w", ErrCycleInProgress)
	}

	s.running = mapping.Start(ctx, func(ctx context.Context) (mapping.Summary, error) {
		defer s.clearRunning()
		return s.mapper.Run(ctx)
	})
	return s.running, nil
}

func (s *Scheduler) clearRunning() {
	s.mapMu.Lock()
	s.running = nil
	s.mapMu.Unlock()
}

func (s *Scheduler) runningMapping() *mapping.Task {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	return s.running
}

// startMapping starts a cycle for a refresh event. A cycle already in flight
// may have read the previous snapshot, so it is awaited and a new one started.
func (s *Scheduler) startMapping() (*mapping.Task, error) {
	for {
		task, err := s.RunMappingCycle(s.ctx)
		if !errors.Is(err, ErrCycleInProgress) {
			return task, err
		}

		running := s.runningMapping()
		if running == nil {
			continue
		}
		s.log.Info("mapping cycle in progress, rerunning once it finishes")
		select {
		case <-running.Done():
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
	}
}

// Refreshed exposes pending refresh events; used by callers that run cycles
// without Start.
func (s *Scheduler) Refreshed() <-chan struct{} {
	return s.refreshed
}

func (s *Scheduler) trigger() {
	log := s.log.WithField("cycle", uuid.NewString())

	refreshed, err := s.RunScrapeCycle(s.ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		log.Warn("previous scrape still running, skipping trigger")
	case err != nil:
		log.WithError(err).Error("scrape cycle failed")
	default:
		log.WithField("refreshed", refreshed).Debug("scrape cycle finished")
	}
}

func (s *Scheduler) mappingLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.refreshed:
		}

		task, err := s.startMapping()
		if err != nil {
			s.log.WithError(err).Warn("mapping not started")
			continue
		}

		// The cycle observes s.ctx; Stop waits for it to settle.
		summary, err := task.Wait(context.Background())
		if err != nil {
			s.log.WithError(err).Error("mapping cycle failed")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"classified": summary.Classified,
			"failed":     summary.Failed,
			"persisted":  summary.Persisted,
		}).Info("mapping cycle finished")
	}
}
