package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/store"
)

const msgInterruptedRestart = "Extraction was interrupted by server restart"

// Runner executes a claimed job. *Orchestrator is the production Runner.
type Runner interface {
	Run(ctx context.Context, job *models.ExtractionJob) error
}

// SchedulerConfig holds the scan interval and the worker pool size.
type SchedulerConfig struct {
	Interval          time.Duration
	MaxConcurrentJobs int
}

// Scheduler periodically picks up scheduled jobs and runs them on a bounded
// pool of workers, never running two jobs for the same dataset at once.
type Scheduler struct {
	cfg    SchedulerConfig
	store  *store.Store
	runner Runner
	events Broadcaster
	log    *zap.Logger

	cron   *gocron.Scheduler
	slots  chan struct{}
	scanMu sync.Mutex

	mu      sync.Mutex
	running map[models.DatasetKey]bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig, st *store.Store, runner Runner, events Broadcaster, log *zap.Logger) *Scheduler {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if events == nil {
		events = nopBroadcaster{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		runner:  runner,
		events:  events,
		log:     log,
		slots:   make(chan struct{}, cfg.MaxConcurrentJobs),
		running: make(map[models.DatasetKey]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start reclassifies jobs left in progress by a previous process, then scans
// for scheduled jobs immediately and every interval.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}

	s.cron = gocron.NewScheduler(time.UTC)
	s.cron.SingletonModeAll()
	_, err := s.cron.Every(s.cfg.Interval).Do(func() {
		s.Scan()
	})
	if err != nil {
		return fmt.Errorf("schedule extraction scan: %w", err)
	}
	s.log.Info("Starting extraction scheduler",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_concurrent_jobs", s.cfg.MaxConcurrentJobs),
	)
	s.cron.StartAsync()
	return nil
}

// Stop halts scanning, cancels running jobs and waits for them to record
// their state.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cancel()
	// Wait for an in-flight scan; later scans see the cancelled context.
	s.scanMu.Lock()
	s.scanMu.Unlock()
	s.wg.Wait()
}

// RecoverInterrupted marks every in_progress job as interrupted. Such jobs
// belong to a process that died; they are resumed only on request.
func (s *Scheduler) RecoverInterrupted(ctx context.Context) (int, error) {
	stale, err := s.store.ListJobsByStatus(ctx, models.StatusInProgress)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range stale {
		updated, err := s.store.SetJobStatus(ctx, job.Source, job.DatasetName,
			[]models.JobStatus{models.StatusInProgress}, models.StatusInterrupted, msgInterruptedRestart)
		if err != nil {
			s.log.Warn("Could not mark job interrupted",
				zap.String("source", job.Source), zap.String("dataset", job.DatasetName), zap.Error(err))
			continue
		}
		n++
		publish(s.events, models.EventExtractionState, updated)
	}
	if n > 0 {
		s.log.Info("Marked jobs from a previous run as interrupted", zap.Int("count", n))
	}
	return n, nil
}

// ScanNow triggers a scan without waiting for the next tick.
func (s *Scheduler) ScanNow() {
	go s.Scan()
}

// Scan claims as many scheduled jobs as there are free workers. Errors are
// logged; the next scan retries.
func (s *Scheduler) Scan() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	pending, err := s.store.ListJobsByStatus(s.ctx, models.StatusScheduled)
	if err != nil {
		s.log.Error("Failed to list scheduled jobs", zap.Error(err))
		return
	}

	for _, job := range pending {
		key := job.Key()
		if s.isRunning(key) {
			continue
		}
		select {
		case s.slots <- struct{}{}:
		default:
			s.log.Debug("All extraction workers busy", zap.Int("waiting", len(pending)))
			return
		}

		claimed, err := s.store.ClaimJob(s.ctx, job.ID)
		if err != nil || !claimed {
			<-s.slots
			if err != nil {
				s.log.Error("Failed to claim job", zap.String("dataset", key.String()), zap.Error(err))
			}
			continue
		}
		job.Status = models.StatusInProgress

		s.setRunning(key, true)
		s.wg.Add(1)
		go s.work(job)
	}
}

func (s *Scheduler) work(job *models.ExtractionJob) {
	key := job.Key()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Extraction job panicked", zap.String("dataset", key.String()), zap.Any("panic", r))
			_, err := s.store.SetJobStatus(context.Background(), job.Source, job.DatasetName,
				[]models.JobStatus{models.StatusInProgress}, models.StatusFailed, fmt.Sprintf("Extraction panicked: %v", r))
			if err != nil {
				s.log.Error("Failed to record panic", zap.Error(err))
			}
		}
		s.setRunning(key, false)
		<-s.slots
		s.wg.Done()
		// A freed slot may unblock a waiting job.
		if s.ctx.Err() == nil {
			s.ScanNow()
		}
	}()

	if err := s.runner.Run(s.ctx, job); err != nil {
		s.log.Warn("Extraction run ended with error", zap.String("dataset", key.String()), zap.Error(err))
	}
}

func (s *Scheduler) isRunning(key models.DatasetKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[key]
}

func (s *Scheduler) setRunning(key models.DatasetKey, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running {
		s.running[key] = true
	} else {
		delete(s.running, key)
	}
}

// Running lists the datasets with a job executing in this process.
func (s *Scheduler) Running() []models.DatasetKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]models.DatasetKey, 0, len(s.running))
	for k := range s.running {
		keys = append(keys, k)
	}
	return keys
}
