package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/llm"
	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/storage"
	"github.com/vrsandeep/extract-go/internal/store"
	"github.com/vrsandeep/extract-go/internal/util"
)

// Trigger asks the scheduler to look for work now.
type Trigger interface {
	ScanNow()
}

// Manager is the control surface for extraction jobs: start, pause, resume,
// status, delete and results. It only changes persisted state; the scheduler
// does the work.
type Manager struct {
	store    *store.Store
	storages *storage.Registry
	events   Broadcaster
	trigger  Trigger
	log      *zap.Logger
}

// NewManager creates a manager. trigger may be nil, in which case new work is
// picked up on the next scheduler tick.
func NewManager(st *store.Store, storages *storage.Registry, events Broadcaster, trigger Trigger, log *zap.Logger) *Manager {
	if events == nil {
		events = nopBroadcaster{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: st, storages: storages, events: events, trigger: trigger, log: log}
}

// SetTrigger installs the scheduler once it exists.
func (m *Manager) SetTrigger(t Trigger) {
	m.trigger = t
}

// Start schedules an extraction of the dataset with the given schema. If a
// job for the dataset is already active it is returned unchanged. A finished
// job is replaced by the new one.
func (m *Manager) Start(ctx context.Context, source, dataset string, schema json.RawMessage) (*models.ExtractionJob, error) {
	if err := m.validateKey(source, dataset); err != nil {
		return nil, err
	}
	if isEmptySchema(schema) {
		return nil, fmt.Errorf("%w: schema is empty", ErrInvalidSchema)
	}
	if _, err := llm.CompileSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	backend, _ := m.storages.Get(source)
	if _, err := backend.ListFiles(ctx, dataset); err != nil {
		if errors.Is(err, storage.ErrDatasetNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrDatasetNotFound, source, dataset)
		}
		return nil, err
	}

	job := &models.ExtractionJob{
		Source:         source,
		DatasetName:    dataset,
		Status:         models.StatusScheduled,
		Files:          []string{},
		SchemaSnapshot: schema,
		Message:        "Extraction scheduled",
	}
	got, created, err := m.store.CreateOrGetActive(ctx, job)
	if err != nil {
		return nil, err
	}
	if !created {
		m.log.Info("Extraction already active", zap.String("source", source), zap.String("dataset", dataset),
			zap.String("status", string(got.Status)))
		return got, nil
	}

	m.log.Info("Extraction scheduled", zap.String("source", source), zap.String("dataset", dataset), zap.Int64("job_id", got.ID))
	publish(m.events, models.EventExtractionState, got)
	m.scanNow()
	return got, nil
}

// Pause asks a scheduled or running job to stop after its current chunk.
// Pausing a paused job is a no-op.
func (m *Manager) Pause(ctx context.Context, source, dataset string) error {
	job, err := m.transition(ctx, source, dataset, models.StatusPaused, msgPausedByUser)
	if err != nil {
		return err
	}
	publish(m.events, models.EventExtractionState, job)
	return nil
}

// Resume reschedules a paused or interrupted job. Resuming a job that is
// already scheduled or running is a no-op.
func (m *Manager) Resume(ctx context.Context, source, dataset string) error {
	job, err := m.transition(ctx, source, dataset, models.StatusScheduled, "Extraction resumed")
	if errors.Is(err, ErrInvalidTransition) && job != nil && job.Status == models.StatusInProgress {
		return nil
	}
	if err != nil {
		return err
	}
	publish(m.events, models.EventExtractionState, job)
	m.scanNow()
	return nil
}

// transition moves the job to `to` from any status allowed to reach it.
func (m *Manager) transition(ctx context.Context, source, dataset string, to models.JobStatus, message string) (*models.ExtractionJob, error) {
	if err := m.validateKey(source, dataset); err != nil {
		return nil, err
	}
	var from []models.JobStatus
	for _, st := range models.ActiveStatuses() {
		if models.CanTransition(st, to) {
			from = append(from, st)
		}
	}

	job, err := m.store.SetJobStatus(ctx, source, dataset, from, to, message)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrStatusConflict):
		if job.Status == to {
			return job, nil
		}
		return job, fmt.Errorf("%w: cannot move %s job to %s", ErrInvalidTransition, job.Status, to)
	case err != nil:
		return nil, err
	}
	m.log.Info("Extraction status changed", zap.String("source", source), zap.String("dataset", dataset),
		zap.String("status", string(to)))
	return job, nil
}

// Status returns the persisted job of the dataset.
func (m *Manager) Status(ctx context.Context, source, dataset string) (*models.ExtractionJob, error) {
	job, err := m.store.GetJob(ctx, source, dataset)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return job, err
}

// Delete removes the dataset's job and its file results. A running job stops
// at its next chunk boundary.
func (m *Manager) Delete(ctx context.Context, source, dataset string) error {
	err := m.store.DeleteJob(ctx, source, dataset)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	m.log.Info("Extraction job deleted", zap.String("source", source), zap.String("dataset", dataset))
	return nil
}

// Results lists the per-file outcomes of the dataset's job.
func (m *Manager) Results(ctx context.Context, source, dataset string) ([]*models.FileExtractionResult, error) {
	job, err := m.Status(ctx, source, dataset)
	if err != nil {
		return nil, err
	}
	return m.store.ListFileResults(ctx, job.ID)
}

// List returns every job.
func (m *Manager) List(ctx context.Context) ([]*models.ExtractionJob, error) {
	return m.store.ListJobs(ctx)
}

func (m *Manager) validateKey(source, dataset string) error {
	if err := util.ValidateName(source); err != nil {
		return fmt.Errorf("%w: source: %v", ErrInvalidInput, err)
	}
	if err := util.ValidateName(dataset); err != nil {
		return fmt.Errorf("%w: dataset: %v", ErrInvalidInput, err)
	}
	if _, err := m.storages.Get(source); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (m *Manager) scanNow() {
	if m.trigger != nil {
		m.trigger.ScanNow()
	}
}
