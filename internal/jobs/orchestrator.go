package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/chunker"
	"github.com/vrsandeep/extract-go/internal/llm"
	"github.com/vrsandeep/extract-go/internal/logger"
	"github.com/vrsandeep/extract-go/internal/merge"
	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/storage"
	"github.com/vrsandeep/extract-go/internal/store"
)

const (
	msgInterruptedShutdown = "Extraction was interrupted by server shutdown"
	msgPausedByUser        = "Extraction paused by user"
)

// TextConverter turns a dataset file into text.
type TextConverter interface {
	ToText(ctx context.Context, source, dataset, name string, content []byte) (string, error)
}

// OrchestratorConfig holds the tunables of a run.
type OrchestratorConfig struct {
	MaxChunkSize int
	// MaxRetries is the number of retries after the first failed model call.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// CallTimeout bounds a single model call; zero means no bound.
	CallTimeout time.Duration
}

// Orchestrator drives one job through its files and chunks: split, extract,
// merge, persist, broadcast. Within a job everything is sequential.
type Orchestrator struct {
	store     *store.Store
	storages  *storage.Registry
	converter TextConverter
	extractor llm.Extractor
	splitter  *chunker.Splitter
	events    Broadcaster
	cfg       OrchestratorConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewOrchestrator wires an orchestrator. A nil events discards progress events.
func NewOrchestrator(cfg OrchestratorConfig, st *store.Store, storages *storage.Registry, converter TextConverter,
	extractor llm.Extractor, events Broadcaster, log *zap.Logger) *Orchestrator {
	if events == nil {
		events = nopBroadcaster{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	return &Orchestrator{
		store:     st,
		storages:  storages,
		converter: converter,
		extractor: extractor,
		splitter:  chunker.New(cfg.MaxChunkSize),
		events:    events,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run processes a claimed job until it completes, fails, is paused or
// removed, or ctx is cancelled. A cancelled run leaves the job interrupted.
func (o *Orchestrator) Run(ctx context.Context, job *models.ExtractionJob) error {
	log := logger.ForDataset(o.log, job.Source, job.DatasetName).With(zap.Int64("job_id", job.ID))
	log.Info("Extraction run starting",
		zap.Int("file_index", job.CurrentFileIndex),
		zap.Int("chunk", job.CurrentFileChunk),
	)

	err := o.run(ctx, job, log)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPaused):
		log.Info("Extraction paused", zap.Int("processed_chunks", job.ProcessedChunks))
		return nil
	case errors.Is(err, errRemoved):
		log.Info("Extraction job was deleted or finished elsewhere, stopping")
		return nil
	case ctx.Err() != nil:
		o.interrupt(job, log)
		return ctx.Err()
	default:
		o.fail(job, err, log)
		return err
	}
}

func (o *Orchestrator) run(ctx context.Context, job *models.ExtractionJob, log *zap.Logger) error {
	backend, err := o.storages.Get(job.Source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJobLevel, err)
	}
	if isEmptySchema(job.SchemaSnapshot) {
		return fmt.Errorf("%w: extraction schema is missing", ErrJobLevel)
	}
	engine, err := merge.NewEngine(job.SchemaSnapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJobLevel, err)
	}

	if err := o.prepareFiles(ctx, job, backend); err != nil {
		return err
	}

	job.Status = models.StatusInProgress
	if job.StartTime == nil {
		start := o.now()
		job.StartTime = &start
	}
	job.Message = fmt.Sprintf("Extracting %d files", job.TotalFiles)
	if err := o.save(ctx, job); err != nil {
		return err
	}
	publish(o.events, models.EventExtractionState, job)

	for job.CurrentFileIndex < len(job.Files) {
		if err := o.processFile(ctx, job, backend, engine, log); err != nil {
			return err
		}
	}

	end := o.now()
	job.Status = models.StatusCompleted
	job.EndTime = &end
	job.Duration = end.Sub(*job.StartTime).Seconds()
	job.CurrentFile = ""
	job.Message = fmt.Sprintf("Extraction completed: %d of %d files processed", job.ProcessedFiles, job.TotalFiles)
	if err := o.save(ctx, job); err != nil {
		return err
	}
	if job.Status == models.StatusPaused {
		// Paused after the last file; resuming completes it without extracting.
		return errPaused
	}
	publish(o.events, models.EventExtractionCompleted, job)
	log.Info("Extraction completed",
		zap.Int("files", job.ProcessedFiles),
		zap.Int("chunks", job.ProcessedChunks),
		zap.Float64("duration_seconds", job.Duration),
	)
	return nil
}

// prepareFiles captures the file list the first time a job runs. Later runs
// keep that list; a listed file that disappeared fails the job.
func (o *Orchestrator) prepareFiles(ctx context.Context, job *models.ExtractionJob, backend storage.Storage) error {
	listed, err := backend.ListFiles(ctx, job.DatasetName)
	if err != nil {
		return fmt.Errorf("%w: list dataset: %v", ErrJobLevel, err)
	}

	if job.StartTime == nil {
		job.Files = storage.FileNames(listed)
		job.TotalFiles = len(job.Files)
		return nil
	}

	present := make(map[string]bool, len(listed))
	for _, f := range listed {
		present[f.Name] = true
	}
	var missing []string
	for _, name := range job.Files[job.CurrentFileIndex:] {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: dataset changed since the job started, missing files: %s",
			ErrJobLevel, strings.Join(missing, ", "))
	}
	return nil
}

func (o *Orchestrator) processFile(ctx context.Context, job *models.ExtractionJob, backend storage.Storage,
	engine *merge.Engine, log *zap.Logger) error {
	name := job.Files[job.CurrentFileIndex]
	job.CurrentFile = name
	flog := log.With(zap.String("file", name))

	if err := o.checkRunnable(ctx, job); err != nil {
		return err
	}

	content, err := backend.ReadFile(ctx, job.DatasetName, name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.finishFile(ctx, job, models.FileError, "", fmt.Sprintf("read file: %v", err), flog)
	}
	text, err := o.converter.ToText(ctx, job.Source, job.DatasetName, name, content)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.finishFile(ctx, job, models.FileError, "", fmt.Sprintf("convert file: %v", err), flog)
	}
	chunks := o.splitter.Split(text)

	// CurrentFileChunks is set once per file, so its chunks are counted once
	// even when the file is resumed.
	if job.CurrentFileChunks == 0 {
		job.ResetFileState()
		job.CurrentFileChunks = len(chunks)
		job.TotalChunks += len(chunks)
		job.Message = fmt.Sprintf("Processing file %s", name)
		if err := o.save(ctx, job); err != nil {
			return err
		}
	} else if job.CurrentFileChunks != len(chunks) {
		return fmt.Errorf("%w: file %s changed since extraction started (%d chunks, was %d)",
			ErrJobLevel, name, len(chunks), job.CurrentFileChunks)
	}
	flog.Debug("Processing file", zap.Int("chunks", len(chunks)), zap.Int("resume_at", job.CurrentFileChunk))

	acc := merge.Accumulator{Data: job.MergedData, Confidence: job.MergedConfidence}
	for i := job.CurrentFileChunk; i < len(chunks); i++ {
		if err := o.checkRunnable(ctx, job); err != nil {
			return err
		}

		result, err := o.extract(ctx, llm.ChunkRequest{
			Text:        chunks[i],
			Schema:      job.SchemaSnapshot,
			FileName:    name,
			ChunkIndex:  i + 1,
			TotalChunks: len(chunks),
		}, flog)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.finishFile(ctx, job, models.FileError, "",
				fmt.Sprintf("chunk %d/%d: %v", i+1, len(chunks), err), flog)
		}

		var rec models.ReasoningRecord
		acc, rec = engine.Merge(acc, result, merge.Position{Index: i + 1, Total: len(chunks), At: o.now()})
		job.MergedData = acc.Data
		job.MergedConfidence = acc.Confidence
		job.MergeReasoningHistory = append(job.MergeReasoningHistory, rec)
		job.CurrentFileChunk = i + 1
		job.ProcessedChunks++
		job.Message = fmt.Sprintf("Processed chunk %d/%d of %s", i+1, len(chunks), name)
		if err := o.save(ctx, job); err != nil {
			return err
		}

		publish(o.events, models.EventChunkProgress, job)
		publish(o.events, models.EventMergeReasoning, job, func(ev *models.ProgressEvent) {
			ev.Reasoning = &rec
		})
		if job.Status == models.StatusPaused {
			return errPaused
		}
	}

	ref, err := o.writeOutput(ctx, job, backend)
	if err != nil {
		return o.finishFile(ctx, job, models.FileError, "", fmt.Sprintf("write output: %v", err), flog)
	}
	return o.finishFile(ctx, job, models.FileSuccess, ref, "", flog)
}

// finishFile records the file's outcome and moves the job to the next file.
func (o *Orchestrator) finishFile(ctx context.Context, job *models.ExtractionJob, status models.FileStatus,
	ref, errMsg string, log *zap.Logger) error {
	name := job.CurrentFile
	result := &models.FileExtractionResult{
		JobID:        job.ID,
		Filename:     name,
		Status:       status,
		OutputRef:    ref,
		ErrorMessage: errMsg,
		Chunks:       job.CurrentFileChunks,
	}
	if err := o.store.SaveFileResult(ctx, result); err != nil {
		return fmt.Errorf("%w: save file result: %v", ErrJobLevel, err)
	}
	if status == models.FileError {
		log.Warn("File extraction failed", zap.String("error", errMsg))
	} else {
		log.Info("File extracted", zap.String("output", ref), zap.Int("chunks", job.CurrentFileChunks))
	}

	job.ProcessedFiles++
	job.CurrentFileIndex++
	job.ResetFileState()
	next := ""
	if job.CurrentFileIndex < len(job.Files) {
		next = job.Files[job.CurrentFileIndex]
	}
	job.Message = fmt.Sprintf("Finished %s (%d of %d files)", name, job.ProcessedFiles, job.TotalFiles)
	if err := o.save(ctx, job); err != nil {
		return err
	}

	publish(o.events, models.EventFileCompleted, job, func(ev *models.ProgressEvent) {
		ev.CompletedFile = name
		ev.FileStatus = status
		ev.NextFile = next
		if errMsg != "" {
			ev.Message = errMsg
		}
	})
	if job.Status == models.StatusPaused {
		return errPaused
	}
	return nil
}

type outputDocument struct {
	File           string                   `json:"file"`
	Data           map[string]any           `json:"data"`
	Confidence     map[string]float64       `json:"confidence,omitempty"`
	MergeReasoning []models.ReasoningRecord `json:"merge_reasoning"`
	ExtractedAt    time.Time                `json:"extracted_at"`
}

func (o *Orchestrator) writeOutput(ctx context.Context, job *models.ExtractionJob, backend storage.Storage) (string, error) {
	doc := outputDocument{
		File:           job.CurrentFile,
		Data:           job.MergedData,
		Confidence:     job.MergedConfidence,
		MergeReasoning: job.MergeReasoningHistory,
		ExtractedAt:    o.now(),
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return backend.WriteOutput(ctx, job.DatasetName, job.CurrentFile, b)
}

// extract calls the model, retrying transient failures with exponential backoff.
func (o *Orchestrator) extract(ctx context.Context, req llm.ChunkRequest, log *zap.Logger) (models.ChunkResult, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.RetryInitial
	expo.MaxInterval = o.cfg.RetryMax
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(max(o.cfg.MaxRetries, 0))), ctx)

	op := func() (models.ChunkResult, error) {
		callCtx := ctx
		if o.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
			defer cancel()
		}
		result, err := o.extractor.Extract(callCtx, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return models.ChunkResult{}, backoff.Permanent(ctx.Err())
		}
		if !llm.IsTransient(err) {
			return models.ChunkResult{}, backoff.Permanent(err)
		}
		return models.ChunkResult{}, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("Model call failed, retrying",
			zap.Int("chunk", req.ChunkIndex),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotifyWithData[models.ChunkResult](op, policy, notify)
}

// checkRunnable re-reads the job so a pause or delete issued through the
// API stops the loop between chunks.
func (o *Orchestrator) checkRunnable(ctx context.Context, job *models.ExtractionJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := o.store.GetJobByID(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		return errRemoved
	}
	if err != nil {
		return fmt.Errorf("%w: read job status: %v", ErrJobLevel, err)
	}
	switch current.Status {
	case models.StatusPaused:
		job.Status = models.StatusPaused
		job.Message = current.Message
		return errPaused
	case models.StatusInProgress:
		return nil
	}
	return errRemoved
}

// save persists the job. A pause recorded meanwhile is kept and reflected in
// job.Status.
func (o *Orchestrator) save(ctx context.Context, job *models.ExtractionJob) error {
	err := o.store.UpdateJob(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTerminal):
		return errRemoved
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%w: persist progress: %v", ErrJobLevel, err)
}

func (o *Orchestrator) fail(job *models.ExtractionJob, cause error, log *zap.Logger) {
	ctx := context.Background()
	end := o.now()
	job.Status = models.StatusFailed
	job.EndTime = &end
	if job.StartTime != nil {
		job.Duration = end.Sub(*job.StartTime).Seconds()
	}
	job.Message = "Extraction failed: " + strings.TrimPrefix(cause.Error(), ErrJobLevel.Error()+": ")
	log.Error("Extraction failed", zap.Error(cause))
	if err := o.store.UpdateJob(ctx, job); err != nil {
		log.Error("Failed to record job failure", zap.Error(err))
		return
	}
	publish(o.events, models.EventExtractionState, job)
}

func (o *Orchestrator) interrupt(job *models.ExtractionJob, log *zap.Logger) {
	updated, err := o.store.SetJobStatus(context.Background(), job.Source, job.DatasetName,
		[]models.JobStatus{models.StatusInProgress}, models.StatusInterrupted, msgInterruptedShutdown)
	if err != nil {
		log.Warn("Could not mark job interrupted", zap.Error(err))
		return
	}
	log.Info("Extraction interrupted", zap.Int("processed_chunks", updated.ProcessedChunks))
	publish(o.events, models.EventExtractionState, updated)
}

// isEmptySchema reports whether raw has nothing to extract.
func isEmptySchema(raw json.RawMessage) bool {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw)) == ""
	}
	s := buf.String()
	return s == "" || s == "null" || s == "{}"
}
