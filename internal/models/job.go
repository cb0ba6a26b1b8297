package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	StatusScheduled   JobStatus = "scheduled"
	StatusInProgress  JobStatus = "in_progress"
	StatusPaused      JobStatus = "paused"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusInterrupted JobStatus = "interrupted"
)

// transitions lists the allowed status changes. Resume goes back through
// scheduled so the scheduler remains the only component that starts work.
var transitions = map[JobStatus][]JobStatus{
	StatusScheduled:   {StatusInProgress, StatusPaused},
	StatusInProgress:  {StatusCompleted, StatusFailed, StatusPaused, StatusInterrupted},
	StatusPaused:      {StatusScheduled, StatusInProgress},
	StatusInterrupted: {StatusScheduled, StatusInProgress},
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the job still owns its (source, dataset) slot.
func (s JobStatus) IsActive() bool {
	return !s.IsTerminal()
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses that block a second job for the same dataset.
func ActiveStatuses() []JobStatus {
	return []JobStatus{StatusScheduled, StatusInProgress, StatusPaused, StatusInterrupted}
}

// ExtractionJob is the durable state of one extraction run over a dataset.
type ExtractionJob struct {
	ID                    int64              `json:"id"`
	Source                string             `json:"source"`
	DatasetName           string             `json:"dataset_name"`
	Status                JobStatus          `json:"status"`
	Files                 []string           `json:"files"`
	TotalFiles            int                `json:"total_files"`
	ProcessedFiles        int                `json:"processed_files"`
	CurrentFile           string             `json:"current_file"`
	CurrentFileIndex      int                `json:"current_file_index"`
	CurrentFileChunks     int                `json:"current_file_chunks"`
	CurrentFileChunk      int                `json:"current_file_chunk"`
	TotalChunks           int                `json:"total_chunks"`
	ProcessedChunks       int                `json:"processed_chunks"`
	MergedData            map[string]any     `json:"merged_data"`
	MergedConfidence      map[string]float64 `json:"merged_confidence,omitempty"`
	MergeReasoningHistory []ReasoningRecord  `json:"merge_reasoning_history"`
	Message               string             `json:"message"`
	StartTime             *time.Time         `json:"start_time,omitempty"`
	EndTime               *time.Time         `json:"end_time,omitempty"`
	Duration              float64            `json:"duration"`
	SchemaSnapshot        json.RawMessage    `json:"schema_snapshot"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// Key identifies the job's dataset.
func (j *ExtractionJob) Key() DatasetKey {
	return DatasetKey{Source: j.Source, Dataset: j.DatasetName}
}

// ResetFileState clears the per-file accumulator once a file is finished.
func (j *ExtractionJob) ResetFileState() {
	j.MergedData = map[string]any{}
	j.MergedConfidence = map[string]float64{}
	j.MergeReasoningHistory = []ReasoningRecord{}
	j.CurrentFileChunks = 0
	j.CurrentFileChunk = 0
}

// DatasetKey is the identity of a dataset across storage backends.
type DatasetKey struct {
	Source  string `json:"source"`
	Dataset string `json:"dataset_name"`
}

func (k DatasetKey) String() string {
	return k.Source + "/" + k.Dataset
}

// ReasoningRecord is one merge step's audit entry.
type ReasoningRecord struct {
	Timestamp   time.Time         `json:"timestamp"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	Reasoning   map[string]string `json:"reasoning"`
	IsFinal     bool              `json:"is_final"`
}

// FileStatus is the outcome of one file inside a job.
type FileStatus string

const (
	FileSuccess FileStatus = "success"
	FileError   FileStatus = "error"
)

// FileExtractionResult is persisted once a file has been fully processed or given up on.
type FileExtractionResult struct {
	ID           int64      `json:"id"`
	JobID        int64      `json:"job_id"`
	Filename     string     `json:"filename"`
	Status       FileStatus `json:"status"`
	OutputRef    string     `json:"output_ref,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Chunks       int        `json:"chunks"`
	CreatedAt    time.Time  `json:"created_at"`
}
