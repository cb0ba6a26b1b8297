package models

import "time"

// Event types pushed to observers of a dataset.
const (
	EventChunkProgress       = "chunk_progress"
	EventFileCompleted       = "file_completed"
	EventExtractionCompleted = "extraction_completed"
	EventExtractionState     = "extraction_state"
	EventMergeReasoning      = "merge_reasoning"
)

// ProgressEvent is the payload delivered to subscribers of a (source, dataset).
type ProgressEvent struct {
	Type              string           `json:"type"`
	Source            string           `json:"source"`
	DatasetName       string           `json:"dataset_name"`
	Status            JobStatus        `json:"status"`
	Message           string           `json:"message,omitempty"`
	CurrentFile       string           `json:"current_file,omitempty"`
	CurrentFileChunk  int              `json:"current_file_chunk"`
	CurrentFileChunks int              `json:"current_file_chunks"`
	FileProgress      float64          `json:"file_progress"`
	ProcessedChunks   int              `json:"processed_chunks"`
	TotalChunks       int              `json:"total_chunks"`
	ProcessedFiles    int              `json:"processed_files"`
	TotalFiles        int              `json:"total_files"`
	CompletedFile     string           `json:"completed_file,omitempty"`
	FileStatus        FileStatus       `json:"file_status,omitempty"`
	NextFile          string           `json:"next_file,omitempty"`
	Reasoning         *ReasoningRecord `json:"reasoning,omitempty"`
	Time              time.Time        `json:"time"`
}

// Key returns the dataset the event belongs to.
func (e ProgressEvent) Key() DatasetKey {
	return DatasetKey{Source: e.Source, Dataset: e.DatasetName}
}

// NewProgressEvent snapshots the job's counters into an event of the given type.
func NewProgressEvent(eventType string, job *ExtractionJob) ProgressEvent {
	ev := ProgressEvent{
		Type:              eventType,
		Source:            job.Source,
		DatasetName:       job.DatasetName,
		Status:            job.Status,
		Message:           job.Message,
		CurrentFile:       job.CurrentFile,
		CurrentFileChunk:  job.CurrentFileChunk,
		CurrentFileChunks: job.CurrentFileChunks,
		ProcessedChunks:   job.ProcessedChunks,
		TotalChunks:       job.TotalChunks,
		ProcessedFiles:    job.ProcessedFiles,
		TotalFiles:        job.TotalFiles,
		Time:              time.Now().UTC(),
	}
	if job.CurrentFileChunks > 0 {
		ev.FileProgress = float64(job.CurrentFileChunk) / float64(job.CurrentFileChunks)
	}
	return ev
}
