package jobs

import "errors"

var (
	// ErrNotFound is returned when no job exists for the dataset.
	ErrNotFound = errors.New("extraction job not found")
	// ErrInvalidTransition is returned when the job's status does not allow
	// the requested operation.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidInput is returned for malformed source or dataset names and
	// unknown sources.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSchema is returned when the extraction schema does not compile.
	ErrInvalidSchema = errors.New("invalid extraction schema")
	// ErrDatasetNotFound is returned when the dataset does not exist in its source.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrJobLevel marks failures that fail the whole job rather than one file.
	ErrJobLevel = errors.New("job-level failure")

	errPaused  = errors.New("job paused")
	errRemoved = errors.New("job removed")
)
