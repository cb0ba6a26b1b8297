// Package llm talks to the language model that extracts schema fields from a
// chunk of document text.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vrsandeep/extract-go/internal/models"
)

// ErrTransient marks failures worth retrying: timeouts, rate limits, 5xx
// responses and unparsable model output.
var ErrTransient = errors.New("transient model error")

// ChunkRequest is one chunk of a file plus the schema to extract.
type ChunkRequest struct {
	Text        string
	Schema      json.RawMessage
	FileName    string
	ChunkIndex  int
	TotalChunks int
}

// Extractor turns a chunk into a partial extraction.
type Extractor interface {
	Extract(ctx context.Context, req ChunkRequest) (models.ChunkResult, error)
}

// ErrNoModel is returned by an extractor built without a model.
var ErrNoModel = errors.New("no extraction model configured")

// Unavailable is an Extractor for processes that never extract, such as
// one-shot CLI commands. Every call fails with ErrNoModel and is not retried.
type Unavailable struct{}

// Extract implements Extractor.
func (Unavailable) Extract(context.Context, ChunkRequest) (models.ChunkResult, error) {
	return models.ChunkResult{}, ErrNoModel
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}

func transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}
