package llm

import (
	"bufio"
	"context"
	"strings"

	"github.com/vrsandeep/extract-go/internal/merge"
	"github.com/vrsandeep/extract-go/internal/models"
)

// MockExtractor works offline: for every schema field it takes the first
// "field: value" line of the chunk.
type MockExtractor struct{}

// NewMockExtractor returns the offline extractor.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

// Extract implements Extractor.
func (MockExtractor) Extract(ctx context.Context, req ChunkRequest) (models.ChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ChunkResult{}, err
	}
	fields, err := merge.FieldsFromSchema(req.Schema)
	if err != nil {
		return models.ChunkResult{}, err
	}

	lines := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(req.Text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if _, seen := lines[key]; !seen && value != "" {
			lines[key] = value
		}
	}

	result := models.ChunkResult{
		Data:      map[string]any{},
		Metadata:  map[string]models.FieldMetadata{},
		Reasoning: map[string]string{},
	}
	for _, f := range fields {
		value, ok := lines[strings.ToLower(f.Name)]
		if !ok {
			continue
		}
		if f.Type == "array" {
			result.Data[f.Name] = []any{value}
		} else {
			result.Data[f.Name] = value
		}
		confidence := 0.5
		result.Metadata[f.Name] = models.FieldMetadata{Format: "paragraph", Confidence: &confidence}
		result.Reasoning[f.Name] = "matched a \"" + f.Name + ":\" line"
	}
	return result, nil
}
