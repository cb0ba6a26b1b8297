package models

// FieldMetadata is what the model reports about where and how sure it found a field.
type FieldMetadata struct {
	PageNumber *int     `json:"page_number,omitempty"`
	Prominence string   `json:"prominence,omitempty"`
	Format     string   `json:"format,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ChunkResult is the model's partial extraction for one chunk.
type ChunkResult struct {
	Data      map[string]any           `json:"data"`
	Metadata  map[string]FieldMetadata `json:"metadata,omitempty"`
	Reasoning map[string]string        `json:"reasoning,omitempty"`
}

// Confidence returns the model's confidence for a field, if it gave one.
func (c ChunkResult) Confidence(field string) (float64, bool) {
	meta, ok := c.Metadata[field]
	if !ok || meta.Confidence == nil {
		return 0, false
	}
	return *meta.Confidence, true
}
