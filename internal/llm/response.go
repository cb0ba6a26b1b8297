package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/vrsandeep/extract-go/internal/models"
)

var (
	fencedJSON     = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// ParseResponse decodes the model's reply. Code fences and trailing commas are
// tolerated; a reply without a "data" member is taken to be the data itself.
func ParseResponse(content string) (models.ChunkResult, error) {
	body, err := extractObject(content)
	if err != nil {
		return models.ChunkResult{}, err
	}

	var envelope struct {
		Data      map[string]any             `json:"data"`
		Metadata  map[string]json.RawMessage `json:"metadata"`
		Reasoning map[string]any             `json:"reasoning"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return models.ChunkResult{}, transient("decode model output: %v", err)
	}

	if envelope.Data == nil {
		var flat map[string]any
		if err := json.Unmarshal(body, &flat); err != nil {
			return models.ChunkResult{}, transient("decode model output: %v", err)
		}
		delete(flat, "metadata")
		delete(flat, "reasoning")
		envelope.Data = flat
	}

	result := models.ChunkResult{
		Data:      envelope.Data,
		Metadata:  make(map[string]models.FieldMetadata, len(envelope.Metadata)),
		Reasoning: make(map[string]string, len(envelope.Reasoning)),
	}
	for field, raw := range envelope.Metadata {
		var meta models.FieldMetadata
		// Malformed metadata for one field is dropped, the value is still usable.
		if err := json.Unmarshal(raw, &meta); err == nil {
			result.Metadata[field] = meta
		}
	}
	for field, v := range envelope.Reasoning {
		if s, ok := v.(string); ok {
			result.Reasoning[field] = s
		}
	}
	return result, nil
}

func extractObject(content string) ([]byte, error) {
	text := strings.TrimSpace(content)
	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, transient("no JSON object in model output")
		}
		text = text[start : end+1]
	}
	text = trailingCommas.ReplaceAllString(text, "$1")
	if !json.Valid([]byte(text)) {
		return nil, transient("model output is not valid JSON")
	}
	return []byte(text), nil
}
