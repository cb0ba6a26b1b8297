package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockExtractor(t *testing.T) {
	m := NewMockExtractor()
	res, err := m.Extract(context.Background(), ChunkRequest{
		Text:   "Vendor: ACME\nTotal: 10\nTotal: 20\nTags: urgent\nnothing here",
		Schema: json.RawMessage(`{"properties":{"vendor":{"type":"string"},"total":{"type":"string"},"tags":{"type":"array"},"date":{"type":"string"}}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME", res.Data["vendor"])
	assert.Equal(t, "10", res.Data["total"])
	assert.Equal(t, []any{"urgent"}, res.Data["tags"])
	assert.NotContains(t, res.Data, "date")
	_, ok := res.Confidence("vendor")
	assert.True(t, ok)
}

func TestMockExtractor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockExtractor().Extract(ctx, ChunkRequest{Text: "a: b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Extract(context.Background(), ChunkRequest{Text: "a: b"})
	assert.ErrorIs(t, err, ErrNoModel)
	assert.False(t, IsTransient(err))
}
