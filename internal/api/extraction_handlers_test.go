package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/storage"
)

const base = "/api/extractions/local/invoices"

func TestExtractionLifecycle(t *testing.T) {
	_, router := setupTestServer(t, false)

	rr := doRequest(t, router, http.MethodPost, base, startBody(testSchema))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	started := decode[models.ExtractionJob](t, rr)
	assert.Equal(t, models.StatusScheduled, started.Status)
	assert.Equal(t, "invoices", started.DatasetName)

	rr = doRequest(t, router, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, started.ID, decode[models.ExtractionJob](t, rr).ID)

	rr = doRequest(t, router, http.MethodPost, base+"/pause", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StatusPaused, decode[models.ExtractionJob](t, rr).Status)

	rr = doRequest(t, router, http.MethodPost, base+"/pause", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "pausing twice is a no-op")

	rr = doRequest(t, router, http.MethodGet, "/api/extractions?status=paused", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.ExtractionJob](t, rr), 1)

	rr = doRequest(t, router, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StatusScheduled, decode[models.ExtractionJob](t, rr).Status)

	rr = doRequest(t, router, http.MethodGet, base+"/results", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]models.FileExtractionResult](t, rr))

	rr = doRequest(t, router, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, router, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartExtractionErrors(t *testing.T) {
	_, router := setupTestServer(t, false)

	testCases := []struct {
		name     string
		path     string
		body     any
		wantCode int
	}{
		{"malformed body", base, "{not json", http.StatusBadRequest},
		{"invalid schema", base, startBody(`{"$ref": "#/$defs/missing"}`), http.StatusBadRequest},
		{"missing schema", base, map[string]string{}, http.StatusBadRequest},
		{"unknown source", "/api/extractions/ftp/invoices", startBody(testSchema), http.StatusBadRequest},
		{"missing dataset", "/api/extractions/local/receipts", startBody(testSchema), http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.wantCode, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestStatusChangesOnFinishedJob(t *testing.T) {
	app, router := setupTestServer(t, false)
	require.NoError(t, app.Store.CreateJob(context.Background(), &models.ExtractionJob{
		Source:         "local",
		DatasetName:    "invoices",
		Status:         models.StatusCompleted,
		SchemaSnapshot: json.RawMessage(testSchema),
	}))

	assert.Equal(t, http.StatusConflict, doRequest(t, router, http.MethodPost, base+"/pause", nil).Code)
	assert.Equal(t, http.StatusConflict, doRequest(t, router, http.MethodPost, base+"/resume", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodPost, "/api/extractions/local/other/pause", nil).Code)
}

func TestExtractionRunsToCompletion(t *testing.T) {
	app, router := setupTestServer(t, true)

	rr := doRequest(t, router, http.MethodPost, base, startBody(testSchema))
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		rr := doRequest(t, router, http.MethodGet, base, nil)
		return rr.Code == http.StatusOK && decode[models.ExtractionJob](t, rr).Status == models.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	job := decode[models.ExtractionJob](t, doRequest(t, router, http.MethodGet, base, nil))
	assert.Equal(t, 3, job.TotalFiles)
	assert.Equal(t, 3, job.ProcessedFiles)

	results := decode[[]models.FileExtractionResult](t, doRequest(t, router, http.MethodGet, base+"/results", nil))
	require.Len(t, results, 3)
	byName := map[string]models.FileExtractionResult{}
	for _, r := range results {
		byName[r.Filename] = r
	}
	assert.Equal(t, models.FileSuccess, byName["inv1.txt"].Status)
	assert.Equal(t, models.FileSuccess, byName["inv2.txt"].Status)
	assert.Equal(t, models.FileError, byName["notes.doc"].Status)

	b, err := os.ReadFile(filepath.Join(app.Config.Storage.LocalPath, filepath.FromSlash(storage.OutputName("invoices", "inv1.txt"))))
	require.NoError(t, err)
	var doc struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, map[string]any{"title": "First invoice", "total": "10 EUR"}, doc.Data)
}

func TestExtractionSocket(t *testing.T) {
	app, router := setupTestServer(t, false)
	rr := doRequest(t, router, http.MethodPost, base, startBody(testSchema))
	require.Equal(t, http.StatusAccepted, rr.Code)

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/extractions/local/invoices"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, models.EventExtractionState, initial.Type)
	assert.Equal(t, models.StatusScheduled, initial.Status)

	require.Eventually(t, func() bool { return app.Hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	app.Hub.Publish(models.ProgressEvent{Type: models.EventChunkProgress, Source: "local", DatasetName: "other"})
	app.Hub.Publish(models.ProgressEvent{Type: models.EventChunkProgress, Source: "local", DatasetName: "invoices", ProcessedChunks: 1})

	var ev models.ProgressEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "invoices", ev.DatasetName)
	assert.Equal(t, 1, ev.ProcessedChunks)
}
