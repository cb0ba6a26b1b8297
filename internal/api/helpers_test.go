package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/api"
	"github.com/vrsandeep/extract-go/internal/config"
	"github.com/vrsandeep/extract-go/internal/core"
	"github.com/vrsandeep/extract-go/internal/testutil"
)

const testSchema = `{"type":"object","properties":{"title":{"type":"string"},"total":{"type":"string"}}}`

// setupTestServer wires a full application on temp dirs with the mock model.
// Unless autoRun is set, scheduled jobs are not picked up, so tests see the
// states they create.
func setupTestServer(t *testing.T, autoRun bool) (*core.App, http.Handler) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(dir, "extract.db")
	cfg.Storage.LocalPath = filepath.Join(dir, "data")
	cfg.Storage.CachePath = filepath.Join(dir, "cache")
	cfg.Scheduler.IntervalSeconds = 3600
	cfg.Scheduler.MaxConcurrentJobs = 1
	cfg.Extraction.MaxChunkSize = 200
	cfg.Extraction.RetryInitialMs = 1
	cfg.Extraction.RetryMaxMs = 2
	cfg.LLM.Provider = "mock"

	app, err := core.NewWithConfig(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(app.Close)
	go app.Hub.Run()
	if !autoRun {
		app.Manager.SetTrigger(nil)
	}

	testutil.CreateTestDataset(t, cfg.Storage.LocalPath, "invoices", map[string]string{
		"inv1.txt":  "title: First invoice\ntotal: 10 EUR",
		"inv2.txt":  "title: Second invoice",
		"notes.doc": "binary",
	})
	return app, api.NewServer(app).Router()
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func startBody(schema string) map[string]json.RawMessage {
	return map[string]json.RawMessage{"schema": json.RawMessage(schema)}
}
