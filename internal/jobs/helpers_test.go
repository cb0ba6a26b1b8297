package jobs_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/extract-go/internal/convert"
	"github.com/vrsandeep/extract-go/internal/jobs"
	"github.com/vrsandeep/extract-go/internal/llm"
	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/storage"
	"github.com/vrsandeep/extract-go/internal/store"
	"github.com/vrsandeep/extract-go/internal/testutil"
)

const (
	testSource  = "local"
	testDataset = "invoices"
	testSchema  = `{"type":"object","properties":{"title":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}}}`
)

// recorder is a Broadcaster that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recorder) Publish(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(eventType string) []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProgressEvent
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// fakeExtractor answers model calls with fn and records every request.
type fakeExtractor struct {
	mu    sync.Mutex
	calls []llm.ChunkRequest
	fn    func(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeExtractor) callsFor(file string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var idx []int
	for _, c := range f.calls {
		if c.FileName == file {
			idx = append(idx, c.ChunkIndex)
		}
	}
	return idx
}

// firstLetter extracts the chunk's text as title and its first letter as a tag.
func firstLetter(_ context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
	data := map[string]any{"title": req.Text}
	if req.Text != "" {
		data["tags"] = []any{req.Text[:1]}
	}
	return models.ChunkResult{Data: data}, nil
}

type testEnv struct {
	store     *store.Store
	root      string
	registry  *storage.Registry
	events    *recorder
	extractor *fakeExtractor
	orch      *jobs.Orchestrator
}

// newTestEnv builds an orchestrator over a local dataset. Chunks are ten
// runes, so a 30 letter file without spaces splits into exactly 3 chunks.
func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	root := t.TempDir()
	testutil.CreateTestDataset(t, root, testDataset, files)

	local, err := storage.NewLocal(root)
	require.NoError(t, err)
	registry := storage.NewRegistry()
	registry.Register(testSource, local)

	conv, err := convert.New(convert.Config{CacheDir: filepath.Join(root, ".cache")}, nil)
	require.NoError(t, err)

	env := &testEnv{
		store:     store.New(testutil.SetupTestDB(t)),
		root:      root,
		registry:  registry,
		events:    &recorder{},
		extractor: &fakeExtractor{fn: firstLetter},
	}
	env.orch = jobs.NewOrchestrator(jobs.OrchestratorConfig{
		MaxChunkSize: 10,
		MaxRetries:   2,
		RetryInitial: time.Millisecond,
		RetryMax:     2 * time.Millisecond,
	}, env.store, registry, conv, env.extractor, env.events, nil)
	return env
}

// schedule inserts a scheduled job for the test dataset.
func (e *testEnv) schedule(t *testing.T, schema string) *models.ExtractionJob {
	t.Helper()
	job := &models.ExtractionJob{
		Source:         testSource,
		DatasetName:    testDataset,
		Status:         models.StatusScheduled,
		SchemaSnapshot: json.RawMessage(schema),
	}
	require.NoError(t, e.store.CreateJob(context.Background(), job))
	return job
}

// claim moves a scheduled job to in_progress and returns its stored state,
// the way the scheduler hands jobs to the orchestrator.
func (e *testEnv) claim(t *testing.T, id int64) *models.ExtractionJob {
	t.Helper()
	ctx := context.Background()
	ok, err := e.store.ClaimJob(ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "job %d should be claimable", id)
	job, err := e.store.GetJobByID(ctx, id)
	require.NoError(t, err)
	return job
}

func (e *testEnv) reload(t *testing.T) *models.ExtractionJob {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), testSource, testDataset)
	require.NoError(t, err)
	return job
}

// output reads the extraction result written for a dataset file.
func (e *testEnv) output(t *testing.T, file string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(storage.OutputName(testDataset, file))))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}
