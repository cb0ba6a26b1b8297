package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/extract-go/internal/jobs"
	"github.com/vrsandeep/extract-go/internal/llm"
	"github.com/vrsandeep/extract-go/internal/models"
	"github.com/vrsandeep/extract-go/internal/store"
)

var threeChunks = strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10)

func pauseAt(env *testEnv, file string, chunk int) func(context.Context, llm.ChunkRequest) (models.ChunkResult, error) {
	done := false
	return func(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
		if !done && req.FileName == file && req.ChunkIndex == chunk {
			done = true
			_, err := env.store.SetJobStatus(ctx, testSource, testDataset,
				[]models.JobStatus{models.StatusInProgress}, models.StatusPaused, "Extraction paused by user")
			if err != nil {
				return models.ChunkResult{}, err
			}
		}
		return firstLetter(ctx, req)
	}
}

// resume does what the manager and scheduler do for a paused job.
func (e *testEnv) resume(t *testing.T) *models.ExtractionJob {
	t.Helper()
	job, err := e.store.SetJobStatus(context.Background(), testSource, testDataset,
		[]models.JobStatus{models.StatusPaused}, models.StatusScheduled, "Extraction resumed")
	require.NoError(t, err)
	return e.claim(t, job.ID)
}

func TestOrchestrator_FileErrorDoesNotFailJob(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks, "b.txt": "broken"})
	env.extractor.fn = func(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
		if req.FileName == "b.txt" {
			return models.ChunkResult{}, fmt.Errorf("%w: rate limited", llm.ErrTransient)
		}
		return firstLetter(ctx, req)
	}
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))

	got := env.reload(t)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, []string{"a.txt", "b.txt"}, got.Files)
	assert.Equal(t, 2, got.TotalFiles)
	assert.Equal(t, 2, got.ProcessedFiles)
	assert.Equal(t, 3, got.ProcessedChunks)
	assert.Equal(t, 4, got.TotalChunks)
	assert.NotNil(t, got.StartTime)
	assert.NotNil(t, got.EndTime)
	assert.Empty(t, got.CurrentFile)

	// One call plus two retries for the failing chunk.
	assert.Equal(t, []int{1, 2, 3}, env.extractor.callsFor("a.txt"))
	assert.Equal(t, []int{1, 1, 1}, env.extractor.callsFor("b.txt"))

	results, err := env.store.ListFileResults(context.Background(), got.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.txt", results[0].Filename)
	assert.Equal(t, models.FileSuccess, results[0].Status)
	assert.Equal(t, 3, results[0].Chunks)
	assert.NotEmpty(t, results[0].OutputRef)
	assert.Equal(t, "b.txt", results[1].Filename)
	assert.Equal(t, models.FileError, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "chunk 1/1")

	doc := env.output(t, "a.txt")
	assert.Equal(t, "a.txt", doc["file"])
	assert.Equal(t, map[string]any{
		"title": strings.Repeat("a", 10),
		"tags":  []any{"a", "b", "c"},
	}, doc["data"])
	assert.Len(t, doc["merge_reasoning"], 3)

	assert.Len(t, env.events.ofType(models.EventChunkProgress), 3)
	assert.Len(t, env.events.ofType(models.EventMergeReasoning), 3)
	completedFiles := env.events.ofType(models.EventFileCompleted)
	require.Len(t, completedFiles, 2)
	assert.Equal(t, "a.txt", completedFiles[0].CompletedFile)
	assert.Equal(t, "b.txt", completedFiles[0].NextFile)
	assert.Equal(t, models.FileError, completedFiles[1].FileStatus)
	finished := env.events.ofType(models.EventExtractionCompleted)
	require.Len(t, finished, 1)
	assert.Equal(t, models.StatusCompleted, finished[0].Status)
}

func TestOrchestrator_CountersAreMonotonic(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks, "b.txt": threeChunks})
	job := env.claim(t, env.schedule(t, testSchema).ID)
	require.NoError(t, env.orch.Run(context.Background(), job))

	progress := env.events.ofType(models.EventChunkProgress)
	require.Len(t, progress, 6)
	for i, ev := range progress {
		assert.Equal(t, i+1, ev.ProcessedChunks)
		assert.LessOrEqual(t, ev.ProcessedChunks, ev.TotalChunks)
		assert.LessOrEqual(t, ev.ProcessedFiles, ev.TotalFiles)
		assert.InDelta(t, float64(ev.CurrentFileChunk)/3, ev.FileProgress, 1e-9)
	}
	assert.Equal(t, 0, progress[2].ProcessedFiles)
	assert.Equal(t, 1, progress[3].ProcessedFiles)
}

func TestOrchestrator_PauseAndResumeMatchesStraightRun(t *testing.T) {
	files := map[string]string{"a.txt": threeChunks, "b.txt": strings.Repeat("d", 10)}
	ctx := context.Background()

	straight := newTestEnv(t, files)
	require.NoError(t, straight.orch.Run(ctx, straight.claim(t, straight.schedule(t, testSchema).ID)))

	env := newTestEnv(t, files)
	env.extractor.fn = pauseAt(env, "a.txt", 2)
	require.NoError(t, env.orch.Run(ctx, env.claim(t, env.schedule(t, testSchema).ID)))

	paused := env.reload(t)
	assert.Equal(t, models.StatusPaused, paused.Status)
	assert.Equal(t, 2, paused.ProcessedChunks)
	assert.Equal(t, 2, paused.CurrentFileChunk)
	assert.Equal(t, 3, paused.CurrentFileChunks)
	assert.Equal(t, "a.txt", paused.CurrentFile)
	assert.Len(t, paused.MergeReasoningHistory, 2)
	assert.Equal(t, []any{"a", "b"}, paused.MergedData["tags"])

	require.NoError(t, env.orch.Run(ctx, env.resume(t)))

	done := env.reload(t)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 4, done.ProcessedChunks)
	assert.Equal(t, 4, done.TotalChunks)
	assert.Equal(t, 2, done.ProcessedFiles)
	assert.Equal(t, []int{1, 2, 3}, env.extractor.callsFor("a.txt"), "merged chunks must not be extracted again")

	for _, f := range []string{"a.txt", "b.txt"} {
		want, got := straight.output(t, f), env.output(t, f)
		assert.Equal(t, want["data"], got["data"], f)
		assert.Len(t, got["merge_reasoning"], len(want["merge_reasoning"].([]any)), f)
	}
}

func TestOrchestrator_ResumeAfterCrash(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks, "b.txt": strings.Repeat("d", 10)})
	env.extractor.fn = pauseAt(env, "a.txt", 2)
	ctx := context.Background()
	require.NoError(t, env.orch.Run(ctx, env.claim(t, env.schedule(t, testSchema).ID)))

	// Leave the row the way a process killed mid-run would.
	_, err := env.store.SetJobStatus(ctx, testSource, testDataset,
		[]models.JobStatus{models.StatusPaused}, models.StatusInProgress, "")
	require.NoError(t, err)

	sched := jobs.NewScheduler(jobs.SchedulerConfig{}, env.store, env.orch, env.events, nil)
	n, err := sched.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusInterrupted, env.reload(t).Status)

	job, err := env.store.SetJobStatus(ctx, testSource, testDataset,
		[]models.JobStatus{models.StatusInterrupted}, models.StatusScheduled, "Extraction resumed")
	require.NoError(t, err)
	require.NoError(t, env.orch.Run(ctx, env.claim(t, job.ID)))

	done := env.reload(t)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, done.TotalChunks, done.ProcessedChunks)
	assert.Equal(t, 4, done.ProcessedChunks)
	assert.Equal(t, 2, done.ProcessedFiles)
	assert.Equal(t, []int{1, 2, 3}, env.extractor.callsFor("a.txt"), "merged chunks must not be extracted again")
	assert.Equal(t, []int{1}, env.extractor.callsFor("b.txt"))
}

func TestOrchestrator_FileListFrozenOnceStarted(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "aaaa", "b.txt": "bbbb"})
	ctx := context.Background()
	job := env.claim(t, env.schedule(t, testSchema).ID)

	// Started with only a.txt listed, then paused before its first chunk.
	started := time.Now().UTC()
	job.Files = []string{"a.txt"}
	job.TotalFiles = 1
	job.StartTime = &started
	require.NoError(t, env.store.UpdateJob(ctx, job))

	require.NoError(t, env.orch.Run(ctx, job))

	done := env.reload(t)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, []string{"a.txt"}, done.Files)
	assert.Equal(t, 1, done.TotalFiles)
	assert.Empty(t, env.extractor.callsFor("b.txt"))
}

func TestOrchestrator_PauseAfterLastChunkOfFile(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "aaaa", "b.txt": "bbbb"})
	env.extractor.fn = pauseAt(env, "a.txt", 1)
	ctx := context.Background()
	require.NoError(t, env.orch.Run(ctx, env.claim(t, env.schedule(t, testSchema).ID)))

	paused := env.reload(t)
	assert.Equal(t, models.StatusPaused, paused.Status)
	// Every chunk of a.txt is merged but its output is written on resume.
	assert.Equal(t, 0, paused.ProcessedFiles)
	assert.Equal(t, 1, paused.CurrentFileChunk)
	assert.Equal(t, 1, paused.CurrentFileChunks)
	assert.Equal(t, 1, paused.ProcessedChunks)

	require.NoError(t, env.orch.Run(ctx, env.resume(t)))
	done := env.reload(t)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.ProcessedChunks)
	assert.Equal(t, map[string]any{"title": "aaaa", "tags": []any{"a"}}, env.output(t, "a.txt")["data"])
	assert.Equal(t, []int{1}, env.extractor.callsFor("a.txt"))
	assert.Equal(t, []int{1}, env.extractor.callsFor("b.txt"))
}

func TestOrchestrator_ChangedFileFailsJob(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks})
	env.extractor.fn = pauseAt(env, "a.txt", 1)
	ctx := context.Background()
	require.NoError(t, env.orch.Run(ctx, env.claim(t, env.schedule(t, testSchema).ID)))

	require.NoError(t, os.WriteFile(filepath.Join(env.root, testDataset, "a.txt"), []byte(strings.Repeat("z", 50)), 0o644))

	err := env.orch.Run(ctx, env.resume(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrJobLevel))

	got := env.reload(t)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "changed since extraction started")
	assert.True(t, strings.HasPrefix(got.Message, "Extraction failed: "))
	assert.NotNil(t, got.EndTime)
}

func TestOrchestrator_MissingFileFailsJob(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks, "b.txt": "bbbb"})
	env.extractor.fn = pauseAt(env, "a.txt", 1)
	ctx := context.Background()
	require.NoError(t, env.orch.Run(ctx, env.claim(t, env.schedule(t, testSchema).ID)))

	require.NoError(t, os.Remove(filepath.Join(env.root, testDataset, "b.txt")))

	require.Error(t, env.orch.Run(ctx, env.resume(t)))
	got := env.reload(t)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Message, "missing files: b.txt")
}

func TestOrchestrator_EmptySchemaFailsJob(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "aaaa"})
	job := env.claim(t, env.schedule(t, "{}").ID)

	err := env.orch.Run(context.Background(), job)
	require.Error(t, err)

	got := env.reload(t)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "Extraction failed: extraction schema is missing", got.Message)
	assert.Empty(t, env.extractor.callsFor("a.txt"))
}

func TestOrchestrator_CancelLeavesJobInterrupted(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.extractor.fn = func(c context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
		if req.ChunkIndex == 2 {
			cancel()
			return models.ChunkResult{}, c.Err()
		}
		return firstLetter(c, req)
	}
	job := env.claim(t, env.schedule(t, testSchema).ID)

	err := env.orch.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	got := env.reload(t)
	assert.Equal(t, models.StatusInterrupted, got.Status)
	assert.Equal(t, "Extraction was interrupted by server shutdown", got.Message)
	assert.Equal(t, 1, got.ProcessedChunks)
	assert.Equal(t, 1, got.CurrentFileChunk)
}

func TestOrchestrator_DeletedJobStopsQuietly(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": threeChunks})
	env.extractor.fn = func(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
		if req.ChunkIndex == 2 {
			if err := env.store.DeleteJob(ctx, testSource, testDataset); err != nil {
				return models.ChunkResult{}, err
			}
		}
		return firstLetter(ctx, req)
	}
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))
	_, err := env.store.GetJob(context.Background(), testSource, testDataset)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []int{1, 2}, env.extractor.callsFor("a.txt"))
}

func TestOrchestrator_RetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "aaaa"})
	failures := 0
	env.extractor.fn = func(ctx context.Context, req llm.ChunkRequest) (models.ChunkResult, error) {
		if failures < 2 {
			failures++
			return models.ChunkResult{}, fmt.Errorf("%w: upstream 503", llm.ErrTransient)
		}
		return firstLetter(ctx, req)
	}
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))
	results, err := env.store.ListFileResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.FileSuccess, results[0].Status)
	assert.Equal(t, []int{1, 1, 1}, env.extractor.callsFor("a.txt"))
}

func TestOrchestrator_PermanentErrorIsNotRetried(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": "aaaa"})
	env.extractor.fn = func(context.Context, llm.ChunkRequest) (models.ChunkResult, error) {
		return models.ChunkResult{}, errors.New("model returned 400: bad request")
	}
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))
	assert.Equal(t, []int{1}, env.extractor.callsFor("a.txt"))
	got := env.reload(t)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.ProcessedFiles)
	assert.Equal(t, 0, got.ProcessedChunks)
}

func TestOrchestrator_EmptyDatasetCompletes(t *testing.T) {
	env := newTestEnv(t, map[string]string{})
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))
	got := env.reload(t)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.TotalFiles)
	assert.Len(t, env.events.ofType(models.EventExtractionCompleted), 1)
}

func TestOrchestrator_EmptyAndUnsupportedFiles(t *testing.T) {
	env := newTestEnv(t, map[string]string{"empty.txt": "", "scan.bin": "\x00\x01"})
	job := env.claim(t, env.schedule(t, testSchema).ID)

	require.NoError(t, env.orch.Run(context.Background(), job))

	results, err := env.store.ListFileResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "empty.txt", results[0].Filename)
	assert.Equal(t, models.FileSuccess, results[0].Status)
	assert.Equal(t, 1, results[0].Chunks)
	assert.Equal(t, "scan.bin", results[1].Filename)
	assert.Equal(t, models.FileError, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "unsupported file type")
	assert.Equal(t, []int{1}, env.extractor.callsFor("empty.txt"))
	assert.Empty(t, env.extractor.callsFor("scan.bin"))
}
