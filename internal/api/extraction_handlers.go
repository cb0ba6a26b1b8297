package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/extract-go/internal/jobs"
	"github.com/vrsandeep/extract-go/internal/models"
)

// maxSchemaBytes bounds the start request body.
const maxSchemaBytes = 1 << 20

func datasetKey(r *http.Request) (string, string) {
	return chi.URLParam(r, "source"), chi.URLParam(r, "dataset")
}

func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	var payload struct {
		Schema json.RawMessage `json:"schema"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSchemaBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	job, err := s.app.Manager.Start(r.Context(), source, dataset, payload.Schema)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	job, err := s.app.Manager.Status(r.Context(), source, dataset)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handlePauseExtraction(w http.ResponseWriter, r *http.Request) {
	s.changeExtraction(w, r, s.app.Manager.Pause)
}

func (s *Server) handleResumeExtraction(w http.ResponseWriter, r *http.Request) {
	s.changeExtraction(w, r, s.app.Manager.Resume)
}

// changeExtraction applies a status change and answers with the job's new state.
func (s *Server) changeExtraction(w http.ResponseWriter, r *http.Request,
	change func(ctx context.Context, source, dataset string) error) {
	source, dataset := datasetKey(r)
	if err := change(r.Context(), source, dataset); err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	job, err := s.app.Manager.Status(r.Context(), source, dataset)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	if err := s.app.Manager.Delete(r.Context(), source, dataset); err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetExtractionResults(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	results, err := s.app.Manager.Results(r.Context(), source, dataset)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, results)
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	all, err := s.app.Manager.List(r.Context())
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		RespondWithJSON(w, http.StatusOK, all)
		return
	}
	filtered := []*models.ExtractionJob{}
	for _, job := range all {
		if job.Status == status {
			filtered = append(filtered, job)
		}
	}
	RespondWithJSON(w, http.StatusOK, filtered)
}

// handleExtractionSocket subscribes the connection to the dataset's progress
// events, starting with the job's current state when there is one.
func (s *Server) handleExtractionSocket(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	key := models.DatasetKey{Source: source, Dataset: dataset}

	var initial any
	job, err := s.app.Manager.Status(r.Context(), source, dataset)
	switch {
	case err == nil:
		initial = models.NewProgressEvent(models.EventExtractionState, job)
	case !errors.Is(err, jobs.ErrNotFound):
		s.respondWithDomainError(w, r, err)
		return
	}
	s.app.Hub.ServeWs(w, r, key, initial)
}
