package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vrsandeep/extract-go/internal/convert"
	"github.com/vrsandeep/extract-go/internal/storage"
	"github.com/vrsandeep/extract-go/internal/util"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB.PingContext(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.app.Scheduler.Running(),
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.app.Storages.Sources())
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	backend, err := s.app.Storages.Get(chi.URLParam(r, "source"))
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	datasets, err := backend.ListDatasets(r.Context())
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []string{}
	}
	RespondWithJSON(w, http.StatusOK, datasets)
}

type datasetFile struct {
	storage.FileInfo
	Supported bool `json:"supported"`
}

func (s *Server) handleListDatasetFiles(w http.ResponseWriter, r *http.Request) {
	source, dataset := datasetKey(r)
	if err := util.ValidateName(dataset); err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	backend, err := s.app.Storages.Get(source)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	files, err := backend.ListFiles(r.Context(), dataset)
	if err != nil {
		s.respondWithDomainError(w, r, err)
		return
	}
	out := make([]datasetFile, len(files))
	for i, f := range files {
		out[i] = datasetFile{FileInfo: f, Supported: convert.Supported(f.Name)}
	}
	RespondWithJSON(w, http.StatusOK, out)
}
