// Package api exposes the job manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/tile-seeder/internal/cluster"
	"github.com/mohammed-shakir/tile-seeder/internal/jobs"
	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

const maxBodyBytes = 1 << 20

// JobService is the part of the cluster manager the API drives.
type JobService interface {
	NewRequestBuilder() jobs.RequestBuilder
	LaunchJob(ctx context.Context, req model.CacheJobRequest) (model.CacheJobInfo, error)
	AbortJob(ctx context.Context, id string) (model.CacheJobStatus, bool, error)
	PruneJobs(ctx context.Context) ([]model.CacheJobStatus, error)
	JobStatuses() []model.CacheJobStatus
	JobStatus(id string) (model.CacheJobStatus, bool)
}

var _ JobService = (*cluster.Manager)(nil)

type Handler struct {
	jobs     JobService
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc JobService, v *validator.Validate, logger *slog.Logger) *Handler {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{jobs: svc, validate: v, log: logger}
}

// Routes mounts the job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.launch)
		r.Post("/prune", h.prune)
		r.Get("/{id}", h.get)
		r.Delete("/{id}", h.abort)
	})
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusesResponse{Jobs: nonNil(h.jobs.JobStatuses())})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := h.jobs.JobStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	var body launchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := body.apply(h.jobs.NewRequestBuilder())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqs, err := b.Build(r.Context())
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, jobs.ErrLayerNotFound) {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}

	out := launchResponse{Jobs: make([]model.CacheJobInfo, 0, len(reqs))}
	for _, req := range reqs {
		info, err := h.jobs.LaunchJob(r.Context(), req)
		if err != nil {
			h.log.ErrorContext(r.Context(), "launch failed", "request", req.String(), "launched", len(out.Jobs), "err", err)
			writeError(w, launchErrorCode(err), err.Error())
			return
		}
		out.Jobs = append(out.Jobs, info)
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok, err := h.jobs.AbortJob(r.Context(), id)
	if err != nil {
		writeError(w, launchErrorCode(err), err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) prune(w http.ResponseWriter, r *http.Request) {
	pruned, err := h.jobs.PruneJobs(r.Context())
	if err != nil {
		writeError(w, launchErrorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusesResponse{Jobs: nonNil(pruned)})
}

func launchErrorCode(err error) int {
	switch {
	case errors.Is(err, cluster.ErrNotRunning), errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, jobs.ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(s []model.CacheJobStatus) []model.CacheJobStatus {
	if s == nil {
		return []model.CacheJobStatus{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
