// Package api exposes the admin HTTP surface over an engine: health,
// queue stats, and job inspection/recovery. It is optional; the worker
// command mounts it when an address is configured.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/engine"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// defaultListLimit bounds GET /jobs when the caller does not pass one.
const defaultListLimit = 50

// API serves the admin endpoints over an engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API over eng. A nil logger falls back to slog.Default().
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the assembled router:
//
//	GET    /healthz             store connectivity
//	GET    /stats               job counts by status
//	GET    /jobs                list (status, kind, limit, offset)
//	GET    /jobs/{jobID}        one job record
//	POST   /jobs/{jobID}/requeue  failed job back to pending
//	DELETE /jobs/{jobID}        remove a record
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Get("/stats", a.stats)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Get("/{jobID}", a.getJob)
		r.Post("/{jobID}/requeue", a.requeueJob)
		r.Delete("/{jobID}", a.deleteJob)
	})
	return r
}

// errorResponse is the JSON body for non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("api: encode response", slog.String("error", err.Error()))
	}
}

// writeError maps store sentinels to HTTP statuses: unknown id → 404,
// backend down → 503, anything else → 500.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobqueue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobqueue.ErrStoreUnavailable), errors.Is(err, jobqueue.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.eng.Stats(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

// listResponse wraps the job list so the payload stays extensible.
type listResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Count int        `json:"count"`
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := job.ListOpts{
		Limit: defaultListLimit,
		Kind:  q.Get("kind"),
	}

	if s := q.Get("status"); s != "" {
		status := job.Status(s)
		if !status.Valid() {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status " + strconv.Quote(s)})
			return
		}
		opts.Status = status
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit " + strconv.Quote(s)})
			return
		}
		opts.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset " + strconv.Quote(s)})
			return
		}
		opts.Offset = n
	}

	jobs, err := a.eng.List(r.Context(), opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, listResponse{Jobs: jobs, Count: len(jobs)})
}

// jobIDParam parses the {jobID} route parameter; a malformed id is a 400.
func (a *API) jobIDParam(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	raw := chi.URLParam(r, "jobID")
	jobID, err := id.ParseJobID(raw)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id " + strconv.Quote(raw)})
		return id.Nil, false
	}
	return jobID, true
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Get(r.Context(), jobID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) requeueJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	if err := a.eng.Requeue(r.Context(), jobID); err != nil {
		a.writeError(w, err)
		return
	}
	a.logger.Info("job requeued via api", slog.String("job_id", jobID.String()))
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": jobID.String()})
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobIDParam(w, r)
	if !ok {
		return
	}
	if err := a.eng.Delete(r.Context(), jobID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
