package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/coordinator"
	"github.com/sells-group/sightline/internal/identity"
	"github.com/sells-group/sightline/internal/model"
	"github.com/sells-group/sightline/internal/progress"
	"github.com/sells-group/sightline/internal/store"
)

const maxBodyBytes = 64 << 10

type summarizeRequest struct {
	URL string `json:"url"`
	// TaskID is the client's provisional id, if it made one.
	TaskID string `json:"taskId,omitempty"`
}

type summarizeResponse struct {
	TaskID        string         `json:"taskId"`
	ProvisionalID string         `json:"provisionalId,omitempty"`
	Cached        bool           `json:"cached,omitempty"`
	Summary       *model.Summary `json:"summary,omitempty"`
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, model.Validation("invalid request body", err))
		return
	}
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	id, _ := identity.FromContext(r.Context())
	job, err := s.jobs.Start(r.Context(), coordinator.StartRequest{
		Identity:      id,
		SourceURL:     req.URL,
		CorrelationID: CorrelationID(r.Context()),
		ProvisionalID: req.TaskID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := summarizeResponse{TaskID: job.TaskID, ProvisionalID: job.ProvisionalID}
	if job.Cached {
		resp.Cached = true
		resp.Summary = job.Summary()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// A started job runs to a terminal state whether or not the caller is
	// still connected.
	ctx := context.WithoutCancel(r.Context())
	s.inflight.Add(1)

	if async {
		go func() {
			defer s.inflight.Done()
			if _, err := job.Run(ctx); err != nil {
				zap.L().Debug("api: async job ended with error",
					zap.String("task_id", job.TaskID),
					zap.Error(err),
				)
			}
		}()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	sum, err := func() (*model.Summary, error) {
		defer s.inflight.Done()
		return job.Run(ctx)
	}()
	if err != nil {
		writeTaskError(w, r, job.TaskID, err)
		return
	}
	resp.Summary = sum
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.progress.Get(r.Context(), chi.URLParam(r, "taskId"))
	if errors.Is(err, progress.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.progress.Delete(r.Context(), chi.URLParam(r, "taskId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSummaries(w http.ResponseWriter, r *http.Request) {
	id, ok := signedIn(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, err := s.summaries.ListSummaries(r.Context(), id.Key, store.SummaryFilter{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": list})
}

// getSummary serves the caller's own summary, anonymous callers included,
// so a polling client can fetch the result of an async job.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	sourceID, err := model.ParseSourceID(chi.URLParam(r, "sourceId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.summaries.GetSummary(r.Context(), id.Key, sourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sum == nil {
		writeMessage(w, http.StatusNotFound, "summary not found")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) deleteSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := signedIn(w, r)
	if !ok {
		return
	}
	sourceID, err := model.ParseSourceID(chi.URLParam(r, "sourceId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = s.summaries.DeleteSummary(r.Context(), id.Key, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "summary not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usageResponse struct {
	Kind      model.IdentityKind `json:"kind"`
	Scope     model.QuotaScope   `json:"scope"`
	Used      int                `json:"used"`
	Limit     int                `json:"limit"`
	Remaining int                `json:"remaining"`
	ResetsAt  string             `json:"resetsAt,omitempty"`
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeMessage(w, http.StatusNotFound, "usage reporting is disabled")
		return
	}
	id, _ := identity.FromContext(r.Context())
	u, err := s.usage.Usage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := usageResponse{Kind: u.Kind, Scope: u.Scope, Used: u.Used, Limit: u.Limit, Remaining: u.Remaining()}
	if !u.ResetsAt.IsZero() {
		resp.ResetsAt = u.ResetsAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Breakers any               `json:"breakers,omitempty"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	resp := readyResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			zap.L().Warn("api: readiness check failed", zap.String("check", name), zap.Error(err))
			return
		}
		resp.Checks[name] = "ok"
	}

	check("store", s.summaries.Ping(ctx))
	if p, ok := s.progress.(progress.Pinger); ok {
		check("progress", p.Ping(ctx))
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Snapshot()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// signedIn rejects anonymous callers.
func signedIn(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok || id.Kind == model.IdentityAnonymous {
		writeMessage(w, http.StatusUnauthorized, "Sign in to manage your summaries.")
		return model.Identity{}, false
	}
	return id, true
}
