package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/domain/aggregate"
	"github.com/example/ec-eventstore/internal/replay"
)

// AdminHandlers exposes the operational surface: replay jobs, projection
// rebuilds and snapshot retention.
type AdminHandlers struct {
	engine *replay.Engine
	repo   *aggregate.Repository
	logger *zap.Logger
}

func NewAdminHandlers(engine *replay.Engine, repo *aggregate.Repository, logger *zap.Logger) *AdminHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandlers{
		engine: engine,
		repo:   repo,
		logger: logger.With(zap.String("component", "admin_api")),
	}
}

type replayAggregateRequest struct {
	FromSequence int  `json:"from_sequence"`
	ToSequence   int  `json:"to_sequence"`
	DryRun       bool `json:"dry_run"`
	ResetFirst   bool `json:"reset_first"`
}

type rebuildProjectionRequest struct {
	FromTime   time.Time `json:"from_time"`
	ToTime     time.Time `json:"to_time"`
	BatchSize  int       `json:"batch_size"`
	DryRun     bool      `json:"dry_run"`
	ResetFirst bool      `json:"reset_first"`
}

func (h *AdminHandlers) ReplayAggregate(w http.ResponseWriter, r *http.Request) {
	aggregateID := extractPathParam(r.URL.Path, "/admin/replay/aggregates/")

	var req replayAggregateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	jobID, err := h.engine.ReplayAggregate(r.Context(), aggregateID, replay.ReplayOptions{
		FromSequence: req.FromSequence,
		ToSequence:   req.ToSequence,
		DryRun:       req.DryRun,
		ResetFirst:   req.ResetFirst,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("aggregate replay started",
		zap.String("aggregate_id", aggregateID),
		zap.String("job_id", jobID),
		zap.Bool("dry_run", req.DryRun))
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *AdminHandlers) RebuildProjection(w http.ResponseWriter, r *http.Request) {
	name := extractPathParam(r.URL.Path, "/admin/replay/projections/")

	var req rebuildProjectionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	jobID, err := h.engine.RebuildProjection(r.Context(), name, replay.RebuildOptions{
		FromTime:   req.FromTime,
		ToTime:     req.ToTime,
		BatchSize:  req.BatchSize,
		DryRun:     req.DryRun,
		ResetFirst: req.ResetFirst,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("projection rebuild started",
		zap.String("projection", name),
		zap.String("job_id", jobID))
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *AdminHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.engine.Jobs(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (h *AdminHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := extractPathParam(r.URL.Path, "/admin/jobs/")

	job, err := h.engine.Status(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *AdminHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSuffix(extractPathParam(r.URL.Path, "/admin/jobs/"), "/cancel")

	if err := h.engine.Cancel(r.Context(), jobID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "cancellation requested"})
}

func (h *AdminHandlers) CleanupSnapshots(w http.ResponseWriter, r *http.Request) {
	aggregateID := strings.TrimSuffix(extractPathParam(r.URL.Path, "/admin/snapshots/"), "/cleanup")

	var req struct {
		KeepCount int    `json:"keep_count"`
		MaxAge    string `json:"max_age"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.KeepCount <= 0 {
		http.Error(w, "keep_count must be positive", http.StatusBadRequest)
		return
	}
	var maxAge time.Duration
	if req.MaxAge != "" {
		parsed, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			http.Error(w, "invalid max_age: "+err.Error(), http.StatusBadRequest)
			return
		}
		maxAge = parsed
	}

	deleted, err := h.repo.DeleteOldSnapshots(r.Context(), aggregateID, req.KeepCount, maxAge)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	h.logger.Info("snapshot cleanup finished",
		zap.String("aggregate_id", aggregateID),
		zap.Int("deleted", deleted))
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
