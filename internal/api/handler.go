// Package api provides HTTP handlers for the warehouse ETL REST API.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lakemart/internal/domain"
	"lakemart/internal/service/pipeline"
)

// Handler exposes pipeline runs, checkpoints and the quarantine sink.
type Handler struct {
	pipeline    *pipeline.Service
	checkpoints domain.CheckpointRepository
	runs        domain.RunRepository
	quarantine  domain.QuarantineRepository
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	pipe *pipeline.Service,
	checkpoints domain.CheckpointRepository,
	runs domain.RunRepository,
	quarantine domain.QuarantineRepository,
) *Handler {
	return &Handler{
		pipeline:    pipe,
		checkpoints: checkpoints,
		runs:        runs,
		quarantine:  quarantine,
	}
}

// RunReportResponse is the API representation of a stage run report.
type RunReportResponse struct {
	ID            string     `json:"id"`
	Stage         string     `json:"stage"`
	Status        string     `json:"status"`
	RowsRead      int64      `json:"rows_read"`
	RowsIngested  int64      `json:"rows_ingested"`
	MergedNew     int64      `json:"merged_new"`
	MergedUpdated int64      `json:"merged_updated"`
	Unchanged     int64      `json:"unchanged"`
	Quarantined   int64      `json:"quarantined"`
	FailedFiles   int64      `json:"failed_files"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// QuarantineResponse is the API representation of a quarantined row.
type QuarantineResponse struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Entity     string    `json:"entity"`
	NaturalKey string    `json:"natural_key"`
	Rule       string    `json:"rule"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// TriggerPipeline handles POST /v1/runs. It executes every stage in
// dependency order and returns the per-stage reports. A stage failure
// still returns the reports gathered so far, with 500.
func (h *Handler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	reports, err := h.pipeline.RunAll(r.Context())

	out := make([]RunReportResponse, len(reports))
	for i, rep := range reports {
		out[i] = runReportToAPI(rep)
	}
	if err != nil {
		writeJSON(w, httpStatusFromDomainError(err), map[string]any{
			"message": err.Error(),
			"reports": out,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

// TriggerStage handles POST /v1/runs/{stage}.
func (h *Handler) TriggerStage(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	report, err := h.pipeline.RunStage(r.Context(), stage)
	if err != nil && report == nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = httpStatusFromDomainError(err)
	}
	writeJSON(w, status, runReportToAPI(*report))
}

// ListRuns handles GET /v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	reports, err := h.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RunReportResponse, len(reports))
	for i, rep := range reports {
		out[i] = runReportToAPI(rep)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// GetCheckpoint handles GET /v1/checkpoints/{stream}.
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	consumed, err := h.checkpoints.ListConsumed(r.Context(), stream)
	if err != nil {
		writeError(w, err)
		return
	}
	files := make([]string, 0, len(consumed))
	for id := range consumed {
		files = append(files, id)
	}
	sort.Strings(files)
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":         stream,
		"consumed_files": files,
	})
}

// ResetCheckpoint handles DELETE /v1/checkpoints/{stream}. The next
// ingest run re-reads every file in the stream; bronze stays idempotent.
func (h *Handler) ResetCheckpoint(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	deleted, err := h.checkpoints.Reset(r.Context(), stream)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":        stream,
		"deleted_count": deleted,
	})
}

// ListQuarantine handles GET /v1/quarantine.
func (h *Handler) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	rows, err := h.quarantine.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]QuarantineResponse, len(rows))
	for i, q := range rows {
		out[i] = QuarantineResponse{
			ID:         q.ID,
			RunID:      q.RunID,
			Entity:     q.Entity,
			NaturalKey: q.NaturalKey,
			Rule:       q.Rule,
			Payload:    q.Payload,
			CreatedAt:  q.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- helpers ---

func runReportToAPI(r domain.RunReport) RunReportResponse {
	return RunReportResponse{
		ID:            r.ID,
		Stage:         r.Stage,
		Status:        r.Status,
		RowsRead:      r.RowsRead,
		RowsIngested:  r.RowsIngested,
		MergedNew:     r.MergedNew,
		MergedUpdated: r.MergedUpdated,
		Unchanged:     r.Unchanged,
		Quarantined:   r.Quarantined,
		FailedFiles:   r.FailedFiles,
		Error:         r.Error,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := httpStatusFromDomainError(err)
	writeJSON(w, code, map[string]any{"code": code, "message": err.Error()})
}
