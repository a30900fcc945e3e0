package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
	apperr "github.com/unmappedos-sys/unmappedOS-sub002/pkg/error"
)

// EntityHandler serves signal ingestion and the read-only views
type EntityHandler struct {
	killSwitch *usecase.KillSwitchUseCase
	summary    *usecase.SummaryUseCase
	logger     logger.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(killSwitch *usecase.KillSwitchUseCase, summary *usecase.SummaryUseCase, log logger.Logger) *EntityHandler {
	return &EntityHandler{
		killSwitch: killSwitch,
		summary:    summary,
		logger:     log,
	}
}

// RegisterRoutes registers entity routes
func (h *EntityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/entities", h.ListRecords).Methods("GET")
	router.HandleFunc("/v1/entities/{type}/{id}", h.GetRecord).Methods("GET")
	router.HandleFunc("/v1/entities/{type}/{id}/anomalies", h.Evaluate).Methods("POST")
	router.HandleFunc("/v1/entities/{type}/{id}/hazards", h.SubmitHazard).Methods("POST")
	router.HandleFunc("/v1/entities/{type}/{id}/prices", h.SubmitPrice).Methods("POST")
	router.HandleFunc("/v1/entities/{type}/{id}/freshness", h.RecordFreshness).Methods("POST")
	router.HandleFunc("/v1/entities/{type}/{id}/audit", h.ExportAudit).Methods("GET")
	router.HandleFunc("/v1/entities/{type}/{id}/audit/verify", h.VerifyAudit).Methods("GET")
	router.HandleFunc("/v1/summary", h.Summary).Methods("GET")
	router.HandleFunc("/v1/anomalies", h.ListAnomalies).Methods("GET")
}

// RecordView is a record together with its display verdict
type RecordView struct {
	*domain.KillSwitchRecord
	Visibility domain.Visibility `json:"visibility"`
}

func newRecordView(rec *domain.KillSwitchRecord) RecordView {
	return RecordView{KillSwitchRecord: rec, Visibility: rec.Visibility()}
}

func entityKey(r *http.Request) (domain.EntityKey, error) {
	vars := mux.Vars(r)
	return domain.NewEntityKey(vars["type"], vars["id"])
}

// Evaluate handles a generic anomaly report
func (h *EntityHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req usecase.EvaluateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	req.Key = key

	result, err := h.killSwitch.Evaluate(ctx, req)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Anomaly evaluated", result)
}

// SubmitHazard handles a hazard submission
func (h *EntityHandler) SubmitHazard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req usecase.HazardRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	req.Key = key

	result, err := h.killSwitch.SubmitHazard(ctx, req)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Hazard evaluated", result)
}

// SubmitPrice handles a price observation
func (h *EntityHandler) SubmitPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var obs usecase.PriceObservation
	if err := decodeJSON(r, &obs, false); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	obs.Key = key

	result, err := h.killSwitch.SubmitPriceObservation(ctx, obs)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Price observation evaluated", result)
}

type freshnessRequest struct {
	RegionID    string    `json:"region_id"`
	LastUpdated time.Time `json:"last_updated"`
}

// RecordFreshness stores the entity's last data update
func (h *EntityHandler) RecordFreshness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req freshnessRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	rec, err := h.killSwitch.RecordFreshness(ctx, key, req.RegionID, req.LastUpdated)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Freshness recorded", newRecordView(rec))
}

// GetRecord returns one record with its visibility
func (h *EntityHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	rec, err := h.killSwitch.GetRecord(ctx, key)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Record retrieved", newRecordView(rec))
}

// ListRecords lists records filtered by region, state and entity type
func (h *EntityHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := domain.RecordFilter{}
	if region := query.Get("region"); region != "" {
		filter.RegionID = &region
	}
	if entityType := query.Get("entity_type"); entityType != "" {
		filter.EntityType = &entityType
	}
	if raw := query.Get("state"); raw != "" {
		state := domain.State(strings.ToUpper(raw))
		filter.State = &state
	}

	records, err := h.killSwitch.ListRecords(ctx, filter)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	success(w, http.StatusOK, "Records retrieved", map[string]interface{}{
		"records": views,
		"total":   len(views),
	})
}

// ExportAudit writes the audit trail as plain text
func (h *EntityHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	// Load first so a missing record still gets a JSON error.
	if _, err := h.killSwitch.GetRecord(ctx, key); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.killSwitch.ExportAudit(ctx, key, w); err != nil {
		h.logger.Error(ctx, "Audit export interrupted", err, map[string]interface{}{
			"entity": key.String(),
		})
	}
}

// VerifyAudit replays the audit log and reports whether it matches the record
func (h *EntityHandler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	result, err := h.killSwitch.VerifyAudit(ctx, key)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Audit verified", result)
}

// Summary returns the operational summary
func (h *EntityHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	opts := domain.SummaryOptions{}
	if region := query.Get("region"); region != "" {
		opts.RegionID = &region
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(ctx, w, h.logger, apperr.ErrInvalidRequest("limit must be a positive integer"))
			return
		}
		opts.RecentKill = limit
	}
	if raw := query.Get("window_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			writeError(ctx, w, h.logger, apperr.ErrInvalidRequest("window_days must be a positive integer"))
			return
		}
		opts.Window = time.Duration(days) * 24 * time.Hour
	}

	summary, err := h.summary.Summarize(ctx, opts)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Summary retrieved", summary)
}

// ListAnomalies lists anomaly reports
func (h *EntityHandler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	filter := domain.AnomalyFilter{}
	if entityType := query.Get("entity_type"); entityType != "" {
		filter.EntityType = &entityType
	}
	if entityID := query.Get("entity_id"); entityID != "" {
		filter.EntityID = &entityID
	}
	if region := query.Get("region"); region != "" {
		filter.RegionID = &region
	}
	if raw := query.Get("anomaly_type"); raw != "" {
		anomalyType := domain.AnomalyType(strings.ToUpper(raw))
		filter.AnomalyType = &anomalyType
	}
	if raw := query.Get("unresolved"); raw != "" {
		unresolved, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(ctx, w, h.logger, apperr.ErrInvalidRequest("unresolved must be a boolean"))
			return
		}
		filter.UnresolvedOnly = unresolved
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	reports, err := h.killSwitch.ListAnomalies(ctx, filter)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Anomalies retrieved", map[string]interface{}{
		"anomalies": reports,
		"total":     len(reports),
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}
