package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/usecase"
)

// AdminHandler serves the operator actions. Every route sits behind
// OperatorAuth; the authenticated subject is the audit actor.
type AdminHandler struct {
	killSwitch *usecase.KillSwitchUseCase
	reconciler *usecase.ReconciliationUseCase
	logger     logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(killSwitch *usecase.KillSwitchUseCase, reconciler *usecase.ReconciliationUseCase, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		killSwitch: killSwitch,
		reconciler: reconciler,
		logger:     log,
	}
}

// RegisterRoutes registers admin routes on the authenticated subrouter
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/entities/{type}/{id}/kill", h.Kill).Methods("POST")
	router.HandleFunc("/entities/{type}/{id}/revive", h.Revive).Methods("POST")
	router.HandleFunc("/entities/{type}/{id}/permanent-kill", h.PermanentKill).Methods("POST")
	router.HandleFunc("/anomalies/{id}/resolve", h.ResolveAnomaly).Methods("POST")
	router.HandleFunc("/reconcile", h.Reconcile).Methods("POST")
}

type killRequest struct {
	Reason       domain.KillReason `json:"reason"`
	Details      map[string]string `json:"details"`
	DurationDays int               `json:"duration_days"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// Kill takes an entity offline
func (h *AdminHandler) Kill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req killRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	rec, err := h.killSwitch.ManualKill(ctx, usecase.ManualKillRequest{
		Key:          key,
		Reason:       req.Reason,
		Actor:        ActorFromContext(ctx),
		Details:      req.Details,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Entity killed", newRecordView(rec))
}

// Revive returns an entity to ACTIVE
func (h *AdminHandler) Revive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req noteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	rec, err := h.killSwitch.ManualRevive(ctx, key, ActorFromContext(ctx), req.Note)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Entity revived", newRecordView(rec))
}

// PermanentKill moves an entity to the terminal KILLED state
func (h *AdminHandler) PermanentKill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := entityKey(r)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	var req noteRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	rec, err := h.killSwitch.PermanentKill(ctx, key, ActorFromContext(ctx), req.Note)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Entity permanently killed", newRecordView(rec))
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// ResolveAnomaly marks a report reviewed
func (h *AdminHandler) ResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}

	report, err := h.killSwitch.ResolveAnomaly(ctx, mux.Vars(r)["id"], ActorFromContext(ctx), req.Notes)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Anomaly resolved", report)
}

// Reconcile runs a reconciliation pass immediately
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.logger.Info(ctx, "Manual reconciliation requested", map[string]interface{}{
		"actor": ActorFromContext(ctx),
	})

	result, err := h.reconciler.RunReconciliation(ctx)
	if err != nil {
		writeError(ctx, w, h.logger, err)
		return
	}
	success(w, http.StatusOK, "Reconciliation completed", result)
}
