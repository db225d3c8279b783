// Package httptransport is the thin HTTP layer. Handlers delegate to
// domain services; transport concerns stay isolated here.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"warden/internal/explain"
	"warden/pkg/platform/sentinel"
)

// Reconciler triggers a catalog reconciliation for one identity.
type Reconciler interface {
	ReconcileIdentity(ctx context.Context, nameOrID string) (int, error)
}

// Explainer resolves entitlement display information.
type Explainer interface {
	Get(ctx context.Context, application, attribute, value string) (*explain.Entry, error)
	GetPermission(ctx context.Context, application, target string) (*explain.Entry, error)
	Refresh(ctx context.Context) error
}

// Handler serves the reconciliation API.
type Handler struct {
	logger     *slog.Logger
	reconciler Reconciler
	explainer  Explainer
}

// NewHandler creates the HTTP handler.
func NewHandler(reconciler Reconciler, explainer Explainer, logger *slog.Logger) *Handler {
	return &Handler{
		logger:     logger,
		reconciler: reconciler,
		explainer:  explainer,
	}
}

// handleReconcile runs catalog reconciliation for one identity,
// named by name or id in the URL.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	identity := pathParam(r, "identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}
	created, err := h.reconciler.ReconcileIdentity(r.Context(), identity)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"created":  created,
	})
}

// handleExplain resolves one entitlement value's display information.
// Query parameters: application, attribute, value. An empty attribute
// asks for a permission target instead.
func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	application := q.Get("application")
	attribute := q.Get("attribute")
	value := q.Get("value")
	if application == "" || value == "" {
		writeError(w, http.StatusBadRequest, "application and value are required")
		return
	}
	var (
		entry *explain.Entry
		err   error
	)
	if attribute == "" {
		entry, err = h.explainer.GetPermission(r.Context(), application, value)
	} else {
		entry, err = h.explainer.Get(r.Context(), application, attribute, value)
	}
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no catalog entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleExplainRefresh forces an explanation cache reload.
func (h *Handler) handleExplainRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.explainer.Refresh(r.Context()); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sentinel.ErrAmbiguous), errors.Is(err, sentinel.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrLocked):
		status = http.StatusLocked
	case errors.Is(err, sentinel.ErrInvalidState):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
