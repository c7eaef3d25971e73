package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/audit"
)

// SubmissionLister reads stored submissions
type SubmissionLister interface {
	List(ctx context.Context, kind audit.Kind, limit int) ([]audit.Submission, error)
}

var _ SubmissionLister = (*audit.Store)(nil)

// AdminHandler serves staff-only endpoints
type AdminHandler struct {
	lister SubmissionLister
	logger *zap.Logger
}

// NewAdminHandler creates a new handler
func NewAdminHandler(lister SubmissionLister, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{lister: lister, logger: logger}
}

// Routes returns the handler routes
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/submissions", h.ListSubmissions)
	return r
}

// ListSubmissions handles GET /submissions?kind=&limit=
func (h *AdminHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := audit.Kind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		jsonError(w, "unknown kind", http.StatusBadRequest)
		return
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	subs, err := h.lister.List(r.Context(), kind, limit)
	if err != nil {
		h.logger.Error("failed to list submissions", zap.Error(err))
		jsonError(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"count":       len(subs),
	})
}
