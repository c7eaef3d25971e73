// Package handlers provides HTTP handlers for the portal API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/api/middleware"
	"github.com/drfirst/go-rxportal/internal/audit"
	"github.com/drfirst/go-rxportal/internal/forms"
	"github.com/drfirst/go-rxportal/internal/submission"
)

// Messages for requests that never reach the orchestrator
const (
	MsgMalformed   = "Invalid request. Please check your information and try again."
	MsgInvalidForm = "Please correct the highlighted fields and try again."
	MsgTooLarge    = "Your submission is too large."
)

// Submitter runs form submissions
type Submitter interface {
	SubmitRefill(ctx context.Context, form forms.RefillRequest) submission.Result
	SubmitTransfer(ctx context.Context, form forms.TransferRequest) submission.Result
	SubmitContact(ctx context.Context, form forms.ContactRequest) submission.Result
	SubmitWaitlist(ctx context.Context, form forms.WaitlistRequest) submission.Result
}

var _ Submitter = (*submission.Orchestrator)(nil)

// SubmissionResponse is the body returned for every form post
type SubmissionResponse struct {
	submission.Result
	Status submission.Status `json:"status"`
	Errors []forms.FieldError `json:"errors,omitempty"`
}

// SubmissionHandler handles the public form endpoints
type SubmissionHandler struct {
	submitter Submitter
	logger    *zap.Logger
}

// NewSubmissionHandler creates a new handler
func NewSubmissionHandler(submitter Submitter, logger *zap.Logger) *SubmissionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionHandler{submitter: submitter, logger: logger}
}

// Routes returns the handler routes
func (h *SubmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/refills", h.Refill)
	r.Post("/transfers", h.Transfer)
	r.Post("/contact", h.Contact)
	r.Post("/waitlist", h.Waitlist)
	return r
}

// Refill handles POST /refills
func (h *SubmissionHandler) Refill(w http.ResponseWriter, r *http.Request) {
	serveForm(h, w, r, h.submitter.SubmitRefill)
}

// Transfer handles POST /transfers
func (h *SubmissionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	serveForm(h, w, r, h.submitter.SubmitTransfer)
}

// Contact handles POST /contact
func (h *SubmissionHandler) Contact(w http.ResponseWriter, r *http.Request) {
	serveForm(h, w, r, h.submitter.SubmitContact)
}

// Waitlist handles POST /waitlist
func (h *SubmissionHandler) Waitlist(w http.ResponseWriter, r *http.Request) {
	serveForm(h, w, r, h.submitter.SubmitWaitlist)
}

// serveForm decodes and validates a form, then runs one submission
func serveForm[F any](h *SubmissionHandler, w http.ResponseWriter, r *http.Request, submit func(context.Context, F) submission.Result) {
	var form F
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, MsgTooLarge, nil)
			return
		}
		h.reject(w, http.StatusBadRequest, MsgMalformed, nil)
		return
	}

	if err := forms.Validate(form); err != nil {
		var verrs forms.ValidationErrors
		if errors.As(err, &verrs) {
			h.reject(w, http.StatusUnprocessableEntity, MsgInvalidForm, verrs)
			return
		}
		h.logger.Error("form validation failed", zap.Error(err))
		h.reject(w, http.StatusBadRequest, MsgMalformed, nil)
		return
	}

	ctx := audit.WithCorrelationID(r.Context(), middleware.GetRequestID(r.Context()))

	// per-request tracker; it only reports status, duplicate prevention is
	// left to the caller
	tracker := submission.NewTracker()
	_ = tracker.Begin()
	result := submit(ctx, form)
	status := tracker.Finish(result)

	writeJSON(w, statusFor(result), SubmissionResponse{Result: result, Status: status})
}

func (h *SubmissionHandler) reject(w http.ResponseWriter, code int, message string, errs []forms.FieldError) {
	writeJSON(w, code, SubmissionResponse{
		Result: submission.Result{Message: message},
		Status: submission.StatusError,
		Errors: errs,
	})
}

// statusFor maps a result to its HTTP status
func statusFor(r submission.Result) int {
	if r.Success {
		return http.StatusOK
	}
	switch r.Failure {
	case submission.FailureConfiguration:
		return http.StatusServiceUnavailable
	case submission.FailureRejected, submission.FailureTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
