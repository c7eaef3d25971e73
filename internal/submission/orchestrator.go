package submission

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/audit"
	"github.com/drfirst/go-rxportal/internal/bestrx"
	"github.com/drfirst/go-rxportal/internal/forms"
	"github.com/drfirst/go-rxportal/internal/observability/metrics"
)

// PharmacyAPI is the pharmacy service as the orchestrator sees it
type PharmacyAPI interface {
	SendRefill(ctx context.Context, p bestrx.RefillPayload) (*bestrx.Reply, error)
	SendTransfer(ctx context.Context, p bestrx.TransferPayload, authorization string) (*bestrx.Reply, error)
}

var _ PharmacyAPI = (*bestrx.Client)(nil)

const defaultAuditTimeout = 10 * time.Second

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the clock used for transfer dates
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records submission outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAuditTimeout bounds the audit write after a successful pharmacy call.
// Non-positive values keep the default.
func WithAuditTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.auditTimeout = d
		}
	}
}

// Orchestrator runs one primary call and at most one audit write per
// submission. It keeps no state between calls and never retries.
type Orchestrator struct {
	creds        Credentials
	api          PharmacyAPI
	sink         audit.Sink
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *metrics.Metrics
	now          func() time.Time
	auditTimeout time.Duration
}

// New creates an orchestrator
func New(creds Credentials, api PharmacyAPI, sink audit.Sink, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		creds:        creds,
		api:          api,
		sink:         sink,
		logger:       logger,
		tracer:       otel.Tracer("submission"),
		now:          time.Now,
		auditTimeout: defaultAuditTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// primaryOutcome is what the pharmacy call decided
type primaryOutcome struct {
	accepted bool
	failure  FailureKind
	message  string
	body     json.RawMessage
}

// auditOutcome is what the audit write did; it never changes the Result
type auditOutcome struct {
	err error
}

// SubmitRefill sends a refill request and audits it on success
func (o *Orchestrator) SubmitRefill(ctx context.Context, form forms.RefillRequest) Result {
	ctx, span := o.start(ctx, audit.KindRefill)
	defer span.End()

	if !o.creds.RefillReady() {
		return o.finish(span, audit.KindRefill, failed(FailureConfiguration, MsgNotConfigured))
	}

	payload := bestrx.BuildRefillPayload(form, o.creds.PharmacyNumber, o.creds.APIKey, o.creds.Username)
	reply, err := o.api.SendRefill(ctx, payload)
	primary := o.interpret(ctx, audit.KindRefill, reply, err,
		bestrx.ValidateRefillResponse, bestrx.ExtractRefillErrorMessage)
	if !primary.accepted {
		return o.finish(span, audit.KindRefill, failed(primary.failure, primary.message))
	}

	o.recordAudit(ctx, audit.KindRefill, func(ctx context.Context) error {
		return o.sink.RecordRefill(ctx, audit.RefillRecord{Form: form, Response: primary.body})
	})
	return o.finish(span, audit.KindRefill, succeeded(MsgRefillSubmitted, primary.body))
}

// SubmitTransfer sends a transfer request and audits it on success
func (o *Orchestrator) SubmitTransfer(ctx context.Context, form forms.TransferRequest) Result {
	ctx, span := o.start(ctx, audit.KindTransfer)
	defer span.End()

	if !o.creds.TransferReady() {
		return o.finish(span, audit.KindTransfer, failed(FailureConfiguration, MsgNotConfigured))
	}

	payload := bestrx.BuildTransferPayload(form, o.creds.PharmacyNumber, o.now())
	authorization := bestrx.BuildAuthHeader(o.creds.Username, o.creds.Password)
	reply, err := o.api.SendTransfer(ctx, payload, authorization)
	primary := o.interpret(ctx, audit.KindTransfer, reply, err,
		bestrx.ValidateTransferResponse, bestrx.ExtractTransferErrorMessage)
	if !primary.accepted {
		return o.finish(span, audit.KindTransfer, failed(primary.failure, primary.message))
	}

	o.recordAudit(ctx, audit.KindTransfer, func(ctx context.Context) error {
		return o.sink.RecordTransfer(ctx, audit.TransferRecord{Form: form, Response: primary.body})
	})
	return o.finish(span, audit.KindTransfer, succeeded(MsgTransferSubmitted, primary.body))
}

// SubmitContact saves a contact enquiry
func (o *Orchestrator) SubmitContact(ctx context.Context, form forms.ContactRequest) Result {
	ctx, span := o.start(ctx, audit.KindContact)
	defer span.End()

	if err := o.sink.RecordContact(ctx, form); err != nil {
		o.logger.Error("failed to save contact submission",
			zap.String("correlation_id", audit.CorrelationID(ctx)),
			zap.Error(err))
		span.RecordError(err)
		return o.finish(span, audit.KindContact, failed(FailureStore, MsgStoreFailed))
	}
	return o.finish(span, audit.KindContact, succeeded(MsgContactReceived, nil))
}

// SubmitWaitlist saves a waitlist registration
func (o *Orchestrator) SubmitWaitlist(ctx context.Context, form forms.WaitlistRequest) Result {
	ctx, span := o.start(ctx, audit.KindWaitlist)
	defer span.End()

	if err := o.sink.RecordWaitlist(ctx, form); err != nil {
		o.logger.Error("failed to save waitlist submission",
			zap.String("correlation_id", audit.CorrelationID(ctx)),
			zap.Error(err))
		span.RecordError(err)
		return o.finish(span, audit.KindWaitlist, failed(FailureStore, MsgStoreFailed))
	}
	return o.finish(span, audit.KindWaitlist, succeeded(MsgWaitlistJoined, nil))
}

// interpret turns the raw pharmacy reply into a primary outcome. Response
// bodies are never logged; they may carry patient data.
func (o *Orchestrator) interpret(
	ctx context.Context,
	kind audit.Kind,
	reply *bestrx.Reply,
	err error,
	validate func([]byte) bool,
	extract func([]byte) (string, bool),
) primaryOutcome {
	logger := o.logger.With(
		zap.String("kind", string(kind)),
		zap.String("correlation_id", audit.CorrelationID(ctx)))

	if err != nil || reply == nil {
		logger.Warn("pharmacy service unreachable", zap.Error(err))
		return primaryOutcome{failure: FailureTransport, message: MsgUnreachable}
	}

	// an unparsable body is a transport failure whatever the status
	if !json.Valid(reply.Body) {
		logger.Warn("pharmacy service returned unreadable body", zap.Int("status", reply.StatusCode))
		return primaryOutcome{failure: FailureTransport, message: MsgUnreachable}
	}
	if reply.OK() && validate(reply.Body) {
		return primaryOutcome{accepted: true, body: json.RawMessage(reply.Body)}
	}

	message, _ := extract(reply.Body)
	if message == "" {
		message = bestrx.MapErrorCode("", reply.StatusCode)
	}
	logger.Info("pharmacy service rejected submission", zap.Int("status", reply.StatusCode))
	return primaryOutcome{failure: FailureRejected, message: message}
}

// recordAudit performs the single best-effort audit write. It survives the
// caller cancelling ctx, since the pharmacy side already happened.
func (o *Orchestrator) recordAudit(ctx context.Context, kind audit.Kind, write func(context.Context) error) auditOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.auditTimeout)
	defer cancel()

	out := auditOutcome{err: write(ctx)}
	if out.err != nil {
		o.metrics.ObserveAuditFailure(string(kind))
		o.logger.Error("audit write failed",
			zap.String("kind", string(kind)),
			zap.String("correlation_id", audit.CorrelationID(ctx)),
			zap.Error(out.err))
		trace.SpanFromContext(ctx).AddEvent("audit_failed")
	}
	return out
}

func (o *Orchestrator) start(ctx context.Context, kind audit.Kind) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "submit_"+string(kind),
		trace.WithAttributes(
			attribute.String("submission.kind", string(kind)),
			attribute.String("correlation_id", audit.CorrelationID(ctx)),
		))
}

func (o *Orchestrator) finish(span trace.Span, kind audit.Kind, r Result) Result {
	outcome := outcomeLabel(r.Failure)
	o.metrics.ObserveSubmission(string(kind), outcome)
	span.SetAttributes(attribute.String("submission.outcome", outcome))
	if !r.Success {
		span.SetStatus(codes.Error, r.Failure.String())
	}
	return r
}

func outcomeLabel(k FailureKind) string {
	switch k {
	case FailureConfiguration:
		return metrics.OutcomeNotConfigured
	case FailureRejected:
		return metrics.OutcomeRejected
	case FailureTransport:
		return metrics.OutcomeUnreachable
	case FailureStore:
		return metrics.OutcomeStoreFailed
	default:
		return metrics.OutcomeSuccess
	}
}
