package bestrx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/observability/metrics"
	"github.com/drfirst/go-rxportal/pkg/circuitbreaker"
)

// Production endpoints
const (
	RefillURL   = "https://webservice.bcsbestrx.com/bcswebservice/v2/webrefillservice/SendRefillRequest"
	TransferURL = "https://dataservice.bestrxconnect.com/prescription/submitrxtransferrequest"
)

// Endpoint names used for breakers, spans and metrics
const (
	EndpointRefill   = "refill"
	EndpointTransfer = "transfer"
)

// ErrTransport wraps every failure to obtain a response: connection
// errors, timeouts, an open breaker or an unreadable body
var ErrTransport = errors.New("bestrx transport failure")

// Config holds client configuration
type Config struct {
	RefillURL   string
	TransferURL string
	// Timeout bounds each request, zero means no client-side limit
	Timeout time.Duration
	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes int64
}

// DefaultConfig returns the production endpoints
func DefaultConfig() Config {
	return Config{
		RefillURL:        RefillURL,
		TransferURL:      TransferURL,
		Timeout:          30 * time.Second,
		MaxResponseBytes: 1 << 20,
	}
}

// Reply is a raw upstream response
type Reply struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *Reply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client posts requests to BestRX
type Client struct {
	http     *http.Client
	cfg      Config
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewClient creates a client. breakers and m may be nil.
func NewClient(cfg Config, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.RefillURL == "" {
		cfg.RefillURL = def.RefillURL
	}
	if cfg.TransferURL == "" {
		cfg.TransferURL = def.TransferURL
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		breakers: breakers,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("bestrx-client"),
	}
}

// SendRefill posts a refill request
func (c *Client) SendRefill(ctx context.Context, p RefillPayload) (*Reply, error) {
	return c.post(ctx, EndpointRefill, c.cfg.RefillURL, p, nil)
}

// SendTransfer posts a transfer request with the given Authorization value
func (c *Client) SendTransfer(ctx context.Context, p TransferPayload, authorization string) (*Reply, error) {
	h := http.Header{}
	h.Set("Authorization", authorization)
	return c.post(ctx, EndpointTransfer, c.cfg.TransferURL, p, h)
}

func (c *Client) post(ctx context.Context, endpoint, url string, payload any, header http.Header) (*Reply, error) {
	ctx, span := c.tracer.Start(ctx, "bestrx_"+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("bestrx.endpoint", endpoint)))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", endpoint, err)
	}

	call := func() (any, error) {
		return c.do(ctx, url, body, header)
	}

	start := time.Now()
	var result any
	if c.breakers != nil {
		cb, berr := c.breakers.Get("bestrx-" + endpoint)
		if berr != nil {
			return nil, fmt.Errorf("circuit breaker: %w", berr)
		}
		result, err = cb.Execute(ctx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
	} else {
		result, err = call()
	}
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Warn("bestrx request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return nil, err
	}

	reply := result.(*Reply)
	span.SetAttributes(attribute.Int("http.status_code", reply.StatusCode))
	c.logger.Info("bestrx request completed",
		zap.String("endpoint", endpoint),
		zap.Int("status", reply.StatusCode),
		zap.Duration("duration", elapsed))
	return reply, nil
}

func (c *Client) do(ctx context.Context, url string, body []byte, header http.Header) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return &Reply{StatusCode: resp.StatusCode, Body: data}, nil
}
