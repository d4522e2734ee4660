package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/circuit"
	"carelink/pkg/platform/sentinel"
)

// HTTPOption configures an HTTPRegistry.
type HTTPOption func(*HTTPRegistry)

// WithHTTPLogger sets the logger used for breaker state changes.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(r *HTTPRegistry) { r.logger = logger }
}

// HTTPRegistry talks to the client registry service over its JSON API. A
// circuit breaker guards the upstream: after repeated unavailability the
// registry fails fast until lookups start succeeding again.
type HTTPRegistry struct {
	client  *resty.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// NewHTTP builds a registry client against the given base URL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTPRegistry {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	r := &HTTPRegistry{
		client:  client,
		breaker: circuit.New("client-registry"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HTTPRegistry) Lookup(ctx context.Context, clientID id.ClientRef) (Client, error) {
	if r.breaker.IsOpen() {
		return Client{}, fmt.Errorf("registry lookup: %w: circuit open", sentinel.ErrUnavailable)
	}

	var out Client
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetPathParam("id", clientID.String()).
		Get("/clients/{id}")
	if err != nil {
		r.recordFailure(ctx)
		return Client{}, fmt.Errorf("registry lookup: %w: %w", sentinel.ErrUnavailable, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		r.recordSuccess(ctx)
		out.ID = clientID
		return out, nil
	case http.StatusNotFound:
		// The registry answered; an unknown client is not an outage.
		r.recordSuccess(ctx)
		return Client{}, sentinel.ErrNotFound
	default:
		r.recordFailure(ctx)
		return Client{}, fmt.Errorf("registry lookup: %w: status %d", sentinel.ErrUnavailable, resp.StatusCode())
	}
}

func (r *HTTPRegistry) recordFailure(ctx context.Context) {
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.WarnContext(ctx, "registry circuit opened", "breaker", r.breaker.Name())
	}
}

func (r *HTTPRegistry) recordSuccess(ctx context.Context) {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "registry circuit closed", "breaker", r.breaker.Name())
	}
}
