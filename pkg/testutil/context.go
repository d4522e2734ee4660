package testutil

import (
	"net/http"
	"time"

	"carelink/pkg/requestcontext"
)

// WithActor adds an authenticated actor and role to the request context,
// simulating what the auth middleware does for authenticated requests.
func WithActor(req *http.Request, actor, role string) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), actor, role)
	return req.WithContext(ctx)
}

// WithTime pins the request-scoped clock so timestamps in the response are
// deterministic.
func WithTime(req *http.Request, t time.Time) *http.Request {
	ctx := requestcontext.WithTime(req.Context(), t)
	return req.WithContext(ctx)
}

// WithRequestID adds a request correlation ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	ctx := requestcontext.WithRequestID(req.Context(), requestID)
	return req.WithContext(ctx)
}
