package httpapi

import (
	"net/http"

	"github.com/signalsfoundry/coverage-simulator/internal/logging"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware ensures a request_id is present on the context,
// sourcing it from the inbound header if provided, echoes it on the
// response and attaches a per-request logger annotated with request_id and
// route.
func RequestIDMiddleware(base logging.Logger, route string, next http.Handler) http.Handler {
	if base == nil {
		base = logging.Noop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(RequestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(logging.String("route", route)))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		w.Header().Set(RequestIDHeader, logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
