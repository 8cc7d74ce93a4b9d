// Package requestid assigns a correlation ID to every request. Incoming
// X-Request-ID headers are honored so the admin front end can stitch its own
// traces together; otherwise a fresh UUID is minted.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"correlate/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware stores the request ID in the context and echoes it on the
// response so clients can report it when asking for support.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerName)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(headerName, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
