// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	xglog "github.com/videotag/pipeline/internal/log"
)

// Recoverer is chi's stock panic handler, the outermost layer of the stack.
// Panics in route handlers are answered by the JSON panic recovery the
// server mounts around its routes; this catches panics raised by the
// middleware in between.
var Recoverer = chimw.Recoverer

// RequestID uses an existing X-Request-ID header or generates a fresh one,
// echoes it on the response, and propagates it through the context so the
// logging middleware and error responses can correlate on it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", reqID)
		ctx := xglog.ContextWithRequestID(r.Context(), reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
