package display

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/pageshot/internal/idgen"
	"github.com/hazyhaar/pageshot/internal/kit"
)

// securityHeaders forbids framing and sniffing. Composites are served as
// same-origin images only.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// headToGet lets GET routes answer HEAD; net/http drops the body.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags each request with an ID in its context, its response
// headers and a debug log line.
func requestID(logger *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := gen()
			w.Header().Set("X-Request-ID", id)
			logger.Debug("display: request",
				"request_id", id, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
