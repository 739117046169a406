package middleware

import (
	"net/http"
	"time"

	"planning-board/internal/telemetry"
	"planning-board/internal/telemetry/domain"
)

type httpRequestData struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Pattern    string `json:"pattern,omitempty"`
	StatusCode int    `json:"statusCode"`
	DurationMs int64  `json:"durationMs"`
	ClientIP   string `json:"clientIp"`
}

// RequestEvents emits an http.request board event after each request. Best-effort: emits run
// asynchronously and failures are only logged. If emitter is nil, the middleware is a pass-through.
// skipPaths is the set of paths not to emit (e.g. health probes, the WebSocket endpoint).
func RequestEvents(emitter telemetry.EventEmitter, skipPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			userID, _ := GetUserID(r.Context())
			event := telemetry.NewEvent(domain.EventHTTPRequest, userID, r.PathValue("orderId"), r.PathValue("workCentreId"), httpRequestData{
				Method:     r.Method,
				Path:       r.URL.Path,
				Pattern:    r.Pattern,
				StatusCode: rec.code(),
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   ClientIP(r),
			})
			telemetry.EmitAsync(emitter, r.Context(), event)
		})
	}
}
