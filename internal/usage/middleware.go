package usage

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/auth"
	"github.com/darwin7381/ga4-realtime-api/internal/model"
)

// maxErrorBody caps how much of a failed response is kept for its message.
const maxErrorBody = 4 << 10

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	if w.status >= http.StatusBadRequest && w.body.Len() < maxErrorBody {
		w.body.Write(b[:min(len(b), maxErrorBody-w.body.Len())])
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records every request that reached a handler with a resolved
// identity. Mount it inside auth.RequireIdentity; requests rejected by the
// resolver are not usage.
func Middleware(rec *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			cw := &capturingWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(cw, r)

			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				return
			}
			entry := model.UsageLog{
				Caller:         id.Name(),
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     cw.status,
				ResponseTimeMS: time.Since(start).Milliseconds(),
				UserAgent:      r.UserAgent(),
				IPAddress:      clientIP(r),
			}
			if uid, ok := auth.UserID(id); ok {
				entry.UserID = &uid
			}
			if cw.status >= http.StatusBadRequest {
				entry.ErrorMessage = errorMessage(cw.body.Bytes(), cw.status)
			}
			rec.Record(r.Context(), entry)
		})
	}
}

// errorMessage pulls the "error" field out of a JSON error body, falling
// back to the status text.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return http.StatusText(status)
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
