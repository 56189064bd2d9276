package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/provenance-service/internal/core"
	"github.com/R3E-Network/provenance-service/internal/domain"
	"github.com/R3E-Network/provenance-service/internal/logging"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "httpapi.request_id"
	ctxActorIDKey   ctxKey = "httpapi.actor_id"
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestIDKey).(string)
	return id
}

func actorIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxActorIDKey).(string)
	return id
}

// requestIDMiddleware honors an inbound X-Request-Id or generates one, and
// always emits it back on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxRequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorIDMiddleware threads X-Actor-Id through to handlers and audit
// emission; it is informational only, never an auth boundary.
func actorIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
		ctx := context.WithValue(r.Context(), ctxActorIDKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var publicPaths = map[string]struct{}{
	"/health":  {},
	"/healthz": {},
	"/metrics": {},
}

// apiKeyMiddleware enforces X-API-Key when require_api_key is enabled.
// Disabled deployments pass every request through unchanged.
func apiKeyMiddleware(required bool, keys []string) func(http.Handler) http.Handler {
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			keySet[k] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !required {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if key == "" {
				writeError(w, r, svcUnauthenticated("missing X-API-Key"))
				return
			}
			if _, ok := keySet[key]; !ok {
				writeError(w, r, svcUnauthenticated("invalid X-API-Key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditMiddleware records request/response pairs as request.completed audit
// events, matching the corpus's per-request audit log, generalized from a
// single accounts-API shape to every route this service exposes.
func auditMiddleware(c *core.Core, log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			if c == nil || c.Audit == nil {
				return
			}
			severity := domain.SeverityInfo
			if rec.status >= 500 {
				severity = domain.SeverityError
			} else if rec.status >= 400 {
				severity = domain.SeverityWarning
			}
			c.Audit.Emit(r.Context(), "request.completed", severity, map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}, actorIDFrom(r.Context()), requestIDFrom(r.Context()))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
