// Package middleware provides HTTP middleware for the mission gateway.
package middleware

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/session"
	"go.uber.org/zap"
)

// StructuredLogger returns a middleware that logs HTTP requests with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			s := session.FromContext(r.Context())
			logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("account", s.AccountID()),
				zap.String("role", string(s.Role())),
			)
		})
	}
}

// SecurityHeaders sets the response headers every page and API answer carries
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}

// SessionLoader resolves a session id to a Session
type SessionLoader interface {
	Load(ctx context.Context, id string) (session.Session, error)
}

// LoadSession resolves the session cookie and attaches the result to the
// request context. A missing, unknown or expired session is Anonymous; a
// store failure is logged and also treated as Anonymous.
func LoadSession(loader SessionLoader, cookieName string, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id string
				s  session.Session = session.Anonymous{}
			)
			if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
				id = c.Value
				loaded, err := loader.Load(r.Context(), id)
				if err != nil {
					logger.Errorw("Failed to load session", "error", err)
				} else {
					s = loaded
				}
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), id, s)))
		})
	}
}

// RequireSession guards routes that need a signed-in user. API requests
// get a 401; page requests are redirected to the home page.
func RequireSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session.FromContext(r.Context()).Authenticated() {
				next.ServeHTTP(w, r)
				return
			}
			if isAPI(r) {
				writeJSONError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			http.Redirect(w, r, "/", http.StatusFound)
		})
	}
}

// RequireRole restricts a route to the given account types.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := session.FromContext(r.Context()).Role()
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			if isAPI(r) {
				writeJSONError(w, http.StatusForbidden, "Forbidden for this account type")
				return
			}
			http.Redirect(w, r, "/", http.StatusFound)
		})
	}
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error": "` + msg + `"}`))
}

// clientKey identifies the caller for rate limiting. Only a session that
// resolved to a signed-in user counts; an unknown cookie is just the address.
func clientKey(r *http.Request) string {
	if session.FromContext(r.Context()).Authenticated() {
		if id := session.IDFromContext(r.Context()); id != "" {
			return "session:" + id
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// RateLimit implements a simple in-memory rate limiter using a fixed one
// minute window per signed-in session, falling back to the client address.
func RateLimit(ctx context.Context, requestsPerMinute int) func(http.Handler) http.Handler {
	type client struct {
		count    int
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	// Cleanup stale entries every 5 minutes
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			mu.Lock()
			for key, c := range clients {
				if time.Since(c.lastSeen) > 2*time.Minute {
					delete(clients, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			mu.Lock()
			c, exists := clients[key]
			if !exists {
				clients[key] = &client{count: 1, lastSeen: time.Now()}
				mu.Unlock()
				next.ServeHTTP(w, r)
				return
			}

			if time.Since(c.lastSeen) > time.Minute {
				c.count = 1
				c.lastSeen = time.Now()
			} else {
				c.count++
			}

			if c.count > requestsPerMinute {
				mu.Unlock()
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the chat relay upgrade through the logger's wrapper.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
