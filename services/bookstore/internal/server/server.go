package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bookhaven/internal/ratelimit"
	"bookhaven/internal/usertoken"
	"bookhaven/internal/util"
	"bookhaven/pkg/auth"
	"bookhaven/services/bookstore/internal/app"
	"bookhaven/services/bookstore/internal/security"
)

const maxJSONBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis backs the register and login limiters. Nil disables rate limiting.
	Redis                      redis.Scripter
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	Alerter                    *security.AuditAlerter
	TrustedProxies             *util.TrustedProxies
	AllowedOrigins             []string
}

// Server exposes the bookstore HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
	trustedProxies  *util.TrustedProxies
	allowedOrigins  []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		alerter:        cfg.Alerter,
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.Redis != nil {
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "bookhaven:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.Redis, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.registerLimiter, err = newLimiter("register", registerLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithCORS(s.allowedOrigins)(s.gate(s.mux))
	return util.WithRequestID(util.WithRequestLog("bookstore", util.WithSecurityHeaders(handler)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.Handle("GET /auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("GET /auth/validate-token", s.authenticated(s.handleValidateToken))

	// catalog
	s.mux.HandleFunc("GET /books", s.handleListBooks)
	s.mux.HandleFunc("GET /books/featured", s.handleFeaturedBooks)
	s.mux.HandleFunc("GET /books/top-rated", s.handleTopRatedBooks)
	s.mux.HandleFunc("GET /books/genres", s.handleGenres)
	s.mux.HandleFunc("GET /books/related/{id}", s.handleRelatedBooks)
	s.mux.Handle("GET /books/mine", s.authenticated(s.handleMyBooks))
	s.mux.HandleFunc("GET /books/{id}", s.handleGetBook)
	s.mux.Handle("POST /books", s.authenticated(s.handleCreateBook))
	s.mux.Handle("PUT /books/{id}", s.authenticated(s.handleUpdateBook))
	s.mux.Handle("DELETE /books/{id}", s.authenticated(s.handleDeleteBook))

	// cart
	s.mux.Handle("GET /cart", s.authenticated(s.handleCart))
	s.mux.Handle("DELETE /cart", s.authenticated(s.handleClearCart))
	s.mux.Handle("POST /cart/add", s.authenticated(s.handleAddToCart))
	s.mux.Handle("POST /cart/checkout", s.authenticated(s.handleCheckout))
	s.mux.Handle("GET /cart/count", s.authenticated(s.handleCartCount))
	s.mux.Handle("GET /cart/total", s.authenticated(s.handleCartTotal))
	s.mux.Handle("PUT /cart/{bookId}", s.authenticated(s.handleUpdateCartItem))
	s.mux.Handle("DELETE /cart/{bookId}", s.authenticated(s.handleRemoveFromCart))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, auth.Identity)

// authenticated rejects requests the gate could not attach an identity to.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next(w, r, id)
	})
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

// writeAppError maps app and token error kinds to a status and error code.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, app.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, app.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, app.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, app.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, app.ErrUpstreamFetch):
		status, code = http.StatusBadGateway, "UPSTREAM_FETCH_FAILED"
	case errors.Is(err, app.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "INVALID_CREDENTIALS"
	case errors.Is(err, usertoken.ErrTokenExpired), errors.Is(err, usertoken.ErrMalformedToken):
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	msg := app.Message(err)
	if msg == "" {
		msg = err.Error()
	}
	writeError(w, r, status, code, msg)
}

// decodeJSON reads a bounded JSON body into dst and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

// audit logs a security event and feeds failures to the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := s.clientIP(r)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	if s.alerter == nil {
		return
	}
	res, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert check failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

// allowRate counts the request against limiter keyed by path and client IP.
// A nil limiter admits everything.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	if limiter == nil {
		return true
	}
	decision := limiter.Allow(r.Context(), r.URL.Path+"|"+s.clientIP(r))
	if decision.Allowed {
		return true
	}
	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.audit(r, event, security.OutcomeRateLimited)
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	return false
}
