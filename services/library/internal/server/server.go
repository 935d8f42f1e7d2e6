package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketbook/internal/ratelimit"
	"pocketbook/internal/util"
	"pocketbook/pkg/domain"
	"pocketbook/services/library/internal/app"
)

const (
	sessionCookie = "jwt"
	headerUserID  = "X-User-Id"
	headerUser    = "X-Username"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Redis backs the rate limiters when set; otherwise limits are per process.
	Redis                      *redis.Client
	LoginRateLimitPerMinute    int
	PasswordRateLimitPerMinute int
	MaxUploadFiles             int
	TrustedProxies             *util.TrustedProxies
	CORSOrigins                []string
	// Pages serves non-API paths behind the session gate. /login is served
	// without a session.
	Pages http.Handler
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// Server exposes the library HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	pages           http.Handler
	trustedProxies  *util.TrustedProxies
	corsOrigins     []string
	maxUploadFiles  int
	secureCookies   bool
	loginLimiter    ratelimit.Limiter
	passwordLimiter ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 5
	}
	maxFiles := cfg.MaxUploadFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if cfg.Redis == nil {
			return ratelimit.NewLocalLimiter(limit, time.Minute)
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "pocketbook:library:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	passwordLimiter, err := newLimiter("password", passwordLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		pages:           cfg.Pages,
		trustedProxies:  cfg.TrustedProxies,
		corsOrigins:     cfg.CORSOrigins,
		maxUploadFiles:  maxFiles,
		secureCookies:   cfg.SecureCookies,
		loginLimiter:    loginLimiter,
		passwordLimiter: passwordLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, stripIdentity(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/healthcheck", s.handleHealthcheck)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/info", s.authenticated(s.handleInfo))
	s.mux.Handle("/api/auth/password", s.authenticated(s.handleResetPassword))

	// books
	s.mux.Handle("/api/books", s.authenticated(s.handleBooks))
	s.mux.Handle("/api/books/", s.authenticated(s.handleBookByID))
	s.mux.Handle("/api/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/content/", s.authenticated(s.handleContent))
	s.mux.Handle("/api/progress", s.authenticated(s.handleProgressList))
	s.mux.Handle("/api/collections", s.authenticated(s.handleCollections))
	s.mux.Handle("/api/collections/", s.authenticated(s.handleCollectionByID))
	s.mux.Handle("/api/search/", s.authenticated(s.handleSearch))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))

	s.mux.HandleFunc("/api/", s.handleAPINotFound)
	s.mux.HandleFunc("/login", s.handleLoginPage)
	s.mux.HandleFunc("/login/", s.handleLoginPage)
	s.mux.Handle("/", s.pageGate(s.handlePage))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "yay!")
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		http.NotFound(w, r)
		return
	}
	s.pages.ServeHTTP(w, r)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if s.pages == nil {
		http.NotFound(w, r)
		return
	}
	s.pages.ServeHTTP(w, r)
}

// stripIdentity drops client supplied identity headers; only the session
// gate may set them.
func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerUser)
		next.ServeHTTP(w, r)
	})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated gates API routes: a missing, invalid, stale or revoked
// session cookie yields 401.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !app.CanAdminister(user) {
			s.audit(r, "library.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

// pageGate redirects browsers without a valid session to the login page.
func (s *Server) pageGate(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next(w, r, user)
	})
}

// authorize verifies the session cookie and, on success, forwards the
// identity to handlers through the X-User-Id and X-Username headers.
func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return domain.User{}, false
	}
	user, ok, err := s.app.Authenticate(r.Context(), c.Value)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("session check failed", "err", err)
		return domain.User{}, false
	}
	if !ok {
		s.audit(r, "library.session.verify", "fail", "reason", "invalid_or_expired")
		return domain.User{}, false
	}
	r.Header.Set(headerUserID, user.ID)
	r.Header.Set(headerUser, user.Username)
	return user, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	util.LogSecurityEvent(r.Context(), event, outcome, append(logAttrs, attrs...)...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// pathID returns the single path segment after prefix, or "".
func pathID(path, prefix string) string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
