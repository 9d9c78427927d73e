// Package web provides the HTTP server and handlers for the device import API.
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/netgrid/cmdb/internal/config"
	"github.com/netgrid/cmdb/internal/ingest"
	"github.com/netgrid/cmdb/internal/web/middleware"
)

// Server is the HTTP server for the device import application.
type Server struct {
	cfg     *config.Config
	factory *ingest.Factory
	limiter *ingest.ImportLimiter
	fields  []ingest.FieldDefinition

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance. fields is the effective device
// schema; nil means the canonical one.
func NewServer(cfg *config.Config, factory *ingest.Factory, limiter *ingest.ImportLimiter, fields []ingest.FieldDefinition) *Server {
	s := &Server{
		cfg:     cfg,
		factory: factory,
		limiter: limiter,
		fields:  fields,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		general := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(general.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Import endpoints carry their own, tighter rate limit.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled {
				importLimiter := newRateLimiter(s.cfg.Rate.ImportLimit, time.Minute)
				r.Use(importLimiter.middleware)
			}
			r.Post("/import", s.handleImport)
			r.Post("/import/stream", s.handleImportStream)
		})

		// Templates and export
		r.Get("/template/{format}", s.handleTemplate)
		r.Post("/export/{format}", s.handleExport)

		// Format and schema discovery
		r.Get("/formats", s.handleFormats)
		r.Get("/fields", s.handleFields)

		// Streaming operation registry
		r.Get("/operations", s.handleListOperations)
		r.Get("/operations/{operationID}", s.handleGetOperation)
		r.Post("/operations/{operationID}/cancel", s.handleCancelOperation)
		r.Delete("/operations/{operationID}", s.handleForgetOperation)
		r.Post("/operations/cancel-all", s.handleCancelAll)

		// Adapter statistics
		r.Get("/stats", s.handleStats)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// XSS protection (legacy but still useful for older browsers)
			w.Header().Set("X-XSS-Protection", "1; mode=block")

			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'")
			}

			// Control referrer information
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Start cleanup goroutine
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
