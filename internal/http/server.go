package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pocketexpense/internal/auth"
	"pocketexpense/internal/cache"
	"pocketexpense/internal/events"
	"pocketexpense/internal/stats"
	"pocketexpense/internal/storage"
)

// Server is the REST API over the record store and the stats engine.
type Server struct {
	http.Server
	repo        *storage.SQLiteRepository
	authSvc     *auth.Service
	statsEngine *stats.Engine
	publisher   *events.Client
	rateLimiter *rateLimiter

	// Monthly analytics cache keyed "<owner>:<year>-<month>", invalidated
	// on that owner's expense and budget writes.
	statsCache *cache.LRUCache[stats.Monthly]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// Options carries the tunables the server does not own.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewServer wires routes and middleware, returning a ready-to-run server.
// publisher may be nil; events are then skipped.
func NewServer(addr string, repo *storage.SQLiteRepository, authSvc *auth.Service, engine *stats.Engine, publisher *events.Client, opts Options) *Server {
	if opts.CacheSize < 1 {
		opts.CacheSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		repo:             repo,
		authSvc:          authSvc,
		statsEngine:      engine,
		publisher:        publisher,
		rateLimiter:      newRateLimiter(),
		statsCache:       cache.NewLRUCache[stats.Monthly](opts.CacheSize, opts.CacheTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("POST /api/auth/register", s.withMiddleware(s.handleRegister))
	mux.HandleFunc("POST /api/auth/login", s.withMiddleware(s.handleLogin))

	mux.Handle("POST /api/expenses", s.authed(s.handleCreateExpense))
	mux.Handle("GET /api/expenses", s.authed(s.handleListExpenses))
	mux.Handle("GET /api/expenses/stats", s.authed(s.handleExpenseStats))
	mux.Handle("GET /api/expenses/{id}", s.authed(s.handleGetExpense))
	mux.Handle("PUT /api/expenses/{id}", s.authed(s.handleUpdateExpense))
	mux.Handle("DELETE /api/expenses/{id}", s.authed(s.handleDeleteExpense))

	mux.Handle("POST /api/budgets", s.authed(s.handleUpsertBudget))
	mux.Handle("GET /api/budgets", s.authed(s.handleListBudgets))
	mux.Handle("DELETE /api/budgets/{id}", s.authed(s.handleDeleteBudget))

	mux.Handle("GET /api/analytics/monthly", s.authed(s.handleMonthlyAnalytics))
	mux.Handle("GET /api/analytics/insights", s.authed(s.handleInsightFeed))

	return s
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(s.withMiddleware(s.authSvc.Middleware(next).ServeHTTP))
}

// withMiddleware adds security headers, rate limiting and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		// Rate limit mutating requests only
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := s.statsCache.CleanExpired()
			if cleaned > 0 {
				slog.Debug("Stats cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutines and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func statsCacheKey(ownerID string, year, month int) string {
	return ownerID + ":" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// invalidateStats drops every cached month for the owner. A write to any
// month also changes its successor's previous-month comparison, so per-key
// invalidation is not enough.
func (s *Server) invalidateStats(ownerID string) {
	s.statsCache.DeletePrefix(ownerID + ":")
}
