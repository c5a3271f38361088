package server

import (
	"context"
	"fmt"
	"html"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/internal/cache"
	"github.com/jpalmerr/stationwatch/internal/hub"
	"github.com/jpalmerr/stationwatch/internal/metrics"
	"github.com/jpalmerr/stationwatch/internal/poller"
	"github.com/jpalmerr/stationwatch/snapshot"
)

const (
	// streamWriteTimeout bounds a single SSE or websocket write so a stalled
	// client cannot pin its handler goroutine. Must be <= shutdownTimeout.
	streamWriteTimeout = 5 * time.Second

	// keepaliveInterval spaces the keepalive frames on idle streams.
	keepaliveInterval = 15 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxBodySize caps JSON request bodies on the control API.
	maxBodySize = 1 << 20

	defaultTitle     = "Station Watch"
	titlePlaceholder = "{{.Title}}"
)

// Controller is the scheduler control surface.
type Controller interface {
	Start() bool
	Stop() bool
	Status() poller.Status
	SetActiveSources(ids []string)
	Snapshot(ctx context.Context, id string) (snapshot.Snapshot, error)
	CheckNow(ctx context.Context, id string) (snapshot.Delta, error)
}

// Stations lists the configured stations.
type Stations interface {
	Sources() []snapshot.Source
}

// CacheAdmin exposes cache inspection and eviction.
type CacheAdmin interface {
	TTL() time.Duration
	Stats() []cache.EntryStat
	Invalidate(id string) bool
	InvalidateAll() int
}

// History exposes the change detector's retained state.
type History interface {
	Forget(id string) bool
	Reset() int
}

// Broadcaster hands out event subscriptions to stream clients.
type Broadcaster interface {
	Subscribe() *hub.Subscription
	Unsubscribe(sub *hub.Subscription) bool
	Len() int
}

// Config holds the collaborators of a [Server].
type Config struct {
	Port    int
	Title   string
	Version string

	// Assets holds assets/index.html. nil disables the dashboard route.
	Assets fs.FS

	Controller Controller
	Stations   Stations
	Cache      CacheAdmin
	History    History
	Hub        Broadcaster

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Server serves the dashboard, the control API and the event streams.
type Server struct {
	port    int
	title   string
	version string
	assets  fs.FS

	control  Controller
	stations Stations
	cache    CacheAdmin
	history  History
	hub      Broadcaster

	logger    zerolog.Logger
	metrics   *metrics.Metrics
	startedAt time.Time

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a [Server]. Nothing listens until [Server.Start].
func NewServer(cfg Config) *Server {
	return &Server{
		port:      cfg.Port,
		title:     cfg.Title,
		version:   cfg.Version,
		assets:    cfg.Assets,
		control:   cfg.Controller,
		stations:  cfg.Stations,
		cache:     cfg.Cache,
		history:   cfg.History,
		hub:       cfg.Hub,
		logger:    cfg.Logger.With().Str("component", "server").Logger(),
		metrics:   cfg.Metrics,
		startedAt: time.Now(),
	}
}

// Handler builds the router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	if s.assets != nil {
		r.Get("/", s.handleDashboard)
	}
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/sse", s.handleSSE)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/stations", func(r chi.Router) {
			r.Get("/", s.handleListStations)
			r.Post("/batch", s.handleBatch)
			r.Get("/{id}", s.handleStation)
			r.Post("/{id}/check", s.handleCheck)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
			r.Get("/status", s.handleSchedulerStatus)
			r.Put("/stations", s.handleSchedulerStations)
		})

		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		r.Delete("/cache/{id}", s.handleCacheEvict)

		r.Delete("/history", s.handleHistoryClear)
		r.Delete("/history/{id}", s.handleHistoryForget)
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start returns once the listener is bound, so a port conflict is reported
// synchronously. Cancelling ctx shuts the server down gracefully with a
// 5-second timeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so streaming handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// handleDashboard serves the dashboard page with the title substituted.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error().Err(err).Msg("failed to write dashboard response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(s.startedAt).Seconds(),
		"subscribers": s.hub.Len(),
		"version":     s.version,
	})
}
