package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/gtmanfred/slackmgmt/internal/config"
	"github.com/gtmanfred/slackmgmt/internal/events"
	"github.com/gtmanfred/slackmgmt/internal/jwt"
	"github.com/gtmanfred/slackmgmt/internal/metrics"
	"github.com/gtmanfred/slackmgmt/internal/plugins"
	"github.com/gtmanfred/slackmgmt/internal/queue"
	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatsProvider reports per-plugin consumer state.
type StatsProvider interface {
	Stats() []plugins.Stats
}

// Deps are the runtime pieces the HTTP surface reads from or feeds.
type Deps struct {
	Inbound  *queue.Queue[sdk.Event] // webhook events go here
	Bus      *events.Bus
	Plugins  StatsProvider
	Conn     interface{ Active() bool } // streaming connection, nil in webhook mode
	Pongs    *events.LastPong
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
}

type Server struct {
	log  *zap.Logger
	deps Deps
	r    *chi.Mux
	now  func() time.Time

	mu  sync.RWMutex
	cfg *config.Config
	jwt *jwt.Validator
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) *Server {
	s := &Server{
		log:  log.With(zap.String("component", "http")),
		deps: deps,
		r:    chi.NewRouter(),
		now:  time.Now,
	}
	s.Reload(cfg)
	s.routes()
	return s
}

func (s *Server) Router() http.Handler { return s.r }

// Reload swaps the config and rebuilds the admin token validator. Route
// layout is fixed at construction.
func (s *Server) Reload(cfg *config.Config) {
	var v *jwt.Validator
	if len(cfg.Auth.JWTPublicKeys) > 0 {
		var err error
		v, err = jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			s.log.Warn("admin auth disabled: cannot load keys", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.jwt = v
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) routes() {
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(s.logRequests)
	s.r.Use(middleware.Recoverer)

	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.deps.Gatherer != nil {
		s.r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	cfg := s.config()
	if cfg.EventsAPI {
		s.r.Post(cfg.Webhook.Path, s.webhook)
	}

	s.r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Authorization"},
		}))
		r.Get("/info", s.auth(s.info))
		r.Get("/plugins", s.auth(s.pluginStats))
		r.Get("/events", s.auth(s.eventTap))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	resp := map[string]any{
		"name": "slackmgmt",
		"mode": cfg.Mode(),
		"time": s.now().UTC(),
	}
	if s.deps.Conn != nil {
		resp["connected"] = s.deps.Conn.Active()
	}
	if s.deps.Pongs != nil {
		resp["last_pong"] = s.deps.Pongs.Load()
	}
	if s.deps.Inbound != nil {
		resp["inbound_queued"] = s.deps.Inbound.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pluginStats(w http.ResponseWriter, r *http.Request) {
	stats := []plugins.Stats{}
	if s.deps.Plugins != nil {
		stats = s.deps.Plugins.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// eventTap streams every dispatched event to a websocket client.
func (s *Server) eventTap(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		http.Error(w, "event tap unavailable", http.StatusServiceUnavailable)
		return
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	ch := s.deps.Bus.Subscribe()
	go func() {
		defer func() {
			s.deps.Bus.Unsubscribe(ch)
			_ = conn.Close()
		}()
		for ev := range ch {
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	// Reads only detect the client going away; closing ch stops the writer.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.deps.Bus.Unsubscribe(ch)
			return
		}
	}
}

// auth requires a bearer token (or access_token query parameter, for
// websocket clients). Without configured keys the admin API is closed.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		v := s.jwt
		s.mu.RUnlock()
		if v == nil {
			http.Error(w, "admin api disabled", http.StatusNotFound)
			return
		}

		tok := r.Header.Get("Authorization")
		if tok == "" {
			tok = r.URL.Query().Get("access_token")
		}
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		tok = strings.TrimPrefix(tok, "Bearer ")
		if _, err := v.Verify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
