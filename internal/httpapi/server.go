// Package httpapi is the HTTP surface: submission intake and edits,
// public reads, image uploads, Discord auth, the vote webhook, and the
// prize-pool WebSocket. Routes are mounted per schema version with an
// unversioned alias that tracks the latest version.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/cache"
	"github.com/M3-org/clanktank-sub000/internal/config"
	"github.com/M3-org/clanktank-sub000/internal/discord"
	"github.com/M3-org/clanktank-sub000/internal/prizepool"
	"github.com/M3-org/clanktank-sub000/internal/ratelimit"
	"github.com/M3-org/clanktank-sub000/internal/schema"
	"github.com/M3-org/clanktank-sub000/internal/store"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
	"github.com/M3-org/clanktank-sub000/internal/votes"
)

// Write endpoints share one per-IP bucket: five requests per minute
// with the full burst available up front.
const (
	writeRatePerMinute = 5
	writeRateBurst     = 5
)

// Deps carries the wired components the server serves from.
type Deps struct {
	Store    *store.Store
	Schemas  *schema.Registry
	Discord  *discord.Client
	Watcher  *prizepool.Watcher
	Ingestor *votes.Ingestor
	Holders  *votes.Holders
	Cache    cache.Cache
	Guards   *upstream.Registry
}

// Server owns the router and the HTTP listener.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	schemas  *schema.Registry
	auth     *authenticator
	watcher  *prizepool.Watcher
	ingestor *votes.Ingestor
	holders  *votes.Holders
	guards   *upstream.Registry

	metrics    *Metrics
	writeLimit *ratelimit.Limiter
	upgrader   websocket.Upgrader
	wsClients  atomic.Int64

	router *mux.Router
	http   *http.Server
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	c := deps.Cache
	if c == nil {
		c = cache.New()
	}

	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		schemas:  deps.Schemas,
		watcher:  deps.Watcher,
		ingestor: deps.Ingestor,
		holders:  deps.Holders,
		guards:   deps.Guards,
		auth: &authenticator{
			discord:    deps.Discord,
			store:      deps.Store,
			cache:      c,
			testToken:  cfg.TestAuthToken,
			production: cfg.IsProduction(),
		},
		metrics:    NewMetrics(),
		writeLimit: ratelimit.PerMinute(writeRatePerMinute, writeRateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Snapshots are public reads; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.corsMiddleware)

	// Long-lived and non-JSON routes sit outside the API subrouters.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/prize-pool", s.handlePrizePoolWS).Methods(http.MethodGet)
	r.HandleFunc("/webhook/helius", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhook/helius-test", s.handleTestWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/uploads/{filename}", s.handleServeUpload).Methods(http.MethodGet)

	// Versioned mounts first so /api/v1 and /api/v2 are not swallowed
	// by the alias prefix.
	for _, version := range s.schemas.Versions() {
		s.mountAPI(r.PathPrefix("/api/"+version).Subrouter(), version, true)
	}
	s.mountAPI(r.PathPrefix("/api").Subrouter(), s.schemas.Latest(), false)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"Not Found","message":"no such endpoint"}`)
	})

	s.router = r
}

// mountAPI wires one version of the JSON API. Versioned mounts serve
// reads only; submission writes moved to the unversioned alias and the
// old write paths answer 410.
func (s *Server) mountAPI(api *mux.Router, version string, versioned bool) {
	api.Use(s.versionMiddleware(version), s.jsonContentTypeMiddleware, s.timeoutMiddleware)

	if versioned {
		api.HandleFunc("/submissions", s.limited(s.handleGone)).Methods(http.MethodPost)
		api.HandleFunc("/submissions/{id}", s.limited(s.handleGone)).Methods(http.MethodPut)
	} else {
		api.HandleFunc("/submissions", s.limited(s.handleCreateSubmission)).Methods(http.MethodPost)
		api.HandleFunc("/submissions/{id}", s.limited(s.handleUpdateSubmission)).Methods(http.MethodPut)
	}

	api.HandleFunc("/submissions", s.handleListSubmissions).Methods(http.MethodGet)
	api.HandleFunc("/submissions/{id}", s.handleGetSubmission).Methods(http.MethodGet)
	api.HandleFunc("/submissions/{id}/like-dislike", s.handleSetLikeDislike).Methods(http.MethodPost)
	api.HandleFunc("/submissions/{id}/like-dislike", s.handleGetLikeDislike).Methods(http.MethodGet)

	api.HandleFunc("/upload-image", s.limited(s.handleUploadImage)).Methods(http.MethodPost)

	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/submission-schema", s.handleSubmissionSchema).Methods(http.MethodGet)
	api.HandleFunc("/feedback/{id}", s.handleFeedback).Methods(http.MethodGet)
	api.HandleFunc("/community-scores", s.handleCommunityScores).Methods(http.MethodGet)
	api.HandleFunc("/community-votes/stats", s.handleCommunityVoteStats).Methods(http.MethodGet)
	api.HandleFunc("/prize-pool", s.handlePrizePool).Methods(http.MethodGet)

	api.HandleFunc("/auth/discord/login", s.handleAuthLogin).Methods(http.MethodGet)
	api.HandleFunc("/auth/discord/callback", s.handleAuthCallback).Methods(http.MethodPost)
	api.HandleFunc("/auth/discord/me", s.handleAuthMe).Methods(http.MethodGet)

	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
}

// Router exposes the handler tree, used by tests and by callers that
// embed the API in their own listener.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Str("env", s.cfg.Environment).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
