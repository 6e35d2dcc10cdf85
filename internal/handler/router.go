/*
Package handler provides the HTTP handlers and routing setup for the viewsync server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (REST API,
socket rooms and the relay subscription stream).
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"viewsync/internal/pkg/limiter"
	"viewsync/internal/pkg/logx"
	"viewsync/internal/pkg/resp"
)

const (
	CreateRate   = 0.05
	CreateBurst  = 2
	UploadRate   = 0.5
	UploadBurst  = 5
	TriggerRate  = 30
	TriggerBurst = 60
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
// The limiters' janitor goroutines stop when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(CreateRate), CreateBurst)
	uploadLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(UploadRate), UploadBurst)
	triggerLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(TriggerRate), TriggerBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":  "ok",
			"service": "viewsync",
			"relay":   deps.Broker != nil,
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.With(createLimiter.Middleware).Post("/rooms", HandleCreateRoom(deps))

		api.With(uploadLimiter.Middleware).Post("/upload", HandleUpload(deps))
		api.Get("/room-file", HandleRoomFile(deps))
		api.Get("/file/{roomId}/{name}", HandleDownload(deps))

		api.With(triggerLimiter.Middleware).Post("/relay/trigger", HandleRelayTrigger(deps))

		if deps.Demo != nil {
			api.Post("/demo/keepalive", HandleDemoKeepalive(deps))
		}
	})

	if deps.Broker != nil {
		r.Get("/relay/ws", HandleRelayStream(wsUpgrader, deps))
	}

	r.Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
