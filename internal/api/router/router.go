package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/emma-intake/internal/compliance"
	"github.com/wolfman30/emma-intake/internal/conversation"
	httpmiddleware "github.com/wolfman30/emma-intake/internal/http/middleware"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/webchat"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck = func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	LeadsHandler        *leads.Handler
	AuditHandler        *compliance.Handler
	WebChat             *webchat.Handler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string

	// ChatRateLimiter throttles POST /v1/chat per client IP when set.
	ChatRateLimiter *httpmiddleware.RateLimiter

	// Readiness checks run by /ready, keyed by dependency name.
	Readiness map[string]ReadinessCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.ConversationHandler == nil {
		panic("router: conversation handler is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", readiness(cfg.Readiness))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(v1 chi.Router) {
		chat := v1.With()
		if cfg.ChatRateLimiter != nil {
			chat = v1.With(httpmiddleware.RateLimit(cfg.ChatRateLimiter, "chat"))
		}
		chat.Post("/chat", cfg.ConversationHandler.Chat)
		v1.Get("/conversations/{conversationID}", cfg.ConversationHandler.GetConversation)
	})

	if cfg.WebChat != nil {
		r.Route("/chat", func(c chi.Router) {
			c.Get("/ws", cfg.WebChat.HandleWebSocket)
			c.Get("/history", cfg.WebChat.HandleHistory)
			if cfg.ChatRateLimiter != nil {
				c.With(httpmiddleware.RateLimit(cfg.ChatRateLimiter, "webchat")).Post("/message", cfg.WebChat.HandleMessage)
			} else {
				c.Post("/message", cfg.WebChat.HandleMessage)
			}
		})
	}

	// Admin routes (protected by HS256 JWT carrying the admin scope)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.LeadsHandler != nil {
				admin.Get("/leads", cfg.LeadsHandler.ListProfiles)
				admin.Get("/leads/{conversationID}", cfg.LeadsHandler.GetProfile)
			}
			if cfg.AuditHandler != nil {
				admin.Get("/audit", cfg.AuditHandler.ListEvents)
			}
			admin.Get("/llm/latency", cfg.ConversationHandler.LLMLatency)
			admin.Get("/conversations/{conversationID}", cfg.ConversationHandler.GetConversation)
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": results})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
