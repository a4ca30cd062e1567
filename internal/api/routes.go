package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-delivery/internal/pkg/httputil"
)

// RouterConfig holds the pieces of the HTTP surface that live outside Handlers.
type RouterConfig struct {
	AllowedOrigins []string
	Health         *HealthChecker
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// SESWebhook serves POST /webhooks/ses when set.
	SESWebhook http.HandlerFunc
	// WebhookToken, when set, must be presented as ?token= or X-Webhook-Token.
	WebhookToken string
}

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader, OrganizationHeader, AdminHeader},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/health/live", cfg.Health.HandleLiveness)
		r.Get("/health/ready", cfg.Health.HandleReadiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.SESWebhook != nil {
		r.With(requireWebhookToken(cfg.WebhookToken)).Post("/webhooks/ses", cfg.SESWebhook)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/readiness", h.GetReadiness)
			r.Get("/campaigns", h.ListCampaigns)
			r.Post("/campaigns", h.CreateCampaign)
			r.Get("/suppressions", h.ListSuppressions)
			r.Post("/suppressions", h.AddSuppression)
			r.Get("/suppressions/stats", h.GetSuppressionStats)
		})

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Get("/stats", h.GetCampaignStats)
			r.Post("/approve", h.ApproveCampaign)
			r.Post("/cancel", h.CancelCampaign)
			r.Post("/pause", h.PauseCampaign)
			r.Post("/resume", h.ResumeCampaign)
		})

		r.Delete("/suppressions/{id}", h.DeleteSuppression)
	})

	return r
}

func requireWebhookToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Webhook-Token")
			if got == "" {
				got = r.URL.Query().Get("token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
