package app

import (
	"log/slog"
	"net/http"
	"time"

	"jobgrade/internal/app/apiresp"
	"jobgrade/internal/app/observability"
	"jobgrade/internal/interview"
	"jobgrade/internal/report"
	"jobgrade/internal/survey"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services are the wired components the router exposes.
type Services struct {
	Engine       *interview.Engine
	Catalog      survey.Reference
	CatalogSaver survey.CatalogSaver
	SwapCatalog  func(*survey.Catalog)
	Reports      *report.Service
	Metrics      *observability.Collector
	Log          *slog.Logger
}

func NewRouter(cfg Config, svc Services) http.Handler {
	if svc.Log == nil {
		svc.Log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if svc.Metrics != nil {
		r.Use(svc.Metrics.Middleware)
	}

	interviews := interview.NewHandler(svc.Engine)
	ws := interview.NewWSHandler(svc.Engine, cfg.WSAllowedOrigin, svc.Log)
	catalog := survey.NewHandler(svc.Catalog, svc.CatalogSaver, svc.SwapCatalog)
	reports := report.NewHandler(svc.Reports)
	limiter := NewIPRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"ok": true}
		if svc.Metrics != nil {
			status["uptime_seconds"] = int64(svc.Metrics.Uptime().Seconds())
		}
		apiresp.WriteOK(w, r, http.StatusOK, status)
	})
	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics.MetricsHandler())
	}

	r.Get("/ws/interviews/{userID}", ws.ServeHTTP)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(pub chi.Router) {
			pub.Use(RateLimitMiddleware(limiter))
			pub.Post("/interviews", interviews.Start)
			pub.Post("/interviews/{userID}/resume", interviews.Resume)
			pub.Post("/interviews/{userID}/messages", interviews.Message)
			pub.Get("/interviews/{userID}", interviews.Get)
			pub.Delete("/interviews/{userID}", interviews.Discard)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(AdminTokenMiddleware(cfg.AdminTokenHash))
			admin.Get("/admin/questions", catalog.ListQuestions)
			admin.Get("/admin/questions/{id}", catalog.GetQuestion)
			admin.Get("/admin/hierarchy", catalog.ListHierarchy)
			admin.Post("/admin/reference/import", catalog.Import)
			admin.Get("/admin/sessions/{userID}/{sessionID}/report", reports.Session)
			admin.Post("/admin/sessions/{userID}/{sessionID}/reset-grading", interviews.ResetGrading)
		})
	})

	return r
}
