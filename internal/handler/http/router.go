// Package http exposes the thin HTTP API the portfolio SPA calls.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamletsspeak/812Hamur/internal/geo"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	"github.com/hamletsspeak/812Hamur/internal/index"
	"github.com/hamletsspeak/812Hamur/internal/profilesync"
	"github.com/hamletsspeak/812Hamur/internal/session"
	"github.com/hamletsspeak/812Hamur/pkg/health"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
)

// NewRouter creates a chi router with all portfolio service routes registered.
func NewRouter(
	sessions *session.Manager,
	engine *profilesync.Engine,
	gateway identity.Gateway,
	repos RepoLister,
	coords *geo.CoordinateCache,
	indexes *index.Allocator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig middleware.CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics())

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(sessions, logger)
	profileHandler := NewProfileHandler(sessions, engine, logger)
	portfolioHandler := NewPortfolioHandler(repos, coords, indexes, logger)

	// Token validator bridging the identity gateway into the auth middleware.
	tokenValidator := middleware.TokenValidator(gateway.ValidateToken)

	// Auth endpoints (public)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/social", authHandler.SignInWithSocial)
		r.Post("/anonymous", authHandler.SignInAnonymously)
	})

	// Auth endpoints (session required)
	r.Route("/api/v1/session", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))
		// Re-enrich the request logger now that the user ID is known.
		r.Use(middleware.RequestLogger(logger))

		r.Get("/", authHandler.CurrentSession)
		r.Post("/signout", authHandler.SignOut)
		r.Post("/password", authHandler.UpdatePassword)
	})

	// Profile endpoints (session required)
	r.Route("/api/v1/profile", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequestLogger(logger))

		r.Get("/", profileHandler.GetDraft)
		r.Put("/fields/{name}", profileHandler.SetField)
		r.Post("/save", profileHandler.Save)
	})

	// Portfolio data
	r.Get("/api/v1/github/repos", portfolioHandler.ListRepos)

	r.Route("/api/v1/users/me", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequestLogger(logger))

		r.Get("/index", portfolioHandler.GetUserIndex)
		r.Put("/coordinates", portfolioHandler.ReportCoordinates)
	})

	return r
}
