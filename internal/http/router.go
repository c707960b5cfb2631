package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/http/handlers"
	"github.com/orvio/server/internal/middleware"
	"github.com/orvio/server/internal/repo"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	apiKeyHandler *handlers.ApiKeyHandler,
	serviceHandler *handlers.ServiceHandler,
	sessions *auth.SessionService,
	userRepo repo.UserRepo,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	requireAuth := middleware.AuthMiddleware(sessions, userRepo)

	// Per-IP limiter for the unauthenticated endpoints. sendOtp carries its
	// own tighter limit in the handler plus the per-phone cooldown.
	publicLimiter := middleware.NewRateLimiter(10*time.Minute, 60)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitMiddleware(publicLimiter, middleware.GetIPKey))
			r.Post("/sendOtp", authHandler.HandleSendOtp)
			r.Post("/verifyOtp", authHandler.HandleVerifyOtp)
			r.Post("/refresh", authHandler.HandleRefresh)
		})

		// Protected routes (require a live session)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", authHandler.HandleMe)
			r.Post("/register", authHandler.HandleRegisterDevice)
			r.Get("/stats", authHandler.HandleStats)
			r.Get("/cashback", authHandler.HandleCashbackHistory)
			r.Post("/signOut", authHandler.HandleSignOut)
			r.Post("/signOutAll", authHandler.HandleSignOutAll)

			r.Route("/apiKey", func(r chi.Router) {
				r.Post("/createNew", apiKeyHandler.HandleCreateNew)
				r.Get("/getAll", apiKeyHandler.HandleGetAll)
				r.Post("/revoke", apiKeyHandler.HandleRevoke)
			})
		})
	})

	// Metered service surface. API-key callers exchange their key for an
	// access token via /auth/refresh, so the same bearer middleware applies.
	r.Route("/service", func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/sendOtp", serviceHandler.HandleSendOtp)
		r.Post("/verifyOtp", serviceHandler.HandleVerifyOtp)
		r.Post("/ack", serviceHandler.HandleAck)
		r.Get("/credits", serviceHandler.HandleCredits)
		r.Get("/creditMode", serviceHandler.HandleGetCreditMode)
		r.Patch("/creditMode", serviceHandler.HandleSetCreditMode)
	})

	return r
}
