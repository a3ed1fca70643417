package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/controllers"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/middleware"
	"github.com/poofware/passkey-service/internal/services"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier"
)

// Server is the fully wired service: HTTP handler plus the maintenance
// scheduler the caller starts and stops.
type Server struct {
	App       *App
	Router    *mux.Router
	Handler   http.Handler
	Scheduler *services.MaintenanceScheduler
}

func NewServer(a *App) *Server {
	cfg := a.Config

	//----------------------------------------------------------------------
	// Services
	//----------------------------------------------------------------------
	rateLimiterService := services.NewRateLimiterService(a.Repos.RateLimits, cfg)
	sessionService := services.NewSessionService(cfg, a.Repos.Tokens)

	passkeyService := services.NewPasskeyService(
		cfg,
		a.Repos.Credentials,
		a.Repos.Challenges,
		a.Repos.Subjects,
		verifier.NewWebAuthnVerifier(cfg.RPName),
		sessionService,
	)

	scheduler := services.NewMaintenanceScheduler(
		cfg,
		services.NewCredentialSweepService(a.Repos.Credentials, cfg),
		services.NewChallengeCleanupService(a.Repos.Challenges, cfg),
		services.NewRateLimitCleanupService(a.Repos.RateLimits, cfg),
		services.NewTokenCleanupService(a.Repos.Tokens, cfg),
	)

	//----------------------------------------------------------------------
	// Controllers
	//----------------------------------------------------------------------
	passkeyController := controllers.NewPasskeyController(passkeyService, cfg)
	healthController := controllers.NewHealthController(a)

	router := NewRouter(cfg, passkeyController, healthController, rateLimiterService)

	return &Server{
		App:       a,
		Router:    router,
		Handler:   corsHandler(cfg).Handler(router),
		Scheduler: scheduler,
	}
}

// NewRouter lays out the endpoints. Every /passkey route counts against the
// rate policy table; list and revoke also require a session token.
func NewRouter(
	cfg *config.Config,
	passkeyController *controllers.PasskeyController,
	healthController *controllers.HealthController,
	limiter middleware.RateLimiter,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware)

	router.HandleFunc("/health", healthController.HealthCheckHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	passkeyRouter := router.PathPrefix("/passkey").Subrouter()
	passkeyRouter.Use(middleware.RateLimitMiddleware(limiter))
	passkeyRouter.HandleFunc("/challenge", passkeyController.IssueChallenge).Methods("POST")
	passkeyRouter.HandleFunc("/register", passkeyController.Register).Methods("POST")
	passkeyRouter.HandleFunc("/authenticate", passkeyController.Authenticate).Methods("POST")

	protected := passkeyRouter.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.RSAPublicKey))
	protected.HandleFunc("/list/{subjectId}", passkeyController.List).Methods("GET")
	protected.HandleFunc("/revoke", passkeyController.Revoke).Methods("POST")

	return router
}

func corsHandler(cfg *config.Config) *cors.Cors {
	allowedOrigins := []string{cfg.AppUrl}
	if !cfg.LDFlag_CORSHighSecurity {
		allowedOrigins = append(allowedOrigins, utils.CORSLowSecurityAllowedOriginLocalhost)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Platform", "X-Device-ID"},
		AllowCredentials: true,
	})
}
