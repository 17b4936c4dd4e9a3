package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pipetrade/rfq-auth/internal/http/handler"
	"github.com/pipetrade/rfq-auth/internal/http/middleware"
	"github.com/pipetrade/rfq-auth/internal/http/response"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	TokenVerifier    service.TokenVerifier
	Activity         service.ActivityRecorder
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimiter)
			r.Post("/auth/login", dep.AuthHandler.Login)
			r.Post("/auth/refresh", dep.AuthHandler.Refresh)
			r.Post("/auth/logout", dep.AuthHandler.Logout)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.TokenVerifier, dep.Activity))
			r.Get("/me/sessions", dep.AuthHandler.ListSessions)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("admin"))
				r.Post("/admin/accounts/{accountID}/device-reset", dep.AuthHandler.AdminResetDevice)
			})
		})
	})

	if dep.EnableOTelHTTP {
		return otelhttp.NewHandler(r, "rfq-auth.http")
	}
	return r
}
