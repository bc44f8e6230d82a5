package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eden-task/usersvc/internal/health"
	"github.com/eden-task/usersvc/internal/httpmw"
	"github.com/eden-task/usersvc/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	UseRecoverMW bool
	OnPanic      func()

	// Middleware hooks injected by main so this package stays free of the
	// metrics/ratelimit/guard wiring details.
	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler
	GuardMW     func(http.Handler) http.Handler

	ClientIPOpts httpmw.ClientIPOptions

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes mounts the application routes onto the router.
	APIRoutes func(r chi.Router)
}
