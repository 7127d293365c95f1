package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"                     // import the Echo web framework to handle routing
	echomw "github.com/labstack/echo/v4/middleware" // panic recovery

	"github.com/iliyamo/gatekeeper/internal/gateway"
	"github.com/iliyamo/gatekeeper/internal/handler"    // import the handlers that implement the auth flows
	"github.com/iliyamo/gatekeeper/internal/middleware" // import admission guards
)

// Deps is everything the HTTP surface needs.  Federated, Limiter and
// Metrics may be nil.
type Deps struct {
	Auth          *handler.AuthHandler
	Federated     *handler.FederatedHandler
	Health        *handler.HealthHandler
	Verifier      middleware.TokenVerifier
	Limiter       *middleware.RateLimiter
	Dispatcher    *gateway.Dispatcher
	GatewayPrefix string
	GatewayRoles  []string
	Metrics       http.Handler
}

// New builds the echo instance with the error mapper, request logging and
// every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())

	RegisterRoutes(e, d.Health, d.Metrics)
	RegisterAuth(e, d.Auth, d.Verifier)
	if d.Federated != nil {
		RegisterFederated(e, d.Federated)
	}
	RegisterGateway(e, d.GatewayPrefix, d.Dispatcher,
		middleware.Authenticate(d.Verifier),
		middleware.Authorize(middleware.ParseRoles(d.GatewayRoles)...),
		middleware.RateLimit(d.Limiter),
	)
	return e
}

// RegisterRoutes registers the operational endpoints: the health check used
// by load balancers and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, metrics http.Handler) {
	e.GET("/health", h.Health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers the credential routes.  Register, login and
// refresh are public; logout and me require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, v middleware.TokenVerifier) {
	authenticated := middleware.Admit(middleware.Authenticate(v))

	g := e.Group("/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout, authenticated)
	g.GET("/me", a.Me, authenticated)
}

// RegisterFederated registers the OAuth2 entry point and its callback.
func RegisterFederated(e *echo.Echo, f *handler.FederatedHandler) {
	e.GET("/auth/federated", f.Start)
	e.GET("/auth/federated/callback", f.Callback)
}

// RegisterGateway forwards every method on prefix and everything below it
// to the dispatcher once guards have admitted the request.
func RegisterGateway(e *echo.Echo, prefix string, d *gateway.Dispatcher, guards ...middleware.Guard) {
	admit := middleware.Admit(guards...)
	e.Any(prefix, d.Dispatch, admit)
	e.Any(prefix+"/*", d.Dispatch, admit)
}
