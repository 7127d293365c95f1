package middleware

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/metrics"
)

// Guard is one admission check.  It returns nil to let the request go on,
// or the error that rejects it.  Guards may store values on the context
// for later guards and handlers.
type Guard func(c echo.Context) error

// Admit runs guards in order in front of the wrapped handler.  The first
// failing guard ends the request; later guards do not run.  A route with
// no guards is public.
func Admit(guards ...Guard) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            for _, g := range guards {
                if err := g(c); err != nil {
                    metrics.AdmissionRejectedTotal.WithLabelValues(apperror.KindOf(err).String()).Inc()
                    return err
                }
            }
            return next(c)
        }
    }
}
