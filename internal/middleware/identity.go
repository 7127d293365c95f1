package middleware

// identity.go defines helpers shared across middleware files: the Principal
// stored by Authenticate and the subject key used by the rate limiter.

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/gatekeeper/internal/model"
)

const principalKey = "principal"

// Principal is the authenticated caller as asserted by its access token.
type Principal struct {
    ID    string     `json:"id"`
    Email string     `json:"email"`
    Role  model.Role `json:"role"`
}

// SetPrincipal stores p on the request context.
func SetPrincipal(c echo.Context, p Principal) { c.Set(principalKey, p) }

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(c echo.Context) (Principal, bool) {
    p, ok := c.Get(principalKey).(Principal)
    return p, ok && p.ID != ""
}

// subjectKey identifies the caller for rate limiting: the principal id when
// authenticated, the client address otherwise.
func subjectKey(c echo.Context) string {
    if p, ok := PrincipalFrom(c); ok {
        return "user:" + p.ID
    }
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    return "ip:" + ip
}
