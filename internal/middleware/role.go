package middleware // middleware provides shared request processing for handlers

import (
    "strings"

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/model"
)

// Authorize returns a guard that requires the authenticated principal to
// hold one of roles.  With no roles it admits every request.  It must run
// after Authenticate; a request without a principal is rejected as
// unauthenticated.
func Authorize(roles ...model.Role) Guard {
    // Build a set of allowed roles for constant‑time lookups.
    allowed := make(map[model.Role]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(c echo.Context) error {
        if len(allowed) == 0 {
            return nil
        }
        p, ok := PrincipalFrom(c)
        if !ok {
            return apperror.Unauthenticated()
        }
        if !allowed[p.Role] {
            return apperror.Forbidden()
        }
        return nil
    }
}

// ParseRoles converts configured role names, skipping blanks and unknown
// values.
func ParseRoles(names []string) []model.Role {
    var out []model.Role
    for _, n := range names {
        r := model.Role(strings.ToLower(strings.TrimSpace(n)))
        if r.Valid() {
            out = append(out, r)
        }
    }
    return out
}
