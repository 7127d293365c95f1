package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "strings" // string utilities for scheme checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining guards

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/utils"
)

// TokenVerifier checks an access token.  *utils.TokenIssuer implements it.
type TokenVerifier interface {
    Verify(raw string) (*utils.Claims, error)
}

// Authenticate returns a guard that requires a valid Bearer access token
// and stores its Principal on the context.  A missing header, a foreign
// scheme and every verification failure produce the same 401.
func Authenticate(v TokenVerifier) Guard {
    return func(c echo.Context) error {
        raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
        if !ok {
            return apperror.Unauthenticated()
        }
        claims, err := v.Verify(raw)
        if err != nil {
            return apperror.Wrap(apperror.KindAuthentication, apperror.MsgUnauthorized, err)
        }
        SetPrincipal(c, Principal{ID: claims.Subject, Email: claims.Email, Role: claims.Role})
        return nil
    }
}

// bearerToken extracts the credential of an "Authorization: Bearer <token>"
// header.  The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
    scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
    if !found || !strings.EqualFold(scheme, "Bearer") {
        return "", false
    }
    token = strings.TrimSpace(token)
    return token, token != ""
}
