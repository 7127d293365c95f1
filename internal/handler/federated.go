package handler

import (
    "context"
    "net/http"
    "net/url"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/federation"
    "github.com/iliyamo/gatekeeper/internal/service"
)

// FederatedHandler runs the OAuth2 authorization-code flow.  With a nil
// Provider both routes answer 503.
type FederatedHandler struct {
    Svc         *service.AuthService
    Provider    federation.Provider
    States      *federation.StateStore
    FrontendURL string
}

func NewFederatedHandler(svc *service.AuthService, p federation.Provider, states *federation.StateStore, frontendURL string) *FederatedHandler {
    return &FederatedHandler{Svc: svc, Provider: p, States: states, FrontendURL: strings.TrimRight(frontendURL, "/")}
}

var errFederationDisabled = echo.NewHTTPError(http.StatusServiceUnavailable, "federated login is not configured")

// Start redirects to the provider's consent page.
func (h *FederatedHandler) Start(c echo.Context) error {
    if h.Provider == nil {
        return errFederationDisabled
    }
    state, err := h.States.Issue()
    if err != nil {
        return apperror.Internal("issue oauth state", err)
    }
    return c.Redirect(http.StatusFound, h.Provider.AuthCodeURL(state))
}

// Callback finishes the flow and hands the token pair to the frontend.
func (h *FederatedHandler) Callback(c echo.Context) error {
    if h.Provider == nil {
        return errFederationDisabled
    }
    if e := c.QueryParam("error"); e != "" {
        log.Info().Str("provider", h.Provider.Name()).Str("error", e).Msg("federated login declined")
        return apperror.Unauthenticated()
    }
    if err := h.States.Consume(c.QueryParam("state")); err != nil {
        return apperror.Wrap(apperror.KindAuthentication, apperror.MsgUnauthorized, err)
    }
    code := c.QueryParam("code")
    if code == "" {
        return apperror.Unauthenticated()
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*requestTimeout)
    defer cancel()

    profile, err := h.Provider.Exchange(ctx, code)
    if err != nil {
        log.Warn().Err(err).Str("provider", h.Provider.Name()).Msg("federated exchange failed")
        return apperror.Wrap(apperror.KindAuthentication, apperror.MsgUnauthorized, err)
    }
    res, err := h.Svc.FederatedLogin(ctx, profile, meta(c))
    if err != nil {
        return err
    }

    q := url.Values{}
    q.Set("access_token", res.Tokens.AccessToken)
    q.Set("refresh_token", res.Tokens.RefreshToken)
    q.Set("expires_in", strconv.Itoa(res.Tokens.ExpiresIn))
    return c.Redirect(http.StatusFound, h.FrontendURL+"/auth/callback?"+q.Encode())
}
