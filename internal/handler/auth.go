package handler

import (
    "context" // provides context with cancellation for service calls
    "net/http" // HTTP status codes and primitives
    "strings"  // string manipulation utilities
    "time"     // timeouts for service calls

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/iliyamo/gatekeeper/internal/apperror"   // error taxonomy
    "github.com/iliyamo/gatekeeper/internal/middleware" // principal stored by Authenticate
    "github.com/iliyamo/gatekeeper/internal/model"      // identity and token types
    "github.com/iliyamo/gatekeeper/internal/service"    // credential flows
)

// requestTimeout bounds the store work behind one auth request.
const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
    return &AuthHandler{Svc: svc}
}

// ----- DTOs -----

type registerReq struct {
    Email     string `json:"email"`
    Password  string `json:"password"`
    FirstName string `json:"firstName"`
    LastName  string `json:"lastName"`
}
type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refreshToken"`
}

type authResp struct {
    User *model.User `json:"user"`
    model.TokenPair
}

// Register: create a local identity and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return apperror.InvalidInput("invalid body")
    }
    if err := requireCredentials(req.Email, req.Password); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Svc.Register(ctx, service.RegisterInput{
        Email:     req.Email,
        Password:  req.Password,
        FirstName: req.FirstName,
        LastName:  req.LastName,
    }, meta(c))
    if err != nil {
        return err
    }
    return c.JSON(http.StatusCreated, authResp{User: res.User, TokenPair: res.Tokens})
}

// Login: verify the password and return a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return apperror.InvalidInput("invalid body")
    }
    if err := requireCredentials(req.Email, req.Password); err != nil {
        return err
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Svc.Login(ctx, req.Email, req.Password, meta(c))
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, authResp{User: res.User, TokenPair: res.Tokens})
}

// Refresh: exchange a refresh token for a new pair; the old one stops working.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil {
        return apperror.InvalidInput("invalid body")
    }
    raw := strings.TrimSpace(req.RefreshToken)
    if raw == "" {
        return apperror.InvalidInput("refreshToken is required")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    pair, err := h.Svc.Refresh(ctx, raw, meta(c))
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, pair)
}

// Logout: revoke the caller's sessions (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
    p, ok := middleware.PrincipalFrom(c)
    if !ok {
        return apperror.Unauthenticated()
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Svc.Logout(ctx, p.ID, meta(c)); err != nil {
        return err
    }
    return c.NoContent(http.StatusOK)
}

// Me: the identity behind the access token (protected).
func (h *AuthHandler) Me(c echo.Context) error {
    p, ok := middleware.PrincipalFrom(c)
    if !ok {
        return apperror.Unauthenticated()
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    u, err := h.Svc.Me(ctx, p.ID)
    if err != nil {
        return err
    }
    return c.JSON(http.StatusOK, u)
}

func requireCredentials(email, password string) error {
    if strings.TrimSpace(email) == "" || password == "" {
        return apperror.InvalidInput("email and password are required")
    }
    if !strings.Contains(email, "@") {
        return apperror.InvalidInput("email must be a valid email address")
    }
    return nil
}

func meta(c echo.Context) service.Meta { return service.Meta{RemoteIP: c.RealIP()} }
