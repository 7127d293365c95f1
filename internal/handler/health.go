package handler // declare the package name; contains HTTP handlers

import (
    "context"  // bounds each dependency check
    "net/http" // net/http provides status codes and response helpers
    "time"

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// HealthCheck probes one dependency.
type HealthCheck struct {
    Name  string
    Check func(ctx context.Context) error
}

// HealthHandler reports the state of the gateway's dependencies.
type HealthHandler struct {
    Checks  []HealthCheck
    Timeout time.Duration
}

type healthResp struct {
    Status     string            `json:"status"`
    Components map[string]string `json:"components"`
}

// Health is used by load balancers and monitoring systems.  It answers 200
// with status "ok" when every check passes and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
    timeout := h.Timeout
    if timeout <= 0 {
        timeout = 2 * time.Second
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
    defer cancel()

    resp := healthResp{Status: "ok", Components: make(map[string]string, len(h.Checks))}
    for _, chk := range h.Checks {
        if err := chk.Check(ctx); err != nil {
            resp.Components[chk.Name] = "down"
            resp.Status = "error"
            continue
        }
        resp.Components[chk.Name] = "up"
    }
    code := http.StatusOK
    if resp.Status != "ok" {
        code = http.StatusServiceUnavailable
    }
    return c.JSON(code, resp)
}
