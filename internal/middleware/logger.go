package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request through zerolog and tags the
// response with an X-Request-Id.  Errors are handed to echo's error
// handler first so the logged status is the one the client saw.
func RequestLogger() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            req := c.Request()
            reqID := req.Header.Get(echo.HeaderXRequestID)
            if reqID == "" {
                reqID = uuid.NewString()
            }
            c.Response().Header().Set(echo.HeaderXRequestID, reqID)

            err := next(c)
            if err != nil {
                c.Error(err)
            }

            status := c.Response().Status
            var ev *zerolog.Event
            switch {
            case status >= 500:
                ev = log.Error().Err(err)
            case status >= 400:
                ev = log.Warn()
            default:
                ev = log.Info()
            }
            ev = ev.
                Str("request_id", reqID).
                Str("method", req.Method).
                Str("uri", req.RequestURI).
                Int("status", status).
                Dur("latency", time.Since(start)).
                Str("remote_ip", c.RealIP()).
                Str("user_agent", req.UserAgent()).
                Int64("bytes_out", c.Response().Size)
            if p, ok := PrincipalFrom(c); ok {
                ev = ev.Str("user_id", p.ID)
            }
            ev.Msg("request")
            return nil
        }
    }
}
