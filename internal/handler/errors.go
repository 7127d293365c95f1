package handler

import (
    "errors"
    "fmt"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/gatekeeper/internal/apperror"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
    StatusCode       int    `json:"statusCode"`
    Timestamp        string `json:"timestamp"`
    Path             string `json:"path"`
    Method           string `json:"method"`
    Message          string `json:"message"`
    Error            string `json:"error"`
    DownstreamStatus int    `json:"downstreamStatus,omitempty"`
    Data             any    `json:"data,omitempty"`
}

// ErrorHandler is the echo HTTPErrorHandler.  It is the only place errors
// become status codes: apperror kinds through apperror.HTTPStatus, echo's
// own errors (unknown route, bad method, bind failures) by their code, and
// anything else as a 500 whose details stay in the log.
func ErrorHandler(err error, c echo.Context) {
    if c.Response().Committed {
        return
    }
    req := c.Request()
    body := errorBody{
        Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
        Path:      req.URL.RequestURI(),
        Method:    req.Method,
    }

    var ae *apperror.Error
    var he *echo.HTTPError
    switch {
    case errors.As(err, &ae):
        body.StatusCode = apperror.HTTPStatus(ae.Kind)
        body.Error = ae.Kind.String()
        body.Message = ae.Message
        if ae.Kind == apperror.KindGateway {
            body.DownstreamStatus = ae.DownstreamStatus
            body.Data = ae.Data
        }
        if body.StatusCode >= http.StatusInternalServerError && ae.Kind != apperror.KindGateway {
            body.Message = "Internal server error"
        }
    case errors.As(err, &he):
        body.StatusCode = he.Code
        body.Error = http.StatusText(he.Code)
        body.Message = fmt.Sprint(he.Message)
        if he.Code >= http.StatusInternalServerError {
            body.Message = http.StatusText(he.Code)
        }
    default:
        body.StatusCode = http.StatusInternalServerError
        body.Error = http.StatusText(http.StatusInternalServerError)
        body.Message = "Internal server error"
    }

    if body.StatusCode >= http.StatusInternalServerError {
        log.Error().Err(err).Str("method", req.Method).Str("path", body.Path).Int("status", body.StatusCode).Msg("request failed")
    }

    var werr error
    if req.Method == http.MethodHead {
        werr = c.NoContent(body.StatusCode)
    } else {
        werr = c.JSON(body.StatusCode, body)
    }
    if werr != nil {
        log.Warn().Err(werr).Msg("write error response")
    }
}
