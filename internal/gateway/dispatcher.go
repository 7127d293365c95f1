// Package gateway forwards admitted requests to the downstream service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/gatekeeper/internal/apperror"
	"github.com/iliyamo/gatekeeper/internal/metrics"
)

// maxErrorPayload bounds how much of a downstream error body is embedded
// in a gateway error.
const maxErrorPayload = 64 << 10

// hopHeaders are connection-scoped and never forwarded (RFC 9110 §7.6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures a Dispatcher.
type Options struct {
	BaseURL string
	// Prefix is stripped from the inbound path before it is appended to
	// BaseURL.
	Prefix string
	// RelayErrors streams downstream 4xx/5xx responses to the caller as they
	// are instead of wrapping them in a 502.
	RelayErrors bool
	// ResponseHeaderTimeout bounds the wait for downstream headers.  The
	// body is not bounded; it lives as long as the caller keeps reading.
	ResponseHeaderTimeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Dispatcher is a streaming reverse proxy to one downstream base URL.
type Dispatcher struct {
	base        *url.URL
	prefix      string
	relayErrors bool
	client      *http.Client
}

func New(opts Options) (*Dispatcher, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("downstream url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("downstream url %q: need http(s)://host", opts.BaseURL)
	}
	client := opts.Client
	if client == nil {
		client = newClient(opts.ResponseHeaderTimeout)
	}
	return &Dispatcher{
		base:        base,
		prefix:      strings.TrimRight(opts.Prefix, "/"),
		relayErrors: opts.RelayErrors,
		client:      client,
	}, nil
}

func newClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 32
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{
		Transport: tr,
		// Redirects belong to the caller.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

// Dispatch forwards the request in c and streams the response back.  The
// outbound request carries the inbound request's context, so a caller that
// disconnects aborts the downstream exchange.
func (d *Dispatcher) Dispatch(c echo.Context) error {
	in := c.Request()
	ctx := in.Context()
	target := d.targetURL(in.URL)

	var body io.Reader
	if in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), body)
	if err != nil {
		return apperror.Gateway("invalid downstream request", 0, nil, err)
	}
	out.ContentLength = in.ContentLength
	out.Header = in.Header.Clone()
	stripHopHeaders(out.Header)
	addForwardedHeaders(out.Header, c)

	start := time.Now()
	resp, err := d.client.Do(out)
	metrics.DownstreamDuration.WithLabelValues(in.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DownstreamRequestsTotal.WithLabelValues(in.Method, "transport_error").Inc()
		if errors.Is(err, context.Canceled) {
			log.Debug().Str("target", target.String()).Msg("gateway: caller went away")
		}
		return apperror.Gateway("downstream unavailable", 0, nil, err)
	}
	defer resp.Body.Close()
	metrics.DownstreamRequestsTotal.WithLabelValues(in.Method, statusClass(resp.StatusCode)).Inc()

	if resp.StatusCode >= http.StatusBadRequest && !d.relayErrors {
		return apperror.Gateway("downstream request failed", resp.StatusCode, readPayload(resp.Body), nil)
	}

	h := c.Response().Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	stripHopHeaders(h)
	c.Response().WriteHeader(resp.StatusCode)
	if err := copyFlushing(c.Response(), resp.Body); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("target", target.String()).Msg("gateway: response stream interrupted")
	}
	return nil
}

// targetURL maps an inbound URL onto the downstream base: the prefix is
// removed from the path and the rest, escaping included, and the query are
// kept verbatim.
func (d *Dispatcher) targetURL(in *url.URL) *url.URL {
	rest := in.EscapedPath()
	if d.prefix != "" && (rest == d.prefix || strings.HasPrefix(rest, d.prefix+"/")) {
		rest = strings.TrimPrefix(rest, d.prefix)
	}
	u := *d.base
	u.RawPath = strings.TrimRight(d.base.EscapedPath(), "/") + rest
	if p, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = p
	} else {
		u.Path = strings.TrimRight(d.base.Path, "/") + strings.TrimPrefix(in.Path, d.prefix)
		u.RawPath = ""
	}
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return &u
}

func stripHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func addForwardedHeaders(h http.Header, c echo.Context) {
	in := c.Request()
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Get(echo.HeaderXForwardedFor); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set(echo.HeaderXForwardedFor, ip)
	}
	h.Set(echo.HeaderXForwardedProto, c.Scheme())
	h.Set("X-Forwarded-Host", in.Host)
}

// copyFlushing pipes src to w, flushing after every chunk so streamed
// downstream responses reach the caller as they arrive.
func copyFlushing(w *echo.Response, src io.Reader) error {
	rc := http.NewResponseController(w.Writer)
	buf := make([]byte, 32<<10)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			_ = rc.Flush()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// readPayload returns the downstream error body decoded as JSON when
// possible, as text otherwise.
func readPayload(r io.Reader) any {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorPayload))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var v any
	if json.Unmarshal(raw, &v) == nil {
		return v
	}
	return string(raw)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
