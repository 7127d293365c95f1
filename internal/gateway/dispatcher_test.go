package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gatekeeper/internal/apperror"
)

type seen struct {
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Query  string      `json:"query"`
	Body   string      `json:"body"`
	Header http.Header `json:"header"`
	Host   string      `json:"host"`
}

func echoDownstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/api/missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"order not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Downstream", "yes")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(seen{
			Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(b), Header: r.Header, Host: r.Host,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dispatch(t *testing.T, d *Dispatcher, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, d.Dispatch(c)
}

func TestDispatchForwardsRequest(t *testing.T) {
	srv := echoDownstream(t)
	d, err := New(Options{BaseURL: srv.URL + "/api/", Prefix: "/gateway"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "http://gw.local/gateway/orders/7?expand=items&x=%20y", strings.NewReader(`{"qty":2}`))
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("Connection", "keep-alive, X-Hop")
	req.Header.Set("X-Hop", "drop-me")
	req.Header.Set("Proxy-Authorization", "secret")
	req.Header.Set("X-Custom", "kept")
	rec, err := dispatch(t, d, req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Downstream"))
	assert.Empty(t, rec.Header().Get("Connection"))

	var got seen
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/orders/7", got.Path)
	assert.Equal(t, "expand=items&x=%20y", got.Query)
	assert.Equal(t, `{"qty":2}`, got.Body)
	assert.Equal(t, "Bearer abc", got.Header.Get("Authorization"))
	assert.Equal(t, "kept", got.Header.Get("X-Custom"))
	assert.Empty(t, got.Header.Get("X-Hop"))
	assert.Empty(t, got.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "gw.local", got.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "192.0.2.1", got.Header.Get("X-Forwarded-For"))
	assert.NotEqual(t, "gw.local", got.Host)
}

func TestTargetURL(t *testing.T) {
	d, err := New(Options{BaseURL: "http://down:4000", Prefix: "/gateway/"})
	require.NoError(t, err)
	for in, want := range map[string]string{
		"/gateway":                     "http://down:4000",
		"/gateway/":                    "http://down:4000/",
		"/gateway/orders":              "http://down:4000/orders",
		"/gateway/orders?a=1":          "http://down:4000/orders?a=1",
		"/gatewayx/orders":             "http://down:4000/gatewayx/orders",
		"/gateway/a/b/../c?q=":         "http://down:4000/a/b/../c?q=",
		"/gateway/files/a%2Fb%20c?x=1": "http://down:4000/files/a%2Fb%20c?x=1",
		"/gateway/caf%C3%A9":           "http://down:4000/caf%C3%A9",
	} {
		req := httptest.NewRequest(http.MethodGet, in, nil)
		assert.Equal(t, want, d.targetURL(req.URL).String(), in)
	}
}

func TestDispatchWrapsDownstreamErrors(t *testing.T) {
	srv := echoDownstream(t)
	d, err := New(Options{BaseURL: srv.URL + "/api", Prefix: "/gateway"})
	require.NoError(t, err)

	_, err = dispatch(t, d, httptest.NewRequest(http.MethodGet, "/gateway/missing", nil))
	var ae *apperror.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperror.KindGateway, ae.Kind)
	assert.Equal(t, http.StatusNotFound, ae.DownstreamStatus)
	assert.Equal(t, map[string]any{"message": "order not found"}, ae.Data)
}

func TestDispatchRelaysErrorsWhenConfigured(t *testing.T) {
	srv := echoDownstream(t)
	d, err := New(Options{BaseURL: srv.URL + "/api", Prefix: "/gateway", RelayErrors: true})
	require.NoError(t, err)

	rec, err := dispatch(t, d, httptest.NewRequest(http.MethodGet, "/gateway/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"order not found"}`, rec.Body.String())
}

func TestDispatchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	d, err := New(Options{BaseURL: base, Prefix: "/gateway"})
	require.NoError(t, err)

	_, err = dispatch(t, d, httptest.NewRequest(http.MethodGet, "/gateway/x", nil))
	assert.Equal(t, apperror.KindGateway, apperror.KindOf(err))
	assert.Equal(t, http.StatusBadGateway, apperror.HTTPStatus(apperror.KindOf(err)))
}

func TestDispatchAbortsDownstreamWhenCallerLeaves(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()
	d, err := New(Options{BaseURL: srv.URL, Prefix: "/gateway"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/gateway/stream", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = dispatch(t, d, req)
	}()

	<-started
	cancel()
	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("downstream was not aborted")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not return")
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "localhost:4000"})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "ftp://host"})
	assert.Error(t, err)
}

func TestDispatchKeepsEncodedSegments(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	d, err := New(Options{BaseURL: srv.URL + "/api", Prefix: "/gateway"})
	require.NoError(t, err)

	rec, err := dispatch(t, d, httptest.NewRequest(http.MethodGet, "/gateway/files/a%2Fb%20c?x=1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/api/files/a%2Fb%20c?x=1", gotURI)
}
