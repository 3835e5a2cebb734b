package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("keycloak down") }

func TestPostJSON_SendsBodyAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfer", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acct-owner", body["to"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Ok":42}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", Options{Timeout: time.Second, Tokens: staticToken("svc-token")})
	resp, err := c.PostJSON(context.Background(), "/transfer", map[string]string{"to": "acct-owner"})

	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"Ok":42}`, string(resp.Body))
}

func TestSend_ServerUnreachableIsNotDispatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, Options{Timeout: time.Second})
	_, err := c.PostJSON(context.Background(), "/transfer", map[string]string{})

	require.Error(t, err)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.False(t, reqErr.Dispatched)
	assert.False(t, IsDispatched(err))
}

func TestSend_ConnectionDroppedAfterWriteIsDispatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Timeout: time.Second})
	_, err := c.PostJSON(context.Background(), "/transfer", map[string]string{"to": "x"})

	require.Error(t, err)
	assert.True(t, IsDispatched(err))
}

func TestSend_TokenFailureIsNotDispatched(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Timeout: time.Second, Tokens: failingToken{}})
	_, err := c.GetJSON(context.Background(), "/metadata")

	require.Error(t, err)
	assert.False(t, IsDispatched(err))
	assert.False(t, called)
	assert.Contains(t, err.Error(), "keycloak down")
}

func TestSend_RateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Timeout: time.Second, RateLimit: 0.001, Burst: 1})

	_, err := c.GetJSON(context.Background(), "/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetJSON(ctx, "/b")
	require.Error(t, err)
	assert.False(t, IsDispatched(err))
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, IsTransientStatus(http.StatusServiceUnavailable))
	assert.True(t, IsTransientStatus(http.StatusTooManyRequests))
	assert.False(t, IsTransientStatus(http.StatusInternalServerError))
	assert.False(t, IsTransientStatus(http.StatusBadGateway))
	assert.False(t, IsTransientStatus(http.StatusGatewayTimeout))
	assert.False(t, IsTransientStatus(http.StatusBadRequest))
}
