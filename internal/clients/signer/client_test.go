package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"franchise-license-workers/internal/common/errors"
	httpclient "franchise-license-workers/internal/common/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(httpclient.New(srv.URL, httpclient.Options{Timeout: time.Second}), "ledger")
}

func TestConnect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"ledger"}, body["whitelist"])
		_, _ = w.Write([]byte(`{"session_id":"sess-1"}`))
	})

	session, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session)
}

func TestConnect_Declined(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.Connect(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeSignerNotConnected))
}

func TestAccounts_OptionalSubaccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/accounts", r.URL.Path)
		_, _ = w.Write([]byte(`{"accounts":[{"owner":"acct-applicant","subaccount":[]},{"owner":"acct-applicant","subaccount":["01"]}]}`))
	})

	accounts, err := c.Accounts(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-applicant", accounts[0].String())
	assert.Equal(t, "acct-applicant.01", accounts[1].String())
}

func TestAccounts_ExpiredSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Accounts(context.Background(), "sess-1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeSignerNotConnected))
}

func TestDisconnect_UnknownSessionIsFine(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/disconnect", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, c.Disconnect(context.Background(), "sess-1"))
}
