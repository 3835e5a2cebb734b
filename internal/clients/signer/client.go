// Package signer is the HTTP adapter for the wallet signer bridge. A session authorises
// ledger calls on behalf of the account the user connected.
package signer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"franchise-license-workers/internal/clients"
	"franchise-license-workers/internal/common/errors"
	httpclient "franchise-license-workers/internal/common/http"

	"github.com/tidwall/gjson"
)

const service = "signer"

// Account is a ledger account as reported by the signer. Subaccount is empty for the
// default subaccount.
type Account struct {
	Owner      string
	Subaccount string
}

// String renders the account identifier used by the ledger and the application registry.
func (a Account) String() string {
	if a.Subaccount == "" {
		return a.Owner
	}
	return a.Owner + "." + a.Subaccount
}

type Client struct {
	http      *httpclient.Client
	whitelist []string
}

// NewClient creates a signer client. whitelist lists the services the session may sign for.
func NewClient(hc *httpclient.Client, whitelist ...string) *Client {
	return &Client{http: hc, whitelist: whitelist}
}

// Connect opens a signer session and returns its id.
func (c *Client) Connect(ctx context.Context) (string, error) {
	resp, err := c.http.PostJSON(ctx, "/sessions", map[string]interface{}{"whitelist": c.whitelist})
	if err != nil {
		return "", clients.TransportError(err, errors.ErrCodeSignerUnavailable, service, "connect", false)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return "", errors.NewSignerNotConnectedError("connection declined by user")
	}
	if !resp.OK() {
		return "", clients.StatusError(resp, errors.ErrCodeSignerUnavailable, service, "connect", false)
	}

	session := gjson.GetBytes(resp.Body, "session_id").String()
	if session == "" {
		return "", errors.NewUnavailableError(errors.ErrCodeSignerUnavailable, service,
			fmt.Errorf("connect: reply has no session_id"))
	}
	return session, nil
}

// Accounts lists the accounts the user exposed to the session, first one being the active one.
func (c *Client) Accounts(ctx context.Context, session string) ([]Account, error) {
	resp, err := c.http.GetJSON(ctx, "/sessions/"+url.PathEscape(session)+"/accounts")
	if err != nil {
		return nil, clients.TransportError(err, errors.ErrCodeSignerUnavailable, service, "accounts", false)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewSignerNotConnectedError("session expired")
	}
	if !resp.OK() {
		return nil, clients.StatusError(resp, errors.ErrCodeSignerUnavailable, service, "accounts", false)
	}

	var accounts []Account
	gjson.GetBytes(resp.Body, "accounts").ForEach(func(_, acc gjson.Result) bool {
		a := Account{Owner: acc.Get("owner").String()}
		if sub, ok := clients.Optional(acc.Get("subaccount")); ok {
			a.Subaccount = sub.String()
		}
		accounts = append(accounts, a)
		return true
	})
	return accounts, nil
}

// Disconnect closes the session. Transfers already acknowledged by the ledger are unaffected.
func (c *Client) Disconnect(ctx context.Context, session string) error {
	resp, err := c.http.PostJSON(ctx, "/sessions/"+url.PathEscape(session)+"/disconnect", struct{}{})
	if err != nil {
		return clients.TransportError(err, errors.ErrCodeSignerUnavailable, service, "disconnect", false)
	}
	if !resp.OK() && resp.StatusCode != http.StatusNotFound {
		return clients.StatusError(resp, errors.ErrCodeSignerUnavailable, service, "disconnect", false)
	}
	return nil
}
