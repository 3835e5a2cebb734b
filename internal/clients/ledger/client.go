// Package ledger is the HTTP adapter for the token ledger. Amounts cross this boundary in
// base units only.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"franchise-license-workers/internal/clients"
	"franchise-license-workers/internal/common/errors"
	httpclient "franchise-license-workers/internal/common/http"

	"github.com/tidwall/gjson"
)

const service = "ledger"

// TokenMetadata describes the ledger's token. Fee is nil when the ledger does not report one.
type TokenMetadata struct {
	Decimals uint8    `json:"decimals"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Fee      *big.Int `json:"fee,omitempty"`
}

// TransferRequest is one value transfer authorised by a signer session.
// From is the paying account as reported by the signer; the ledger derives the debited
// account from the session.
type TransferRequest struct {
	Session   string
	From      string
	To        string
	Amount    *big.Int
	Memo      string
	CreatedAt time.Time
}

type Client struct {
	http *httpclient.Client
}

func NewClient(hc *httpclient.Client) *Client {
	return &Client{http: hc}
}

// Metadata reads the token's decimals, symbol, name and optional fee.
func (c *Client) Metadata(ctx context.Context) (*TokenMetadata, error) {
	resp, err := c.http.GetJSON(ctx, "/metadata")
	if err != nil {
		return nil, clients.TransportError(err, errors.ErrCodeLedgerUnavailable, service, "metadata", false)
	}
	if !resp.OK() {
		return nil, clients.StatusError(resp, errors.ErrCodeLedgerUnavailable, service, "metadata", false)
	}

	doc := gjson.ParseBytes(resp.Body)
	decimals := doc.Get("decimals")
	if !decimals.Exists() || decimals.Int() < 0 || decimals.Int() > 255 {
		return nil, errors.NewUnavailableError(errors.ErrCodeLedgerUnavailable, service,
			fmt.Errorf("metadata: invalid decimals %q", decimals.Raw))
	}

	meta := &TokenMetadata{
		Decimals: uint8(decimals.Int()),
		Symbol:   doc.Get("symbol").String(),
		Name:     doc.Get("name").String(),
	}
	if fee, ok := clients.Optional(doc.Get("fee")); ok {
		v, ok := new(big.Int).SetString(fee.String(), 10)
		if !ok {
			return nil, errors.NewUnavailableError(errors.ErrCodeLedgerUnavailable, service,
				fmt.Errorf("metadata: invalid fee %q", fee.Raw))
		}
		meta.Fee = v
	}
	return meta, nil
}

// Balance returns the account balance in base units.
func (c *Client) Balance(ctx context.Context, account string) (*big.Int, error) {
	resp, err := c.http.GetJSON(ctx, "/accounts/"+url.PathEscape(account)+"/balance")
	if err != nil {
		return nil, clients.TransportError(err, errors.ErrCodeLedgerUnavailable, service, "balance", false)
	}
	if !resp.OK() {
		return nil, clients.StatusError(resp, errors.ErrCodeLedgerUnavailable, service, "balance", false)
	}

	raw := gjson.GetBytes(resp.Body, "balance").String()
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.NewUnavailableError(errors.ErrCodeLedgerUnavailable, service,
			fmt.Errorf("balance: invalid amount %q", raw))
	}
	return balance, nil
}

// Transfer issues exactly one transfer and returns the block index it was recorded at.
// It never retries. A Duplicate reply means this exact request (same memo and created_at_time)
// was already recorded; its block index is returned as the result so the caller records that
// payment instead of paying again.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	body := map[string]interface{}{
		"session": req.Session,
		"to":      req.To,
		"amount":  req.Amount.String(),
		"memo":    optionalString(req.Memo),
	}
	if !req.CreatedAt.IsZero() {
		body["created_at_time"] = []int64{req.CreatedAt.UnixNano()}
	} else {
		body["created_at_time"] = []int64{}
	}

	resp, err := c.http.PostJSON(ctx, "/transfer", body)
	if err != nil {
		return 0, clients.TransportError(err, errors.ErrCodeLedgerUnavailable, service, "transfer", true)
	}

	doc := gjson.ParseBytes(resp.Body)
	if ok := doc.Get("Ok"); ok.Exists() {
		return ok.Uint(), nil
	}
	if errVal := doc.Get("Err"); errVal.Exists() {
		if name, detail := clients.Variant(errVal); name == "Duplicate" {
			if dup := detail.Get("duplicate_of"); dup.Exists() {
				return dup.Uint(), nil
			}
			return 0, errors.NewAmbiguousOutcomeError(service, "transfer",
				fmt.Errorf("duplicate transfer without block index: %s", errVal.Raw))
		}
		return 0, transferError(req, errVal)
	}
	if !resp.OK() {
		return 0, clients.StatusError(resp, errors.ErrCodeLedgerUnavailable, service, "transfer", true)
	}
	// 2xx without a result: the ledger may or may not have recorded the transfer.
	return 0, errors.NewAmbiguousOutcomeError(service, "transfer",
		fmt.Errorf("unrecognised transfer reply: %s", doc.Raw))
}

func transferError(req TransferRequest, errVal gjson.Result) error {
	name, detail := clients.Variant(errVal)
	switch name {
	case "InsufficientFunds":
		return errors.NewInsufficientFundsError(req.From, detail.Get("balance").String(), req.Amount.String())
	case "TemporarilyUnavailable":
		return errors.NewUnavailableError(errors.ErrCodeLedgerUnavailable, service,
			fmt.Errorf("transfer: ledger temporarily unavailable"))
	case "BadFee":
		return errors.NewTransferFailedError(fmt.Sprintf("bad fee, expected %s", detail.Get("expected_fee").String()))
	case "GenericError":
		return errors.NewTransferFailedError(fmt.Sprintf("code %d: %s",
			detail.Get("error_code").Int(), detail.Get("message").String()))
	default:
		return errors.NewTransferFailedError(fmt.Sprintf("%s: %s", name, detail.Raw))
	}
}

func optionalString(s string) []string {
	if s == "" {
		return []string{}
	}
	return []string{s}
}
