// Package licenses is the HTTP adapter for the license registry that mints franchise
// license tokens.
package licenses

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"franchise-license-workers/internal/clients"
	"franchise-license-workers/internal/common/errors"
	httpclient "franchise-license-workers/internal/common/http"
	"franchise-license-workers/internal/models"

	"github.com/tidwall/gjson"
)

const service = "license_registry"

type Client struct {
	http *httpclient.Client
}

func NewClient(hc *httpclient.Client) *Client {
	return &Client{http: hc}
}

// Mint creates a new license token and returns its id. Structured registry errors become
// DUPLICATE_MINT or MINT_FAILED; a lost reply is AMBIGUOUS_OUTCOME.
func (c *Client) Mint(ctx context.Context, req models.MintRequest) (uint64, error) {
	body := map[string]interface{}{
		"to":               req.To,
		"name":             req.Name,
		"description":      req.Description,
		"token_uri":        req.TokenURI,
		"franchise_id":     req.FranchiseID,
		"license_duration": req.LicenseDuration,
		"issue_date":       req.IssueDate.UTC().Format(time.RFC3339),
	}

	resp, err := c.http.PostJSON(ctx, "/mint", body)
	if err != nil {
		return 0, clients.TransportError(err, errors.ErrCodeLicenseRegistryUnavailable, service, "mint", true)
	}

	doc := gjson.ParseBytes(resp.Body)
	if ok := doc.Get("Ok"); ok.Exists() {
		return ok.Uint(), nil
	}
	if errVal := doc.Get("Err"); errVal.Exists() {
		return 0, mintError(errVal)
	}
	if !resp.OK() {
		return 0, clients.StatusError(resp, errors.ErrCodeLicenseRegistryUnavailable, service, "mint", true)
	}
	return 0, errors.NewAmbiguousOutcomeError(service, "mint", fmt.Errorf("unrecognised mint reply: %s", doc.Raw))
}

func mintError(errVal gjson.Result) error {
	name, detail := clients.Variant(errVal)
	switch name {
	case "Duplicate", "TokenAlreadyExists":
		return errors.NewDuplicateMintError(detail.Raw)
	case "GenericError":
		return errors.NewMintFailedError(detail.Get("error_code").Int(), detail.Get("message").String())
	case "Unauthorized":
		return errors.NewMintFailedError(401, "minting account is not authorised")
	default:
		return errors.NewMintFailedError(-1, fmt.Sprintf("%s: %s", name, detail.Raw))
	}
}

// Transfer moves token ownership to another account.
func (c *Client) Transfer(ctx context.Context, tokenID uint64, to string) error {
	resp, err := c.http.PostJSON(ctx, "/tokens/"+strconv.FormatUint(tokenID, 10)+"/transfer", map[string]string{"to": to})
	if err != nil {
		return clients.TransportError(err, errors.ErrCodeLicenseRegistryUnavailable, service, "transfer", true)
	}

	doc := gjson.ParseBytes(resp.Body)
	if doc.Get("Ok").Exists() {
		return nil
	}
	if errVal := doc.Get("Err"); errVal.Exists() {
		name, detail := clients.Variant(errVal)
		return errors.NewTransferFailedError(fmt.Sprintf("license %d: %s %s", tokenID, name, detail.Raw)).
			WithMetadata("tokenId", tokenID)
	}
	if !resp.OK() {
		return clients.StatusError(resp, errors.ErrCodeLicenseRegistryUnavailable, service, "transfer", true)
	}
	return errors.NewAmbiguousOutcomeError(service, "transfer", fmt.Errorf("unrecognised transfer reply: %s", doc.Raw))
}

// OwnerOf returns the current owner of tokenID; ok is false when the token does not exist.
func (c *Client) OwnerOf(ctx context.Context, tokenID uint64) (string, bool, error) {
	resp, err := c.http.GetJSON(ctx, "/tokens/"+strconv.FormatUint(tokenID, 10)+"/owner")
	if err != nil {
		return "", false, clients.TransportError(err, errors.ErrCodeLicenseRegistryUnavailable, service, "owner_of", false)
	}
	if !resp.OK() {
		return "", false, clients.StatusError(resp, errors.ErrCodeLicenseRegistryUnavailable, service, "owner_of", false)
	}

	owner, ok := clients.Optional(gjson.GetBytes(resp.Body, "owner"))
	if !ok {
		return "", false, nil
	}
	return owner.String(), true, nil
}

// Metadata returns the tokens among tokenIDs that exist, in registry order.
func (c *Client) Metadata(ctx context.Context, tokenIDs []uint64) ([]models.LicenseToken, error) {
	resp, err := c.http.PostJSON(ctx, "/tokens/metadata", map[string]interface{}{"token_ids": tokenIDs})
	if err != nil {
		return nil, clients.TransportError(err, errors.ErrCodeLicenseRegistryUnavailable, service, "metadata", false)
	}
	if !resp.OK() {
		return nil, clients.StatusError(resp, errors.ErrCodeLicenseRegistryUnavailable, service, "metadata", false)
	}

	var tokens []models.LicenseToken
	gjson.GetBytes(resp.Body, "tokens").ForEach(func(_, tok gjson.Result) bool {
		meta, ok := clients.Optional(tok.Get("metadata"))
		if !ok {
			return true
		}
		token := models.LicenseToken{
			TokenID:     tok.Get("token_id").Uint(),
			FranchiseID: meta.Get("franchise_id").String(),
			Metadata: models.LicenseMetadata{
				Name:        meta.Get("name").String(),
				Description: meta.Get("description").String(),
				ImageURI:    meta.Get("token_uri").String(),
			},
		}
		if owner, ok := clients.Optional(tok.Get("owner")); ok {
			token.Owner = owner.String()
		}
		tokens = append(tokens, token)
		return true
	})
	return tokens, nil
}

// TotalSupply returns the number of minted licenses.
func (c *Client) TotalSupply(ctx context.Context) (uint64, error) {
	resp, err := c.http.GetJSON(ctx, "/total_supply")
	if err != nil {
		return 0, clients.TransportError(err, errors.ErrCodeLicenseRegistryUnavailable, service, "total_supply", false)
	}
	if !resp.OK() {
		return 0, clients.StatusError(resp, errors.ErrCodeLicenseRegistryUnavailable, service, "total_supply", false)
	}
	return gjson.GetBytes(resp.Body, "total_supply").Uint(), nil
}
