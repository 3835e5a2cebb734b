// Package licenseindex keeps issued licenses searchable in Elasticsearch.
package licenseindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"franchise-license-workers/internal/common/errors"
	"franchise-license-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const DefaultIndex = "licenses"

// Document is the indexed form of an issued license.
type Document struct {
	TokenID       uint64    `json:"tokenId"`
	ApplicationID int64     `json:"applicationId"`
	Owner         string    `json:"owner"`
	FranchiseID   string    `json:"franchiseId"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ImageURI      string    `json:"imageUri,omitempty"`
	IndexedAt     time.Time `json:"indexedAt"`
}

type Indexer struct {
	es    *elasticsearch.Client
	index string
	now   func() time.Time
}

func NewIndexer(es *elasticsearch.Client, index string) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{es: es, index: index, now: time.Now}
}

// IndexLicense upserts the license under its token id, so indexing twice is harmless.
func (i *Indexer) IndexLicense(ctx context.Context, token models.LicenseToken, applicationID int64) error {
	body, err := json.Marshal(Document{
		TokenID:       token.TokenID,
		ApplicationID: applicationID,
		Owner:         token.Owner,
		FranchiseID:   token.FranchiseID,
		Name:          token.Metadata.Name,
		Description:   token.Metadata.Description,
		ImageURI:      token.Metadata.ImageURI,
		IndexedAt:     i.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode license document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: strconv.FormatUint(token.TokenID, 10),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.es)
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(fmt.Errorf("index license %d: %w", token.TokenID, err))
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("index license %d: %s: %s", token.TokenID, res.Status(), msg)
	}
	return nil
}
