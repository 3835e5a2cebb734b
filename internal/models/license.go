// internal/models/license.go
package models

import "time"

type LicenseMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURI    string `json:"imageUri"`
}

// LicenseToken is an issued franchise license NFT.
type LicenseToken struct {
	TokenID     uint64          `json:"tokenId"`
	Owner       string          `json:"owner"`
	FranchiseID string          `json:"franchiseId"`
	Metadata    LicenseMetadata `json:"metadata"`
}

// MintRequest carries everything the license registry needs to create a token.
type MintRequest struct {
	To              string    `json:"to"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	TokenURI        string    `json:"tokenUri"`
	FranchiseID     string    `json:"franchiseId"`
	LicenseDuration int       `json:"licenseDuration"`
	IssueDate       time.Time `json:"issueDate"`
}
