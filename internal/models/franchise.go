// internal/models/franchise.go
package models

// Franchise is the read-only slice of franchise data the settlement pipeline needs
// to price a payment and describe a minted license.
type Franchise struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	ImageURI        string `json:"imageUri"`
	OwnerAccount    string `json:"ownerAccount"`
	LicenseDuration int    `json:"licenseDuration"` // days
}
