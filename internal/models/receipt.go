// internal/models/receipt.go
package models

// TransferReceipt is the one-shot result of a ledger transfer attempt.
// BlockIndex is non-nil exactly when Success is true.
type TransferReceipt struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	BlockIndex *uint64 `json:"blockIndex,omitempty"`
	BaseUnits  string  `json:"baseUnits,omitempty"`
	// Ambiguous is set when the transfer was dispatched but no acknowledgment came back.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// SucceededReceipt builds a successful receipt for the given block.
func SucceededReceipt(blockIndex uint64, baseUnits, message string) TransferReceipt {
	idx := blockIndex
	return TransferReceipt{Success: true, Message: message, BlockIndex: &idx, BaseUnits: baseUnits}
}

// FailedReceipt builds a failed receipt. It never carries a block index.
func FailedReceipt(message string) TransferReceipt {
	return TransferReceipt{Success: false, Message: message}
}
