package model

import (
	"time"
)

// Transaction is the slice of a financial transaction this system needs.
// MerchantName is already canonicalized by the transaction store.
type Transaction struct {
	Date         time.Time `json:"date"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MerchantName string    `json:"merchant"`
	Amount       float64   `json:"amount"`
}

// Merchant returns the aggregation key for the transaction, falling back to the raw name.
func (t *Transaction) Merchant() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}
