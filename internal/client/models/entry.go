package models

import (
	"encoding/json"
	"fmt"
)

// EntityKind classifies the business shape stored in a bucket.
type EntityKind string

const (
	EntityQuote    EntityKind = "quote"
	EntityInvoice  EntityKind = "invoice"
	EntityClient   EntityKind = "client"
	EntityContract EntityKind = "contract"
	EntityGeneric  EntityKind = "generic"
)

// Quote is the typed view of a record in the quotes bucket.
type Quote struct {
	QuoteNumber string  `json:"quoteNumber"`
	ClientName  string  `json:"clientName"`
	ClientID    string  `json:"clientId,omitempty"`
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
	Notes       string  `json:"notes,omitempty"`
}

// Invoice is the typed view of a record in the invoices bucket.
type Invoice struct {
	InvoiceNumber string  `json:"invoiceNumber"`
	ClientName    string  `json:"clientName,omitempty"`
	QuoteID       string  `json:"quoteId,omitempty"`
	Total         float64 `json:"total"`
	AmountPaid    float64 `json:"amountPaid"`
	Balance       float64 `json:"balance"`
	Status        string  `json:"status"`
	DueDate       string  `json:"dueDate,omitempty"`
}

// Client is the typed view of a record in the clients bucket.
type Client struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status"`
}

// FromValue converts a typed entity into an unstamped record.
func FromValue[T any](v T) (*Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("value is not object-shaped: %w", err)
	}
	return NewRecord(fields), nil
}

// Decode converts the business fields of r into T. Metadata is not part of
// the result.
func Decode[T any](r *Record) (T, error) {
	var out T
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}
