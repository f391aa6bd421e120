package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusRequested TransactionStatus = "requested"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusRejected  TransactionStatus = "rejected"
	TransactionStatusCompleted TransactionStatus = "completed"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusRequested: {TransactionStatusConfirmed, TransactionStatusRejected},
	TransactionStatusConfirmed: {TransactionStatusCompleted},
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusRequested, TransactionStatusConfirmed, TransactionStatusRejected, TransactionStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal forward move from s.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TransactionStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Open transactions still hold a claim on their listing.
func (s TransactionStatus) Open() bool {
	return s == TransactionStatusRequested || s == TransactionStatusConfirmed
}

// Fulfilled transactions have consumed stock.
func (s TransactionStatus) Fulfilled() bool {
	return s == TransactionStatusConfirmed || s == TransactionStatusCompleted
}

type Transaction struct {
	ID                string            `json:"id"`
	ListingID         string            `json:"listing_id"`
	BuyerID           string            `json:"buyer_id"`
	FarmerID          string            `json:"farmer_id"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	Quantity          int               `json:"quantity"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	Status            TransactionStatus `json:"status"`
	BuyerInstructions string            `json:"buyer_instructions,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func NewTransaction(id string, listing Listing, buyerID string, quantity int, instructions string, now time.Time) Transaction {
	return Transaction{
		ID:                id,
		ListingID:         listing.ID,
		BuyerID:           buyerID,
		FarmerID:          listing.OwnerID,
		UnitPrice:         listing.PricePerUnit,
		Quantity:          quantity,
		TotalAmount:       listing.PricePerUnit.Mul(decimal.NewFromInt(int64(quantity))),
		Status:            TransactionStatusRequested,
		BuyerInstructions: instructions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (t Transaction) Validate() error {
	if t.ID == "" {
		return Validationf("transaction id is required")
	}
	if t.ListingID == "" {
		return Validationf("transaction listing is required")
	}
	if t.Quantity <= 0 {
		return Validationf("quantity must be > 0, got %d", t.Quantity)
	}
	if t.UnitPrice.IsNegative() {
		return Validationf("unit price must be >= 0, got %s", t.UnitPrice)
	}
	if !t.Status.Valid() {
		return Validationf("transaction status %q is unknown", t.Status)
	}
	return nil
}

// ValidateTransactionUpdate guards the write-once fields and the forward-only
// status machine. Every transaction store runs it before replacing a record.
func ValidateTransactionUpdate(prev, next Transaction) error {
	if !next.TotalAmount.Equal(prev.TotalAmount) {
		return InvariantViolationf("transaction %s: total amount is immutable", prev.ID)
	}
	if next.ListingID != prev.ListingID {
		return InvariantViolationf("transaction %s: listing is immutable", prev.ID)
	}
	if next.Quantity != prev.Quantity {
		return InvariantViolationf("transaction %s: quantity is immutable", prev.ID)
	}
	if next.Status != prev.Status && !prev.Status.CanTransitionTo(next.Status) {
		return InvariantViolationf("transaction %s: status cannot move from %s to %s", prev.ID, prev.Status, next.Status)
	}
	return nil
}

func (t Transaction) Clone() Transaction {
	c := t
	if t.ConfirmedAt != nil {
		at := *t.ConfirmedAt
		c.ConfirmedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return c
}
