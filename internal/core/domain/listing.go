package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingKind string

const (
	ListingKindCrop      ListingKind = "crop"
	ListingKindLivestock ListingKind = "livestock"
)

func (k ListingKind) Valid() bool {
	return k == ListingKindCrop || k == ListingKindLivestock
}

type ListingStatus string

const (
	ListingStatusAvailable ListingStatus = "available"
	ListingStatusSoldOut   ListingStatus = "sold_out"
	ListingStatusWithdrawn ListingStatus = "withdrawn"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingStatusAvailable, ListingStatusSoldOut, ListingStatusWithdrawn:
		return true
	}
	return false
}

type Listing struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Kind         ListingKind     `json:"kind"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	Images       []string        `json:"images,omitempty"`
	AvailableQty int             `json:"available_qty"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Status       ListingStatus   `json:"status"`
	Version      int             `json:"version"` // optimistic locking
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks the fields every stored listing must satisfy.
func (l Listing) Validate() error {
	if l.ID == "" {
		return Validationf("listing id is required")
	}
	if l.OwnerID == "" {
		return Validationf("listing owner is required")
	}
	if !l.Kind.Valid() {
		return Validationf("listing kind %q is not one of crop, livestock", l.Kind)
	}
	if l.Title == "" {
		return Validationf("listing title is required")
	}
	if l.AvailableQty < 0 {
		return Validationf("available quantity must be >= 0, got %d", l.AvailableQty)
	}
	if l.PricePerUnit.IsNegative() {
		return Validationf("price per unit must be >= 0, got %s", l.PricePerUnit)
	}
	if l.Status != "" && !l.Status.Valid() {
		return Validationf("listing status %q is unknown", l.Status)
	}
	return nil
}

// EffectiveStatus treats an unset status as available.
func (l Listing) EffectiveStatus() ListingStatus {
	if l.Status == "" {
		return ListingStatusAvailable
	}
	return l.Status
}

// Decrement removes quantity from stock for a confirmed order and flips the
// listing to sold_out when nothing is left.
func (l *Listing) Decrement(quantity int, now time.Time) error {
	if quantity <= 0 {
		return Validationf("quantity must be > 0, got %d", quantity)
	}
	if l.AvailableQty < quantity {
		return InsufficientStockf(l.AvailableQty, quantity)
	}
	l.AvailableQty -= quantity
	if l.AvailableQty == 0 {
		l.Status = ListingStatusSoldOut
	}
	l.UpdatedAt = now
	return nil
}

// ValidateListingUpdate rejects edits to the owner and creation time. Every
// listing store runs it before replacing a record.
func ValidateListingUpdate(prev, next Listing) error {
	if next.OwnerID != prev.OwnerID {
		return InvariantViolationf("listing %s: owner is immutable", prev.ID)
	}
	if !next.CreatedAt.Equal(prev.CreatedAt) {
		return InvariantViolationf("listing %s: created_at is immutable", prev.ID)
	}
	return nil
}

func (l Listing) Clone() Listing {
	c := l
	if l.Images != nil {
		c.Images = append([]string(nil), l.Images...)
	}
	return c
}
