package port

import (
	"context"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

type ListingRepository interface {
	// GetListing returns nil, nil when the listing does not exist
	GetListing(ctx context.Context, id string) (*domain.Listing, error)

	// ListListings returns the owner's listings, or every listing for an empty owner
	ListListings(ctx context.Context, ownerID string) ([]domain.Listing, error)

	CreateListing(ctx context.Context, listing domain.Listing) (string, error)

	// UpdateListing replaces a listing with version check for optimistic locking
	UpdateListing(ctx context.Context, listing domain.Listing) error

	DeleteListing(ctx context.Context, id string) error
}

type TransactionRepository interface {
	// GetTransaction returns nil, nil when the transaction does not exist
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListTransactionsByFarmer returns newest first, ties broken by id
	ListTransactionsByFarmer(ctx context.Context, farmerID string) ([]domain.Transaction, error)

	CreateTransaction(ctx context.Context, txn domain.Transaction) (string, error)

	// UpdateTransaction rejects backward status moves and edits to write-once fields
	UpdateTransaction(ctx context.Context, txn domain.Transaction) error

	// CountOpenTransactions counts requested or confirmed transactions on a listing
	CountOpenTransactions(ctx context.Context, listingID string) (int, error)
}

type LedgerRepository interface {
	// ApplyConfirmation persists the decremented listing and the confirmed
	// transaction as one unit: both become visible or neither does
	ApplyConfirmation(ctx context.Context, listing domain.Listing, txn domain.Transaction) error
}

type SnapshotReader interface {
	// Snapshot reads the owner's listings and transactions from one consistent view
	Snapshot(ctx context.Context, ownerID string) ([]domain.Listing, []domain.Transaction, error)
}

type Store interface {
	ListingRepository
	TransactionRepository
	LedgerRepository
	SnapshotReader
}
