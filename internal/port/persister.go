package port

import (
	"context"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

// CollectionPersister reads and replaces whole collections. The memory store
// layers keyed access and atomic writes on top of it.
type CollectionPersister interface {
	LoadListings(ctx context.Context) ([]domain.Listing, error)
	SaveListings(ctx context.Context, listings []domain.Listing) error
	LoadTransactions(ctx context.Context) ([]domain.Transaction, error)
	SaveTransactions(ctx context.Context, txns []domain.Transaction) error
}
