package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/port"
)

// MemoryStore keeps both collections in process and, when a persister is
// attached, writes the affected collections through after every change.
// A failed write-through restores the previous in-memory state.
type MemoryStore struct {
	mu        sync.RWMutex
	listings  map[string]domain.Listing
	txns      map[string]domain.Transaction
	persister port.CollectionPersister
}

var _ port.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[string]domain.Listing),
		txns:     make(map[string]domain.Transaction),
	}
}

// OpenMemoryStore loads both collections from persister and keeps it for
// write-through.
func OpenMemoryStore(ctx context.Context, persister port.CollectionPersister) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.persister = persister

	listings, err := persister.LoadListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	for _, l := range listings {
		s.listings[l.ID] = l.Clone()
	}

	txns, err := persister.LoadTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	for _, t := range txns {
		s.txns[t.ID] = t.Clone()
	}
	return s, nil
}

func (s *MemoryStore) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	c := l.Clone()
	return &c, nil
}

func (s *MemoryStore) ListListings(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listingsOf(ownerID), nil
}

func (s *MemoryStore) CreateListing(ctx context.Context, listing domain.Listing) (string, error) {
	if err := listing.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[listing.ID]; ok {
		return "", domain.Conflictf("listing %s already exists", listing.ID)
	}
	s.listings[listing.ID] = listing.Clone()

	if err := s.flush(ctx, true, false); err != nil {
		delete(s.listings, listing.ID)
		return "", err
	}
	return listing.ID, nil
}

func (s *MemoryStore) UpdateListing(ctx context.Context, listing domain.Listing) error {
	if err := listing.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.listings[listing.ID]
	if !ok {
		return domain.NotFoundf("listing %s not found", listing.ID)
	}
	if prev.Version != listing.Version {
		return staleVersion(listing.ID)
	}
	if err := domain.ValidateListingUpdate(prev, listing); err != nil {
		return err
	}

	next := listing.Clone()
	next.Version++
	s.listings[listing.ID] = next

	if err := s.flush(ctx, true, false); err != nil {
		s.listings[listing.ID] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) DeleteListing(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.listings[id]
	if !ok {
		return domain.NotFoundf("listing %s not found", id)
	}
	delete(s.listings, id)

	if err := s.flush(ctx, true, false); err != nil {
		s.listings[id] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.txns[id]
	if !ok {
		return nil, nil
	}
	c := t.Clone()
	return &c, nil
}

func (s *MemoryStore) ListTransactionsByFarmer(ctx context.Context, farmerID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionsOf(farmerID), nil
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn domain.Transaction) (string, error) {
	if err := txn.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txns[txn.ID]; ok {
		return "", domain.Conflictf("transaction %s already exists", txn.ID)
	}
	s.txns[txn.ID] = txn.Clone()

	if err := s.flush(ctx, false, true); err != nil {
		delete(s.txns, txn.ID)
		return "", err
	}
	return txn.ID, nil
}

func (s *MemoryStore) UpdateTransaction(ctx context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.txns[txn.ID]
	if !ok {
		return domain.NotFoundf("transaction %s not found", txn.ID)
	}
	if err := domain.ValidateTransactionUpdate(prev, txn); err != nil {
		return err
	}
	s.txns[txn.ID] = txn.Clone()

	if err := s.flush(ctx, false, true); err != nil {
		s.txns[txn.ID] = prev
		return err
	}
	return nil
}

func (s *MemoryStore) CountOpenTransactions(ctx context.Context, listingID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.txns {
		if t.ListingID == listingID && t.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ApplyConfirmation(ctx context.Context, listing domain.Listing, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevListing, ok := s.listings[listing.ID]
	if !ok {
		return domain.NotFoundf("listing %s not found", listing.ID)
	}
	prevTxn, ok := s.txns[txn.ID]
	if !ok {
		return domain.NotFoundf("transaction %s not found", txn.ID)
	}
	if prevListing.Version != listing.Version {
		return staleVersion(listing.ID)
	}
	if prevTxn.Status != domain.TransactionStatusRequested {
		return domain.InvalidTransitionf("transaction %s is %s, not requested", txn.ID, prevTxn.Status)
	}
	if err := domain.ValidateTransactionUpdate(prevTxn, txn); err != nil {
		return err
	}
	if err := domain.ValidateListingUpdate(prevListing, listing); err != nil {
		return err
	}
	if listing.AvailableQty < 0 || prevListing.AvailableQty-listing.AvailableQty != txn.Quantity {
		return domain.InvariantViolationf("listing %s: stock change does not match transaction %s", listing.ID, txn.ID)
	}

	next := listing.Clone()
	next.Version++
	s.listings[listing.ID] = next
	s.txns[txn.ID] = txn.Clone()

	if err := s.flushPair(ctx, prevListing); err != nil {
		s.listings[listing.ID] = prevListing
		s.txns[txn.ID] = prevTxn
		return err
	}
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, ownerID string) ([]domain.Listing, []domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listingsOf(ownerID), s.transactionsOf(ownerID), nil
}

func (s *MemoryStore) listingsOf(ownerID string) []domain.Listing {
	out := make([]domain.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if ownerID == "" || l.OwnerID == ownerID {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) transactionsOf(farmerID string) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, t := range s.txns {
		if farmerID == "" || t.FarmerID == farmerID {
			out = append(out, t.Clone())
		}
	}
	SortTransactionsNewestFirst(out)
	return out
}

func (s *MemoryStore) flush(ctx context.Context, listings, txns bool) error {
	if s.persister == nil {
		return nil
	}
	if listings {
		if err := s.persister.SaveListings(ctx, s.listingsOf("")); err != nil {
			return domain.Transient("save listings", err)
		}
	}
	if txns {
		if err := s.persister.SaveTransactions(ctx, s.transactionsOf("")); err != nil {
			return domain.Transient("save transactions", err)
		}
	}
	return nil
}

// flushPair writes listings then transactions. When the second write fails
// the listings file is rewritten with prevListing restored so the durable
// copy never shows a decrement without its confirmation. Once the listings
// half is on disk the caller's cancellation no longer applies.
func (s *MemoryStore) flushPair(ctx context.Context, prevListing domain.Listing) error {
	if s.persister == nil {
		return nil
	}
	if err := s.persister.SaveListings(ctx, s.listingsOf("")); err != nil {
		return domain.Transient("save listings", err)
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.persister.SaveTransactions(ctx, s.transactionsOf("")); err != nil {
		applied := s.listings[prevListing.ID]
		s.listings[prevListing.ID] = prevListing
		rollbackErr := s.persister.SaveListings(ctx, s.listingsOf(""))
		s.listings[prevListing.ID] = applied
		if rollbackErr != nil {
			return errors.Join(domain.Transient("save transactions", err), fmt.Errorf("rollback listings: %w", rollbackErr))
		}
		return domain.Transient("save transactions", err)
	}
	return nil
}

func staleVersion(id string) error {
	return fmt.Errorf("%w: %w", ErrOptimisticLock, domain.Busyf("listing %s was modified concurrently", id))
}

// SortTransactionsNewestFirst orders by CreatedAt descending, ties by ID.
func SortTransactionsNewestFirst(txns []domain.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].CreatedAt.After(txns[j].CreatedAt)
		}
		return txns[i].ID < txns[j].ID
	})
}
