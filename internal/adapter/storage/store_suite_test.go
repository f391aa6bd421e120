package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/port"
)

func testListing(ownerID string, qty int) domain.Listing {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Listing{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Kind:         domain.ListingKindCrop,
		Title:        "Sample Maize - 25kg bag",
		Category:     "grains",
		Unit:         "bag",
		Images:       []string{"maize.jpg"},
		AvailableQty: qty,
		PricePerUnit: decimal.RequireFromString("12.5"),
		Status:       domain.ListingStatusAvailable,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testTransaction(l domain.Listing, qty int, at time.Time) domain.Transaction {
	return domain.NewTransaction(uuid.NewString(), l, "buyer-"+uuid.NewString()[:8], qty, "", at.UTC().Truncate(time.Second))
}

// runStoreSuite checks the repository contract every port.Store must meet.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) port.Store) {
	ctx := context.Background()

	t.Run("ListingRoundTrip", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		l.Description = "dry, sorted"

		id, err := s.CreateListing(ctx, l)
		require.NoError(t, err)
		assert.Equal(t, l.ID, id)

		got, err := s.GetListing(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, l.Title, got.Title)
		assert.Equal(t, l.Description, got.Description)
		assert.Equal(t, 10, got.AvailableQty)
		assert.True(t, l.PricePerUnit.Equal(got.PricePerUnit))
		assert.Equal(t, []string{"maize.jpg"}, got.Images)
		assert.True(t, l.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("GetListingMissing", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetListing(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("CreateListingRejectsNegatives", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), -1)
		_, err := s.CreateListing(ctx, l)
		assert.ErrorIs(t, err, domain.ErrValidation)

		l = testListing(uuid.NewString(), 1)
		l.PricePerUnit = decimal.NewFromInt(-3)
		_, err = s.CreateListing(ctx, l)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("ListListingsByOwner", func(t *testing.T) {
		s := newStore(t)
		owner := uuid.NewString()
		for i := 0; i < 3; i++ {
			_, err := s.CreateListing(ctx, testListing(owner, i+1))
			require.NoError(t, err)
		}
		_, err := s.CreateListing(ctx, testListing(uuid.NewString(), 7))
		require.NoError(t, err)

		listings, err := s.ListListings(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, listings, 3)
		for _, l := range listings {
			assert.Equal(t, owner, l.OwnerID)
		}
	})

	t.Run("UpdateListing", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)

		l.Title = "Yellow Maize"
		l.AvailableQty = 12
		require.NoError(t, s.UpdateListing(ctx, l))

		got, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Yellow Maize", got.Title)
		assert.Equal(t, 12, got.AvailableQty)
		assert.Equal(t, 2, got.Version)

		// stale version
		err = s.UpdateListing(ctx, l)
		assert.ErrorIs(t, err, ErrOptimisticLock)
		assert.ErrorIs(t, err, domain.ErrBusy)

		missing := testListing(l.OwnerID, 1)
		assert.ErrorIs(t, s.UpdateListing(ctx, missing), domain.ErrNotFound)
	})

	t.Run("UpdateListingKeepsOwnerAndCreatedAt", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)

		moved := l
		moved.OwnerID = "farmer-2"
		assert.ErrorIs(t, s.UpdateListing(ctx, moved), domain.ErrInvariantViolation)

		backdated := l
		backdated.CreatedAt = time.Unix(0, 0).UTC()
		assert.ErrorIs(t, s.UpdateListing(ctx, backdated), domain.ErrInvariantViolation)

		got, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, l.OwnerID, got.OwnerID)
		assert.True(t, l.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, 1, got.Version)
	})

	t.Run("DeleteListing", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)

		require.NoError(t, s.DeleteListing(ctx, l.ID))
		got, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.ErrorIs(t, s.DeleteListing(ctx, l.ID), domain.ErrNotFound)
	})

	t.Run("TransactionsNewestFirst", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)

		base := time.Now().Add(-time.Hour)
		older := testTransaction(l, 1, base)
		newer := testTransaction(l, 1, base.Add(10*time.Minute))
		tieA := testTransaction(l, 1, base.Add(5*time.Minute))
		tieB := testTransaction(l, 1, base.Add(5*time.Minute))
		tieA.ID, tieB.ID = "a-"+tieA.ID, "b-"+tieB.ID
		for _, txn := range []domain.Transaction{older, tieB, newer, tieA} {
			_, err := s.CreateTransaction(ctx, txn)
			require.NoError(t, err)
		}

		txns, err := s.ListTransactionsByFarmer(ctx, l.OwnerID)
		require.NoError(t, err)
		require.Len(t, txns, 4)
		assert.Equal(t, newer.ID, txns[0].ID)
		assert.Equal(t, tieA.ID, txns[1].ID)
		assert.Equal(t, tieB.ID, txns[2].ID)
		assert.Equal(t, older.ID, txns[3].ID)
	})

	t.Run("UpdateTransactionGuard", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)
		txn := testTransaction(l, 2, time.Now())
		_, err = s.CreateTransaction(ctx, txn)
		require.NoError(t, err)

		changed := txn
		changed.TotalAmount = decimal.NewFromInt(1)
		assert.ErrorIs(t, s.UpdateTransaction(ctx, changed), domain.ErrInvariantViolation)

		rejected := txn
		rejected.Status = domain.TransactionStatusRejected
		require.NoError(t, s.UpdateTransaction(ctx, rejected))

		back := rejected
		back.Status = domain.TransactionStatusRequested
		assert.ErrorIs(t, s.UpdateTransaction(ctx, back), domain.ErrInvariantViolation)

		got, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusRejected, got.Status)

		missing := testTransaction(l, 1, time.Now())
		assert.ErrorIs(t, s.UpdateTransaction(ctx, missing), domain.ErrNotFound)
	})

	t.Run("ApplyConfirmation", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)
		txn := testTransaction(l, 4, time.Now())
		_, err = s.CreateTransaction(ctx, txn)
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Second)
		next := l
		require.NoError(t, next.Decrement(txn.Quantity, now))
		confirmed := txn
		confirmed.Status = domain.TransactionStatusConfirmed
		confirmed.ConfirmedAt = &now
		confirmed.UpdatedAt = now

		require.NoError(t, s.ApplyConfirmation(ctx, next, confirmed))

		gotL, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		gotT, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, gotL.AvailableQty)
		assert.Equal(t, 2, gotL.Version)
		assert.Equal(t, domain.TransactionStatusConfirmed, gotT.Status)
		require.NotNil(t, gotT.ConfirmedAt)
		assert.True(t, gotT.CreatedAt.Equal(txn.CreatedAt))

		// replaying the same confirmation must not decrement twice
		err = s.ApplyConfirmation(ctx, next, confirmed)
		assert.Error(t, err)
		gotL, err = s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, gotL.AvailableQty)
	})

	t.Run("ApplyConfirmationLeavesBothOnFailure", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)
		txn := testTransaction(l, 3, time.Now())
		_, err = s.CreateTransaction(ctx, txn)
		require.NoError(t, err)

		rejected := txn
		rejected.Status = domain.TransactionStatusRejected
		require.NoError(t, s.UpdateTransaction(ctx, rejected))

		now := time.Now().UTC()
		next := l
		require.NoError(t, next.Decrement(txn.Quantity, now))
		confirmed := txn
		confirmed.Status = domain.TransactionStatusConfirmed
		confirmed.ConfirmedAt = &now

		assert.Error(t, s.ApplyConfirmation(ctx, next, confirmed))

		gotL, err := s.GetListing(ctx, l.ID)
		require.NoError(t, err)
		gotT, err := s.GetTransaction(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, gotL.AvailableQty)
		assert.Equal(t, 1, gotL.Version)
		assert.Equal(t, domain.TransactionStatusRejected, gotT.Status)
	})

	t.Run("CountOpenTransactions", func(t *testing.T) {
		s := newStore(t)
		l := testListing(uuid.NewString(), 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)

		open := testTransaction(l, 1, time.Now())
		closed := testTransaction(l, 1, time.Now())
		closed.Status = domain.TransactionStatusRejected
		for _, txn := range []domain.Transaction{open, closed} {
			_, err := s.CreateTransaction(ctx, txn)
			require.NoError(t, err)
		}

		n, err := s.CountOpenTransactions(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Snapshot", func(t *testing.T) {
		s := newStore(t)
		owner := uuid.NewString()
		l := testListing(owner, 10)
		_, err := s.CreateListing(ctx, l)
		require.NoError(t, err)
		_, err = s.CreateTransaction(ctx, testTransaction(l, 2, time.Now()))
		require.NoError(t, err)
		_, err = s.CreateListing(ctx, testListing(uuid.NewString(), 3))
		require.NoError(t, err)

		listings, txns, err := s.Snapshot(ctx, owner)
		require.NoError(t, err)
		assert.Len(t, listings, 1)
		assert.Len(t, txns, 1)
	})
}
