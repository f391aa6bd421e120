package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/port"
)

const (
	DefaultLockWait = 2 * time.Second
	tracerName      = "github.com/rl1809/farm-fulfillment/internal/core/service"
)

// NewListing carries the owner-supplied fields of a listing being created.
type NewListing struct {
	Kind         domain.ListingKind
	Title        string
	Description  string
	Category     string
	Unit         string
	Images       []string
	AvailableQty int
	PricePerUnit decimal.Decimal
}

// ListingPatch holds owner edits; nil fields are left unchanged.
type ListingPatch struct {
	Kind         *domain.ListingKind
	Title        *string
	Description  *string
	Category     *string
	Unit         *string
	Images       *[]string
	AvailableQty *int
	PricePerUnit *decimal.Decimal
	Status       *domain.ListingStatus
}

// Ledger is the only component that mutates listings and transactions.
// Every stock-affecting decision runs under the listing's lock.
type Ledger struct {
	store    port.Store
	locker   port.Locker
	logger   *zap.Logger
	metrics  *LedgerMetrics
	tracer   trace.Tracer
	lockWait time.Duration
	now      func() time.Time
	newID    func() string
}

type LedgerOption func(*Ledger)

func WithLockWait(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.lockWait = d }
}

func WithMetrics(m *LedgerMetrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *Ledger) { l.newID = newID }
}

func NewLedger(store port.Store, locker port.Locker, logger *zap.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:    store,
		locker:   locker,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		lockWait: DefaultLockWait,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConfirmOrder accepts a requested transaction and takes its quantity out of
// the listing's stock. Both records change together or not at all.
func (l *Ledger) ConfirmOrder(ctx context.Context, actorID, txnID string) (*domain.Listing, *domain.Transaction, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.ConfirmOrder",
		trace.WithAttributes(attribute.String("transaction.id", txnID)))
	defer span.End()

	listing, txn, err := l.confirm(ctx, actorID, txnID)
	l.finish(span, "confirm", err, zap.String("transaction_id", txnID), zap.String("actor_id", actorID))
	if err != nil {
		return nil, nil, err
	}

	l.metrics.addUnitsConfirmed(txn.Quantity)
	span.SetAttributes(
		attribute.String("listing.id", listing.ID),
		attribute.Int("listing.available_qty", listing.AvailableQty),
	)
	l.logger.Info("order confirmed",
		zap.String("transaction_id", txn.ID),
		zap.String("listing_id", listing.ID),
		zap.Int("quantity", txn.Quantity),
		zap.Int("available_qty", listing.AvailableQty),
	)
	return listing, txn, nil
}

func (l *Ledger) confirm(ctx context.Context, actorID, txnID string) (*domain.Listing, *domain.Transaction, error) {
	txn, err := l.requestedTransaction(ctx, actorID, txnID)
	if err != nil {
		return nil, nil, err
	}

	release, err := l.lockListing(ctx, txn.ListingID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	// state may have moved while we waited for the lock
	txn, err = l.requestedTransaction(ctx, actorID, txnID)
	if err != nil {
		return nil, nil, err
	}

	listing, err := l.store.GetListing(ctx, txn.ListingID)
	if err != nil {
		return nil, nil, fmt.Errorf("load listing: %w", err)
	}
	if listing == nil {
		return nil, nil, domain.NotFoundf("listing %s for transaction %s no longer exists", txn.ListingID, txn.ID)
	}

	now := l.now()
	next := listing.Clone()
	if err := next.Decrement(txn.Quantity, now); err != nil {
		return nil, nil, err
	}

	confirmed := txn.Clone()
	confirmed.Status = domain.TransactionStatusConfirmed
	confirmed.ConfirmedAt = &now
	confirmed.UpdatedAt = now

	if err := l.store.ApplyConfirmation(ctx, next, confirmed); err != nil {
		return nil, nil, fmt.Errorf("apply confirmation: %w", err)
	}
	next.Version++
	return &next, &confirmed, nil
}

// RejectOrder declines a requested transaction. Stock is untouched.
func (l *Ledger) RejectOrder(ctx context.Context, actorID, txnID string) (*domain.Transaction, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.RejectOrder",
		trace.WithAttributes(attribute.String("transaction.id", txnID)))
	defer span.End()

	txn, err := l.advance(ctx, actorID, txnID, domain.TransactionStatusRejected)
	l.finish(span, "reject", err, zap.String("transaction_id", txnID), zap.String("actor_id", actorID))
	if err != nil {
		return nil, err
	}
	l.logger.Info("order rejected", zap.String("transaction_id", txn.ID), zap.String("listing_id", txn.ListingID))
	return txn, nil
}

// CompleteOrder records the external completion of a confirmed order.
func (l *Ledger) CompleteOrder(ctx context.Context, actorID, txnID string) (*domain.Transaction, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.CompleteOrder",
		trace.WithAttributes(attribute.String("transaction.id", txnID)))
	defer span.End()

	txn, err := l.advance(ctx, actorID, txnID, domain.TransactionStatusCompleted)
	l.finish(span, "complete", err, zap.String("transaction_id", txnID), zap.String("actor_id", actorID))
	if err != nil {
		return nil, err
	}
	l.logger.Info("order completed", zap.String("transaction_id", txn.ID))
	return txn, nil
}

func (l *Ledger) advance(ctx context.Context, actorID, txnID string, next domain.TransactionStatus) (*domain.Transaction, error) {
	txn, err := l.transitionable(ctx, actorID, txnID, next)
	if err != nil {
		return nil, err
	}

	release, err := l.lockListing(ctx, txn.ListingID)
	if err != nil {
		return nil, err
	}
	defer release()

	txn, err = l.transitionable(ctx, actorID, txnID, next)
	if err != nil {
		return nil, err
	}

	now := l.now()
	updated := txn.Clone()
	updated.Status = next
	updated.UpdatedAt = now
	if next == domain.TransactionStatusCompleted {
		updated.CompletedAt = &now
	}

	if err := l.store.UpdateTransaction(ctx, updated); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return &updated, nil
}

// RequestOrder is the buyer's entry point: it records a requested
// transaction priced from the listing at this moment.
func (l *Ledger) RequestOrder(ctx context.Context, buyerID, listingID string, quantity int, instructions string) (*domain.Transaction, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.RequestOrder",
		trace.WithAttributes(attribute.String("listing.id", listingID), attribute.Int("quantity", quantity)))
	defer span.End()

	txn, err := l.request(ctx, buyerID, listingID, quantity, instructions)
	l.finish(span, "request", err, zap.String("listing_id", listingID), zap.String("buyer_id", buyerID))
	if err != nil {
		return nil, err
	}
	l.logger.Info("order requested",
		zap.String("transaction_id", txn.ID),
		zap.String("listing_id", listingID),
		zap.Int("quantity", quantity),
	)
	return txn, nil
}

func (l *Ledger) request(ctx context.Context, buyerID, listingID string, quantity int, instructions string) (*domain.Transaction, error) {
	if quantity <= 0 {
		return nil, domain.Validationf("quantity must be > 0, got %d", quantity)
	}

	release, err := l.lockListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := l.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if listing == nil {
		return nil, domain.NotFoundf("listing %s not found", listingID)
	}
	if listing.OwnerID == buyerID {
		return nil, domain.Validationf("cannot order from your own listing")
	}
	if listing.EffectiveStatus() == domain.ListingStatusWithdrawn {
		return nil, domain.Validationf("listing %s has been withdrawn", listingID)
	}

	txn := domain.NewTransaction(l.newID(), *listing, buyerID, quantity, instructions, l.now())
	if _, err := l.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return &txn, nil
}

func (l *Ledger) CreateListing(ctx context.Context, actorID string, in NewListing) (*domain.Listing, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.CreateListing")
	defer span.End()

	now := l.now()
	listing := domain.Listing{
		ID:           l.newID(),
		OwnerID:      actorID,
		Kind:         in.Kind,
		Title:        in.Title,
		Description:  in.Description,
		Category:     in.Category,
		Unit:         in.Unit,
		Images:       in.Images,
		AvailableQty: in.AvailableQty,
		PricePerUnit: in.PricePerUnit,
		Status:       domain.ListingStatusAvailable,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := l.store.CreateListing(ctx, listing)
	if err != nil {
		err = fmt.Errorf("create listing: %w", err)
	}
	l.finish(span, "create_listing", err, zap.String("actor_id", actorID))
	if err != nil {
		return nil, err
	}
	l.logger.Info("listing created", zap.String("listing_id", listing.ID), zap.String("owner_id", actorID))
	return &listing, nil
}

func (l *Ledger) UpdateListing(ctx context.Context, actorID, listingID string, patch ListingPatch) (*domain.Listing, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.UpdateListing",
		trace.WithAttributes(attribute.String("listing.id", listingID)))
	defer span.End()

	listing, err := l.updateListing(ctx, actorID, listingID, patch)
	l.finish(span, "update_listing", err, zap.String("listing_id", listingID), zap.String("actor_id", actorID))
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (l *Ledger) updateListing(ctx context.Context, actorID, listingID string, patch ListingPatch) (*domain.Listing, error) {
	release, err := l.lockListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := l.ownedListing(ctx, actorID, listingID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := applyPatch(&next, patch); err != nil {
		return nil, err
	}
	next.UpdatedAt = l.now()

	if err := l.store.UpdateListing(ctx, next); err != nil {
		return nil, fmt.Errorf("update listing: %w", err)
	}
	next.Version++
	return &next, nil
}

func applyPatch(l *domain.Listing, p ListingPatch) error {
	if p.Kind != nil {
		l.Kind = *p.Kind
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Category != nil {
		l.Category = *p.Category
	}
	if p.Unit != nil {
		l.Unit = *p.Unit
	}
	if p.Images != nil {
		l.Images = append([]string(nil), (*p.Images)...)
	}
	if p.PricePerUnit != nil {
		l.PricePerUnit = *p.PricePerUnit
	}
	if p.AvailableQty != nil {
		l.AvailableQty = *p.AvailableQty
		switch {
		case l.AvailableQty == 0 && l.EffectiveStatus() == domain.ListingStatusAvailable:
			l.Status = domain.ListingStatusSoldOut
		case l.AvailableQty > 0 && l.Status == domain.ListingStatusSoldOut:
			l.Status = domain.ListingStatusAvailable
		}
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return domain.Validationf("listing status %q is unknown", *p.Status)
		}
		if *p.Status == domain.ListingStatusAvailable && l.AvailableQty == 0 {
			return domain.Validationf("a listing with no stock cannot be available")
		}
		l.Status = *p.Status
	}
	return l.Validate()
}

// DeleteListing hard-deletes a listing. Listings still referenced by a
// requested or confirmed transaction are kept.
func (l *Ledger) DeleteListing(ctx context.Context, actorID, listingID string) error {
	ctx, span := l.tracer.Start(ctx, "ledger.DeleteListing",
		trace.WithAttributes(attribute.String("listing.id", listingID)))
	defer span.End()

	err := l.deleteListing(ctx, actorID, listingID)
	l.finish(span, "delete_listing", err, zap.String("listing_id", listingID), zap.String("actor_id", actorID))
	if err != nil {
		return err
	}
	l.logger.Info("listing deleted", zap.String("listing_id", listingID))
	return nil
}

func (l *Ledger) deleteListing(ctx context.Context, actorID, listingID string) error {
	release, err := l.lockListing(ctx, listingID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := l.ownedListing(ctx, actorID, listingID); err != nil {
		return err
	}

	open, err := l.store.CountOpenTransactions(ctx, listingID)
	if err != nil {
		return fmt.Errorf("count open transactions: %w", err)
	}
	if open > 0 {
		return domain.Conflictf("listing %s has %d open orders", listingID, open)
	}

	if err := l.store.DeleteListing(ctx, listingID); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	return nil
}

func (l *Ledger) requestedTransaction(ctx context.Context, actorID, txnID string) (domain.Transaction, error) {
	return l.transitionable(ctx, actorID, txnID, domain.TransactionStatusConfirmed)
}

// transitionable loads a transaction the actor may move to next.
func (l *Ledger) transitionable(ctx context.Context, actorID, txnID string, next domain.TransactionStatus) (domain.Transaction, error) {
	txn, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	if txn == nil {
		return domain.Transaction{}, domain.NotFoundf("transaction %s not found", txnID)
	}

	allowed := txn.FarmerID == actorID
	if next == domain.TransactionStatusCompleted {
		allowed = allowed || txn.BuyerID == actorID
	}
	if !allowed {
		return domain.Transaction{}, domain.PermissionDeniedf("transaction %s belongs to another farmer", txnID)
	}

	if !txn.Status.CanTransitionTo(next) {
		return domain.Transaction{}, domain.InvalidTransitionf("transaction %s is %s and cannot become %s", txnID, txn.Status, next)
	}
	return *txn, nil
}

func (l *Ledger) ownedListing(ctx context.Context, actorID, listingID string) (domain.Listing, error) {
	listing, err := l.store.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("load listing: %w", err)
	}
	if listing == nil {
		return domain.Listing{}, domain.NotFoundf("listing %s not found", listingID)
	}
	if listing.OwnerID != actorID {
		return domain.Listing{}, domain.PermissionDeniedf("listing %s belongs to another farmer", listingID)
	}
	return *listing, nil
}

func (l *Ledger) lockListing(ctx context.Context, listingID string) (func(), error) {
	start := time.Now()
	release, err := l.locker.Acquire(ctx, "listing:"+listingID, l.lockWait)
	l.metrics.observeLockWait(time.Since(start))

	if errors.Is(err, port.ErrLockTimeout) {
		return nil, domain.Busyf("listing %s is busy, retry later", listingID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock listing %s: %w", listingID, err)
	}
	return release, nil
}

func (l *Ledger) finish(span trace.Span, op string, err error, fields ...zap.Field) {
	l.metrics.recordOperation(op, err)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	code := domain.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	span.SetAttributes(attribute.String("error.code", string(code)))

	fields = append(fields, zap.String("op", op), zap.String("code", string(code)), zap.Error(err))
	if code == domain.CodeInternal {
		l.logger.Error("ledger operation failed", fields...)
		return
	}
	l.logger.Warn("ledger operation refused", fields...)
}
