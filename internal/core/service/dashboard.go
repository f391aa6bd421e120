package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/port"
)

const DefaultRecentOrdersLimit = 12

type Filter string

const (
	FilterAll       Filter = "all"
	FilterAvailable Filter = "available"
	FilterLow       Filter = "low"
)

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterAvailable, FilterLow:
		return f, nil
	}
	return "", domain.Validationf("unknown listing filter %q", s)
}

// ViewQuery is the filter state the dashboard re-applies after each intent.
type ViewQuery struct {
	Filter Filter
	Search string
}

type View struct {
	Actor              domain.Actor         `json:"actor"`
	Filter             Filter               `json:"filter"`
	Search             string               `json:"search,omitempty"`
	Listings           []domain.Listing     `json:"listings"`
	RecentTransactions []domain.Transaction `json:"recent_transactions"`
	Summary            Summary              `json:"summary"`
}

type DashboardConfig struct {
	LowStockThreshold int
	RecentOrdersLimit int
	RevenuePolicy     RevenuePolicy
}

func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		LowStockThreshold: DefaultLowStockThreshold,
		RecentOrdersLimit: DefaultRecentOrdersLimit,
		RevenuePolicy:     RevenueAllStatuses,
	}
}

// Dashboard is the farmer-facing facade. It authenticates each intent,
// routes mutations through the Ledger and rebuilds the view from a snapshot.
type Dashboard struct {
	ledger    *Ledger
	snapshots port.SnapshotReader
	identity  port.IdentityProvider
	cfg       DashboardConfig
	logger    *zap.Logger
}

func NewDashboard(ledger *Ledger, snapshots port.SnapshotReader, identity port.IdentityProvider, cfg DashboardConfig, logger *zap.Logger) *Dashboard {
	return &Dashboard{
		ledger:    ledger,
		snapshots: snapshots,
		identity:  identity,
		cfg:       cfg,
		logger:    logger,
	}
}

func (d *Dashboard) requireAuthenticated(ctx context.Context) (domain.Actor, error) {
	actor, ok := d.identity.Current(ctx)
	if !ok || actor.ID == "" {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return actor, nil
}

func (d *Dashboard) summaryOptions() SummaryOptions {
	return SummaryOptions{LowStockThreshold: d.cfg.LowStockThreshold, RevenuePolicy: d.cfg.RevenuePolicy}
}

// Refresh reloads the actor's listings and transactions and recomputes
// every derived figure.
func (d *Dashboard) Refresh(ctx context.Context, q ViewQuery) (*View, error) {
	actor, err := d.requireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	return d.view(ctx, actor, q)
}

func (d *Dashboard) view(ctx context.Context, actor domain.Actor, q ViewQuery) (*View, error) {
	if q.Filter == "" {
		q.Filter = FilterAll
	}

	listings, txns, err := d.snapshots.Snapshot(ctx, actor.ID)
	if err != nil {
		d.logger.Error("dashboard snapshot failed", zap.String("actor_id", actor.ID), zap.Error(err))
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	recent := txns
	if limit := d.cfg.RecentOrdersLimit; limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	return &View{
		Actor:              actor,
		Filter:             q.Filter,
		Search:             q.Search,
		Listings:           FilterListings(listings, q.Filter, q.Search, d.cfg.LowStockThreshold),
		RecentTransactions: recent,
		Summary:            Summarize(listings, txns, d.summaryOptions()),
	}, nil
}

func (d *Dashboard) ListOwnerListings(ctx context.Context) ([]domain.Listing, error) {
	return d.FilteredListings(ctx, ViewQuery{Filter: FilterAll})
}

func (d *Dashboard) FilteredListings(ctx context.Context, q ViewQuery) ([]domain.Listing, error) {
	v, err := d.Refresh(ctx, q)
	if err != nil {
		return nil, err
	}
	return v.Listings, nil
}

func (d *Dashboard) Summary(ctx context.Context) (Summary, error) {
	v, err := d.Refresh(ctx, ViewQuery{})
	if err != nil {
		return Summary{}, err
	}
	return v.Summary, nil
}

func (d *Dashboard) CreateListing(ctx context.Context, in NewListing, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		_, err := d.ledger.CreateListing(ctx, actor.ID, in)
		return err
	})
}

func (d *Dashboard) UpdateListing(ctx context.Context, listingID string, patch ListingPatch, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		_, err := d.ledger.UpdateListing(ctx, actor.ID, listingID, patch)
		return err
	})
}

func (d *Dashboard) DeleteListing(ctx context.Context, listingID string, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		return d.ledger.DeleteListing(ctx, actor.ID, listingID)
	})
}

func (d *Dashboard) ConfirmOrder(ctx context.Context, txnID string, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		_, _, err := d.ledger.ConfirmOrder(ctx, actor.ID, txnID)
		return err
	})
}

func (d *Dashboard) RejectOrder(ctx context.Context, txnID string, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		_, err := d.ledger.RejectOrder(ctx, actor.ID, txnID)
		return err
	})
}

func (d *Dashboard) CompleteOrder(ctx context.Context, txnID string, q ViewQuery) (*View, error) {
	return d.mutate(ctx, q, func(actor domain.Actor) error {
		_, err := d.ledger.CompleteOrder(ctx, actor.ID, txnID)
		return err
	})
}

// RequestOrder places an order as the current actor. The result belongs to
// the buyer, so no farmer view is rebuilt.
func (d *Dashboard) RequestOrder(ctx context.Context, listingID string, quantity int, instructions string) (*domain.Transaction, error) {
	actor, err := d.requireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	return d.ledger.RequestOrder(ctx, actor.ID, listingID, quantity, instructions)
}

// QuickAddSample creates a canned listing of the given kind.
func (d *Dashboard) QuickAddSample(ctx context.Context, kind domain.ListingKind, q ViewQuery) (*View, error) {
	sample, ok := sampleListing(kind)
	if !ok {
		return nil, domain.Validationf("no sample for listing kind %q", kind)
	}
	return d.CreateListing(ctx, sample, q)
}

func sampleListing(kind domain.ListingKind) (NewListing, bool) {
	switch kind {
	case domain.ListingKindCrop:
		return NewListing{
			Kind:         domain.ListingKindCrop,
			Title:        "Sample Maize - 25kg bag",
			Description:  "Sample crop listing",
			Category:     "grains",
			Unit:         "bag",
			AvailableQty: 50,
			PricePerUnit: decimal.RequireFromString("12.50"),
		}, true
	case domain.ListingKindLivestock:
		return NewListing{
			Kind:         domain.ListingKindLivestock,
			Title:        "Sample Cow",
			Description:  "Sample livestock listing",
			Category:     "livestock",
			Unit:         "head",
			AvailableQty: 5,
			PricePerUnit: decimal.NewFromInt(250),
		}, true
	}
	return NewListing{}, false
}

func (d *Dashboard) mutate(ctx context.Context, q ViewQuery, apply func(domain.Actor) error) (*View, error) {
	actor, err := d.requireAuthenticated(ctx)
	if err != nil {
		return nil, err
	}
	if err := apply(actor); err != nil {
		return nil, err
	}
	return d.view(ctx, actor, q)
}

// FilterListings applies one filter in priority order: available, then low
// stock, then a title search. A blank search keeps everything.
func FilterListings(listings []domain.Listing, filter Filter, search string, lowThreshold int) []domain.Listing {
	switch {
	case filter == FilterAvailable:
		out := make([]domain.Listing, 0, len(listings))
		for _, l := range listings {
			if l.EffectiveStatus() == domain.ListingStatusAvailable {
				out = append(out, l)
			}
		}
		return out
	case filter == FilterLow:
		return LowStock(listings, lowThreshold)
	case strings.TrimSpace(search) != "":
		needle := strings.ToLower(search)
		out := make([]domain.Listing, 0, len(listings))
		for _, l := range listings {
			if strings.Contains(strings.ToLower(l.Title), needle) {
				out = append(out, l)
			}
		}
		return out
	}
	return listings
}

var userMessages = map[domain.ErrorCode]string{
	domain.CodeNotFound:           "That item no longer exists.",
	domain.CodeValidation:         "Please check the details and try again.",
	domain.CodeInvalidTransition:  "This order has already been handled.",
	domain.CodeInsufficientStock:  "Insufficient stock to confirm this order.",
	domain.CodePermissionDenied:   "You can only manage your own listings and orders.",
	domain.CodeConflict:           "This listing still has open orders.",
	domain.CodeBusy:               "Another update is in progress. Please retry.",
	domain.CodeUnauthenticated:    "Please sign in to continue.",
	domain.CodeInvariantViolation: "The request could not be applied.",
}

// UserMessage turns a failed intent into text fit for the dashboard.
// Validation messages are already user-facing and pass through.
func UserMessage(err error) string {
	code := domain.CodeOf(err)
	var de *domain.Error
	if code == domain.CodeValidation && errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}
