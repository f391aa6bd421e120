package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

func aggListing(id string, qty int) domain.Listing {
	return domain.Listing{ID: id, OwnerID: farmerID, Kind: domain.ListingKindCrop, Title: id, AvailableQty: qty}
}

func aggTxn(id, amount string, status domain.TransactionStatus) domain.Transaction {
	return domain.Transaction{ID: id, TotalAmount: decimal.RequireFromString(amount), Status: status}
}

func TestSummarize(t *testing.T) {
	listings := []domain.Listing{
		aggListing("a", 10),
		aggListing("b", 5),
		aggListing("c", 0),
		aggListing("d", -3),
	}
	txns := []domain.Transaction{
		aggTxn("t1", "30", domain.TransactionStatusRequested),
		aggTxn("t2", "12.5", domain.TransactionStatusConfirmed),
		aggTxn("t3", "7.25", domain.TransactionStatusRejected),
		aggTxn("t4", "100", domain.TransactionStatusCompleted),
	}

	tests := []struct {
		name    string
		opts    SummaryOptions
		revenue string
		low     int
	}{
		{name: "defaults count every status", opts: DefaultSummaryOptions(), revenue: "149.75", low: 3},
		{name: "fulfilled only", opts: SummaryOptions{LowStockThreshold: 5, RevenuePolicy: RevenueFulfilledOnly}, revenue: "112.5", low: 3},
		{name: "lower threshold", opts: SummaryOptions{LowStockThreshold: 0, RevenuePolicy: RevenueAllStatuses}, revenue: "149.75", low: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(listings, txns, tt.opts)
			assert.Equal(t, 4, s.TotalListings)
			assert.Equal(t, 15, s.TotalAvailableQty, "negative quantities count as zero")
			assert.True(t, decimal.RequireFromString(tt.revenue).Equal(s.TotalRevenue), "revenue %s", s.TotalRevenue)
			assert.Equal(t, tt.low, s.LowStockCount)
		})
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, nil, DefaultSummaryOptions())
	assert.Zero(t, s.TotalListings)
	assert.Zero(t, s.TotalAvailableQty)
	assert.True(t, s.TotalRevenue.IsZero())
	assert.Zero(t, s.LowStockCount)
}

func TestLowStock_KeepsOrder(t *testing.T) {
	got := LowStock([]domain.Listing{aggListing("x", 1), aggListing("y", 9), aggListing("z", 5)}, 5)
	assert.Equal(t, []string{"x", "z"}, listingIDs(got))
	assert.NotNil(t, LowStock(nil, 5))
}

func TestParseRevenuePolicy(t *testing.T) {
	p, err := ParseRevenuePolicy("")
	assert.NoError(t, err)
	assert.Equal(t, RevenueAllStatuses, p)

	p, err = ParseRevenuePolicy("fulfilled")
	assert.NoError(t, err)
	assert.Equal(t, RevenueFulfilledOnly, p)

	_, err = ParseRevenuePolicy("paid")
	assert.Error(t, err)
}

func listingIDs(listings []domain.Listing) []string {
	ids := make([]string, 0, len(listings))
	for _, l := range listings {
		ids = append(ids, l.ID)
	}
	return ids
}
