package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

const DefaultLowStockThreshold = 5

// RevenuePolicy selects which transactions count towards revenue.
type RevenuePolicy string

const (
	RevenueAllStatuses   RevenuePolicy = "all"
	RevenueFulfilledOnly RevenuePolicy = "fulfilled"
)

func ParseRevenuePolicy(s string) (RevenuePolicy, error) {
	switch p := RevenuePolicy(s); p {
	case "":
		return RevenueAllStatuses, nil
	case RevenueAllStatuses, RevenueFulfilledOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown revenue policy %q", s)
}

type SummaryOptions struct {
	LowStockThreshold int
	RevenuePolicy     RevenuePolicy
}

func DefaultSummaryOptions() SummaryOptions {
	return SummaryOptions{LowStockThreshold: DefaultLowStockThreshold, RevenuePolicy: RevenueAllStatuses}
}

type Summary struct {
	TotalListings     int             `json:"total_listings"`
	TotalAvailableQty int             `json:"total_available_qty"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	LowStockCount     int             `json:"low_stock_count"`
}

// Summarize is pure: same inputs, same figures.
func Summarize(listings []domain.Listing, txns []domain.Transaction, opts SummaryOptions) Summary {
	return Summary{
		TotalListings:     len(listings),
		TotalAvailableQty: TotalAvailableQty(listings),
		TotalRevenue:      TotalRevenue(txns, opts.RevenuePolicy),
		LowStockCount:     len(LowStock(listings, opts.LowStockThreshold)),
	}
}

// TotalAvailableQty counts negative quantities as zero.
func TotalAvailableQty(listings []domain.Listing) int {
	total := 0
	for _, l := range listings {
		if l.AvailableQty > 0 {
			total += l.AvailableQty
		}
	}
	return total
}

func TotalRevenue(txns []domain.Transaction, policy RevenuePolicy) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		if policy == RevenueFulfilledOnly && !t.Status.Fulfilled() {
			continue
		}
		total = total.Add(t.TotalAmount)
	}
	return total
}

// LowStock returns listings at or below threshold, in input order.
func LowStock(listings []domain.Listing, threshold int) []domain.Listing {
	out := make([]domain.Listing, 0)
	for _, l := range listings {
		if l.AvailableQty <= threshold {
			out = append(out, l)
		}
	}
	return out
}
