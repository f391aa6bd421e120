package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/adapter/lock"
	"github.com/rl1809/farm-fulfillment/internal/adapter/storage"
	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/core/service"
)

const (
	farmerID      = "farmer-stress"
	initialStock  = 20
	totalRequests = 50
	// every request is confirmed this many times at once
	duplicates = 2
)

func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	ledger := service.NewLedger(store, lock.NewLocalLocker(), zap.NewNop(), service.WithLockWait(10*time.Second))

	listing, err := ledger.CreateListing(ctx, farmerID, service.NewListing{
		Kind:         domain.ListingKindCrop,
		Title:        "Stress Maize",
		Unit:         "bag",
		AvailableQty: initialStock,
		PricePerUnit: decimal.NewFromInt(10),
	})
	if err != nil {
		log.Fatalf("failed to create listing: %v", err)
	}

	txnIDs := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		txn, err := ledger.RequestOrder(ctx, fmt.Sprintf("buyer-%d", i), listing.ID, 1, "")
		if err != nil {
			log.Fatalf("failed to request order: %v", err)
		}
		txnIDs = append(txnIDs, txn.ID)
	}

	// Counters
	var successCount, insufficientCount, duplicateCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range txnIDs {
		for d := 0; d < duplicates; d++ {
			wg.Add(1)
			go func(txnID string) {
				defer wg.Done()

				_, _, err := ledger.ConfirmOrder(ctx, farmerID, txnID)
				switch {
				case err == nil:
					successCount.Add(1)
				case errors.Is(err, domain.ErrInsufficientStock):
					insufficientCount.Add(1)
				case errors.Is(err, domain.ErrInvalidTransition):
					duplicateCount.Add(1)
				default:
					otherCount.Add(1)
				}
			}(id)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	insufficient := insufficientCount.Load()
	duplicate := duplicateCount.Load()
	other := otherCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Order Requests:   %d (x%d confirmations)\n", totalRequests, duplicates)
	fmt.Printf("Confirmed:        %d\n", success)
	fmt.Printf("Out of stock:     %d\n", insufficient)
	fmt.Printf("Already handled:  %d\n", duplicate)
	fmt.Printf("Other errors:     %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// a confirmed request's twin sees InvalidTransition, a refused request
	// is refused twice
	wantInsufficient := int32((totalRequests - initialStock) * duplicates)
	if success == initialStock && duplicate == initialStock && insufficient == wantInsufficient && other == 0 {
		fmt.Printf("PASS: Exactly %d orders confirmed once, %d refused\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d/%d/%d confirmed/duplicate/out-of-stock, got %d/%d/%d (other %d)\n",
			initialStock, initialStock, wantInsufficient, success, duplicate, insufficient, other)
	}

	final, err := store.GetListing(ctx, listing.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to reload listing: %v", err)
	}
	fmt.Printf("Final Stock:      %d (%s)\n", final.AvailableQty, final.Status)

	if final.AvailableQty == 0 && final.Status == domain.ListingStatusSoldOut {
		fmt.Println("PASS: Stock depleted to 0 and listing sold out")
	} else {
		fmt.Printf("FAIL: Expected stock 0/sold_out, got %d/%s\n", final.AvailableQty, final.Status)
	}
}
