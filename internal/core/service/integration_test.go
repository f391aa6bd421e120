package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/adapter/lock"
	"github.com/rl1809/farm-fulfillment/internal/adapter/storage"
	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

type testEnv struct {
	redis   *redis.Client
	mysql   *sql.DB
	store   *storage.SQLStore
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/farmfulfillment?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	store := storage.NewMySQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return &testEnv{
		redis: rdb,
		mysql: db,
		store: store,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

// node builds a ledger as a separate server process would: its own locker
// instance over the shared Redis and the shared database.
func (env *testEnv) node() *Ledger {
	return NewLedger(env.store, lock.NewRedisLocker(env.redis, 10*time.Second, zap.NewNop()), zap.NewNop(),
		WithLockWait(10*time.Second))
}

func (env *testEnv) purge(ctx context.Context, listingID string) {
	env.mysql.ExecContext(ctx, `DELETE FROM transactions WHERE listing_id = ?`, listingID)
	env.mysql.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, listingID)
}

func TestIntegration_ConfirmAcrossNodes(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	nodes := []*Ledger{env.node(), env.node(), env.node()}
	initialStock := 10

	listing, err := nodes[0].CreateListing(ctx, farmerID, NewListing{
		Kind:         domain.ListingKindCrop,
		Title:        "Integration Beans",
		AvailableQty: initialStock,
		PricePerUnit: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	defer env.purge(ctx, listing.ID)

	totalRequests := 20
	txnIDs := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		txn, err := nodes[i%len(nodes)].RequestOrder(ctx, fmt.Sprintf("buyer-%d", i), listing.ID, 1, "")
		if err != nil {
			t.Fatalf("request order: %v", err)
		}
		txnIDs = append(txnIDs, txn.ID)
	}

	var successCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	for i, id := range txnIDs {
		wg.Add(1)
		go func(node *Ledger, txnID string) {
			defer wg.Done()
			_, _, err := node.ConfirmOrder(ctx, farmerID, txnID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
			default:
				otherCount.Add(1)
			}
		}(nodes[i%len(nodes)], id)
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d confirmations, got %d", initialStock, successCount.Load())
	}
	if otherCount.Load() != 0 {
		t.Errorf("expected no unexpected errors, got %d", otherCount.Load())
	}

	var stock int
	var status string
	env.mysql.QueryRowContext(ctx, `SELECT available_qty, status FROM listings WHERE id = ?`, listing.ID).Scan(&stock, &status)
	if stock != 0 || status != string(domain.ListingStatusSoldOut) {
		t.Errorf("expected stock 0/sold_out, got %d/%s", stock, status)
	}

	var confirmed int
	env.mysql.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE listing_id = ? AND status = 'confirmed'`, listing.ID).Scan(&confirmed)
	if confirmed != initialStock {
		t.Errorf("expected %d confirmed rows, got %d", initialStock, confirmed)
	}
}

func TestIntegration_RefusedConfirmationLeavesRows(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	ledger := env.node()

	listing, err := ledger.CreateListing(ctx, farmerID, NewListing{
		Kind:         domain.ListingKindLivestock,
		Title:        "Integration Goat",
		AvailableQty: 2,
		PricePerUnit: decimal.NewFromInt(80),
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	defer env.purge(ctx, listing.ID)

	txn, err := ledger.RequestOrder(ctx, buyerID, listing.ID, 3, "")
	if err != nil {
		t.Fatalf("request order: %v", err)
	}

	_, _, err = ledger.ConfirmOrder(ctx, farmerID, txn.ID)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	stored, err := env.store.GetListing(ctx, listing.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload listing: %v", err)
	}
	if stored.AvailableQty != 2 || stored.Version != listing.Version {
		t.Errorf("expected untouched listing, got qty %d version %d", stored.AvailableQty, stored.Version)
	}

	storedTxn, err := env.store.GetTransaction(ctx, txn.ID)
	if err != nil || storedTxn == nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if storedTxn.Status != domain.TransactionStatusRequested {
		t.Errorf("expected requested, got %s", storedTxn.Status)
	}
}

func TestIntegration_DuplicateConfirmDecrementsOnce(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	a, b := env.node(), env.node()

	listing, err := a.CreateListing(ctx, farmerID, NewListing{
		Kind:         domain.ListingKindCrop,
		Title:        "Integration Rice",
		AvailableQty: 10,
		PricePerUnit: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	defer env.purge(ctx, listing.ID)

	txn, err := a.RequestOrder(ctx, buyerID, listing.ID, 4, "")
	if err != nil {
		t.Fatalf("request order: %v", err)
	}

	var wg sync.WaitGroup
	var successCount atomic.Int32
	for _, node := range []*Ledger{a, b, a, b} {
		wg.Add(1)
		go func(node *Ledger) {
			defer wg.Done()
			if _, _, err := node.ConfirmOrder(ctx, farmerID, txn.ID); err == nil {
				successCount.Add(1)
			}
		}(node)
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly one confirmation, got %d", successCount.Load())
	}
	stored, _ := env.store.GetListing(ctx, listing.ID)
	if stored == nil || stored.AvailableQty != 6 {
		t.Errorf("expected stock 6, got %+v", stored)
	}
}
