package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
	"github.com/rl1809/farm-fulfillment/internal/port"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite3"
)

const (
	listingColumns = `id, owner_id, kind, title, description, category, unit, images,
		available_qty, price_per_unit, status, version, created_at, updated_at`
	transactionColumns = `id, listing_id, buyer_id, farmer_id, unit_price, quantity, total_amount,
		status, buyer_instructions, created_at, confirmed_at, completed_at, updated_at`
)

// SQLStore keeps listings and transactions in two tables of one database so
// a confirmation commits both rows in a single transaction.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ port.Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func NewMySQLStore(db *sql.DB) *SQLStore {
	return NewSQLStore(db, DialectMySQL)
}

func NewSQLiteStore(db *sql.DB) *SQLStore {
	return NewSQLStore(db, DialectSQLite)
}

func (m *SQLStore) Migrate(ctx context.Context) error {
	decimalType, textType, timeType := "DECIMAL(18,4)", "TEXT", "DATETIME(6)"
	if m.dialect == DialectSQLite {
		// TEXT keeps decimals exact; NUMERIC affinity would coerce to REAL
		decimalType, timeType = "TEXT", "DATETIME"
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS listings (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			title VARCHAR(255) NOT NULL,
			description %[2]s,
			category VARCHAR(64) NOT NULL DEFAULT '',
			unit VARCHAR(32) NOT NULL DEFAULT '',
			images %[2]s,
			available_qty INT NOT NULL,
			price_per_unit %[1]s NOT NULL,
			status VARCHAR(16) NOT NULL,
			version INT NOT NULL DEFAULT 0,
			created_at %[3]s NOT NULL,
			updated_at %[3]s NOT NULL
		)`, decimalType, textType, timeType),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(64) PRIMARY KEY,
			listing_id VARCHAR(64) NOT NULL,
			buyer_id VARCHAR(64) NOT NULL,
			farmer_id VARCHAR(64) NOT NULL,
			unit_price %[1]s NOT NULL,
			quantity INT NOT NULL,
			total_amount %[1]s NOT NULL,
			status VARCHAR(16) NOT NULL,
			buyer_instructions %[2]s,
			created_at %[3]s NOT NULL,
			confirmed_at %[3]s NULL,
			completed_at %[3]s NULL,
			updated_at %[3]s NOT NULL
		)`, decimalType, textType, timeType),
		`CREATE INDEX idx_listings_owner ON listings (owner_id)`,
		`CREATE INDEX idx_transactions_farmer ON transactions (farmer_id, created_at)`,
		`CREATE INDEX idx_transactions_listing ON transactions (listing_id, status)`,
	}
	if m.dialect == DialectSQLite {
		for i, stmt := range stmts {
			stmts[i] = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
	}

	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			if m.dialect == DialectMySQL && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *SQLStore) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := scanListing(m.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query listing: %w", err)
	}
	return &l, nil
}

func (m *SQLStore) ListListings(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	return m.listListings(ctx, m.db, ownerID)
}

func (m *SQLStore) CreateListing(ctx context.Context, l domain.Listing) (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	images, err := encodeImages(l.Images)
	if err != nil {
		return "", err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OwnerID, string(l.Kind), l.Title, l.Description, l.Category, l.Unit, images,
		l.AvailableQty, l.PricePerUnit, string(l.EffectiveStatus()), l.Version, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return l.ID, nil
}

func (m *SQLStore) UpdateListing(ctx context.Context, l domain.Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	images, err := encodeImages(l.Images)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	prev, err := scanListing(tx.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ?`+m.forUpdate(), l.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("listing %s not found", l.ID)
	}
	if err != nil {
		return fmt.Errorf("query listing: %w", err)
	}
	if err := domain.ValidateListingUpdate(prev, l); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET kind = ?, title = ?, description = ?, category = ?, unit = ?, images = ?,
			available_qty = ?, price_per_unit = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(l.Kind), l.Title, l.Description, l.Category, l.Unit, images,
		l.AvailableQty, l.PricePerUnit, string(l.EffectiveStatus()), l.UpdatedAt,
		l.ID, l.Version,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing rows affected: %w", err)
	}
	if rows == 0 {
		return staleVersion(l.ID)
	}
	return tx.Commit()
}

func (m *SQLStore) DeleteListing(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete listing rows affected: %w", err)
	}
	if rows == 0 {
		return domain.NotFoundf("listing %s not found", id)
	}
	return nil
}

func (m *SQLStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(m.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &t, nil
}

func (m *SQLStore) ListTransactionsByFarmer(ctx context.Context, farmerID string) ([]domain.Transaction, error) {
	return m.listTransactions(ctx, m.db, farmerID)
}

func (m *SQLStore) CreateTransaction(ctx context.Context, t domain.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ListingID, t.BuyerID, t.FarmerID, t.UnitPrice, t.Quantity, t.TotalAmount,
		string(t.Status), t.BuyerInstructions, t.CreatedAt, nullTime(t.ConfirmedAt), nullTime(t.CompletedAt), t.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return t.ID, nil
}

func (m *SQLStore) UpdateTransaction(ctx context.Context, t domain.Transaction) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	prev, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`+m.forUpdate(), t.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("transaction %s not found", t.ID)
	}
	if err != nil {
		return fmt.Errorf("query transaction: %w", err)
	}
	if err := domain.ValidateTransactionUpdate(prev, t); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET buyer_id = ?, farmer_id = ?, unit_price = ?, status = ?, buyer_instructions = ?,
			confirmed_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.BuyerID, t.FarmerID, t.UnitPrice, string(t.Status), t.BuyerInstructions,
		nullTime(t.ConfirmedAt), nullTime(t.CompletedAt), t.UpdatedAt,
		t.ID, string(prev.Status),
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %w", ErrOptimisticLock, domain.Busyf("transaction %s was modified concurrently", t.ID))
	}
	return tx.Commit()
}

func (m *SQLStore) CountOpenTransactions(ctx context.Context, listingID string) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE listing_id = ? AND status IN (?, ?)`,
		listingID, string(domain.TransactionStatusRequested), string(domain.TransactionStatusConfirmed),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open transactions: %w", err)
	}
	return n, nil
}

func (m *SQLStore) ApplyConfirmation(ctx context.Context, l domain.Listing, t domain.Transaction) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transient("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE listings
		SET available_qty = available_qty - ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND available_qty >= ?`,
		t.Quantity, string(l.EffectiveStatus()), l.UpdatedAt,
		l.ID, l.Version, t.Quantity,
	)
	if err != nil {
		return domain.Transient("update listing", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Transient("update listing rows affected", err)
	}
	if rows == 0 {
		return m.missingOrStale(ctx, tx, l.ID)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND listing_id = ? AND quantity = ?`,
		string(domain.TransactionStatusConfirmed), nullTime(t.ConfirmedAt), t.UpdatedAt,
		t.ID, string(domain.TransactionStatusRequested), l.ID, t.Quantity,
	)
	if err != nil {
		return domain.Transient("update transaction", err)
	}

	rows, err = result.RowsAffected()
	if err != nil {
		return domain.Transient("update transaction rows affected", err)
	}
	if rows == 0 {
		return domain.InvalidTransitionf("transaction %s is no longer requested", t.ID)
	}

	if err := tx.Commit(); err != nil {
		return domain.Transient("commit confirmation", err)
	}
	return nil
}

func (m *SQLStore) Snapshot(ctx context.Context, ownerID string) ([]domain.Listing, []domain.Transaction, error) {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	if m.dialect == DialectSQLite {
		opts = nil
	}
	tx, err := m.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	listings, err := m.listListings(ctx, tx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	txns, err := m.listTransactions(ctx, tx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return listings, txns, tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (m *SQLStore) listListings(ctx context.Context, q queryer, ownerID string) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	listings := make([]domain.Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (m *SQLStore) listTransactions(ctx context.Context, q queryer, farmerID string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	var args []any
	if farmerID != "" {
		query += ` WHERE farmer_id = ?`
		args = append(args, farmerID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// sorted in Go so both dialects agree on sub-second ties
	SortTransactionsNewestFirst(txns)
	return txns, nil
}

func (m *SQLStore) missingOrStale(ctx context.Context, q queryer, id string) error {
	var qty int
	err := q.QueryRowContext(ctx, `SELECT available_qty FROM listings WHERE id = ?`, id).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("listing %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("query listing: %w", err)
	}
	return staleVersion(id)
}

func (m *SQLStore) forUpdate() string {
	if m.dialect == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (domain.Listing, error) {
	var (
		l           domain.Listing
		description sql.NullString
		images      sql.NullString
	)
	err := row.Scan(&l.ID, &l.OwnerID, &l.Kind, &l.Title, &description, &l.Category, &l.Unit, &images,
		&l.AvailableQty, &l.PricePerUnit, &l.Status, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return domain.Listing{}, err
	}
	l.Description = description.String
	if images.Valid && images.String != "" {
		if err := json.Unmarshal([]byte(images.String), &l.Images); err != nil {
			return domain.Listing{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return l, nil
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		t            domain.Transaction
		instructions sql.NullString
		confirmedAt  sql.NullTime
		completedAt  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.FarmerID, &t.UnitPrice, &t.Quantity, &t.TotalAmount,
		&t.Status, &instructions, &t.CreatedAt, &confirmedAt, &completedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.BuyerInstructions = instructions.String
	if confirmedAt.Valid {
		at := confirmedAt.Time
		t.ConfirmedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return t, nil
}

func encodeImages(images []string) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode images: %w", err)
	}
	return string(raw), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isDuplicateIndex(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1061
}
