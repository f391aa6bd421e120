package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

const (
	listingsFile     = "listings.json"
	transactionsFile = "transactions.json"
)

// JSONFilePersister stores each collection as one JSON document in dir.
// Saves go to a temp file first and are renamed into place.
type JSONFilePersister struct {
	dir string
	mu  sync.Mutex
}

func NewJSONFilePersister(dir string) (*JSONFilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONFilePersister{dir: dir}, nil
}

func (p *JSONFilePersister) LoadListings(ctx context.Context) ([]domain.Listing, error) {
	var listings []domain.Listing
	if err := p.load(listingsFile, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (p *JSONFilePersister) SaveListings(ctx context.Context, listings []domain.Listing) error {
	return p.save(ctx, listingsFile, listings)
}

func (p *JSONFilePersister) LoadTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	if err := p.load(transactionsFile, &txns); err != nil {
		return nil, err
	}
	return txns, nil
}

func (p *JSONFilePersister) SaveTransactions(ctx context.Context, txns []domain.Transaction) error {
	return p.save(ctx, transactionsFile, txns)
}

func (p *JSONFilePersister) load(name string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(p.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (p *JSONFilePersister) save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tmp, err := os.CreateTemp(p.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(p.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
