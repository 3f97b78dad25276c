package mirror

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is the off-chain mirror of an escrow transfer. The chain is the
// source of truth; the mirror exists for listing, the refund sweeper, and
// read fallback in mock mode.
type Record struct {
	TransferID    string
	Sender        string
	Token         string
	Amount        string // atomic units, decimal string
	RecipientHash string
	Expiry        time.Time
	Status        string // pending | claimed | refunded
	CreateTxHash  string
	SettleTxHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	StatusPending  = "pending"
	StatusClaimed  = "claimed"
	StatusRefunded = "refunded"
)

// Store abstracts mirror persistence.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, transferID string) (*Record, error)
	// Advance moves a transfer to a terminal status and records the
	// settlement tx. Advancing an unknown id is a no-op, not an error:
	// claims may land for transfers created by another instance.
	Advance(ctx context.Context, transferID, status, txHash string) error
	// ListExpiredPending returns pending transfers whose expiry passed
	// before now, oldest expiry first, capped at limit.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Record, error)
}

// MemoryStore is for tests and mock-mode runs without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (m *MemoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()
	m.data[rec.TransferID] = rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, transferID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[transferID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Advance(_ context.Context, transferID, status, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[transferID]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.SettleTxHash = txHash
	rec.UpdatedAt = time.Now().UTC()
	m.data[transferID] = rec
	return nil
}

func (m *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.data {
		if rec.Status == StatusPending && rec.Expiry.Before(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expiry.Before(out[j].Expiry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
