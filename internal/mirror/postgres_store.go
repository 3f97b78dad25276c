package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the transfer mirror in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS transfer_mirror (
    transfer_id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    token TEXT NOT NULL,
    amount NUMERIC(29,0) NOT NULL,
    recipient_hash TEXT NOT NULL,
    expiry TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL,
    create_tx_hash TEXT NOT NULL DEFAULT '',
    settle_tx_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transfer_mirror_expired_pending
    ON transfer_mirror (expiry) WHERE status = 'pending';
`

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO transfer_mirror
    (transfer_id, sender, token, amount, recipient_hash, expiry, status,
     create_tx_hash, settle_tx_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (transfer_id) DO UPDATE
SET status = EXCLUDED.status,
    settle_tx_hash = EXCLUDED.settle_tx_hash,
    updated_at = EXCLUDED.updated_at
`, rec.TransferID, rec.Sender, rec.Token, rec.Amount, rec.RecipientHash,
		rec.Expiry.UTC(), rec.Status, rec.CreateTxHash, rec.SettleTxHash, rec.CreatedAt, now)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, transferID string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT transfer_id, sender, token, amount::TEXT, recipient_hash, expiry, status,
       create_tx_hash, settle_tx_hash, created_at, updated_at
FROM transfer_mirror
WHERE transfer_id = $1
`, transferID)

	var rec Record
	err := row.Scan(&rec.TransferID, &rec.Sender, &rec.Token, &rec.Amount,
		&rec.RecipientHash, &rec.Expiry, &rec.Status,
		&rec.CreateTxHash, &rec.SettleTxHash, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Advance(ctx context.Context, transferID, status, txHash string) error {
	_, err := p.pool.Exec(ctx, `
UPDATE transfer_mirror
SET status = $2, settle_tx_hash = $3, updated_at = $4
WHERE transfer_id = $1
`, transferID, status, txHash, time.Now().UTC())
	return err
}

func (p *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT transfer_id, sender, token, amount::TEXT, recipient_hash, expiry, status,
       create_tx_hash, settle_tx_hash, created_at, updated_at
FROM transfer_mirror
WHERE status = 'pending' AND expiry < $1
ORDER BY expiry ASC
LIMIT $2
`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.TransferID, &rec.Sender, &rec.Token, &rec.Amount,
			&rec.RecipientHash, &rec.Expiry, &rec.Status,
			&rec.CreateTxHash, &rec.SettleTxHash, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
