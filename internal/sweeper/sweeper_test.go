package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailrails/internal/escrow"
	"mailrails/internal/mirror"
)

type stubService struct {
	mock    bool
	refunds []string
	failFor map[string]error
}

func (s *stubService) RefundOnchainTransfer(_ context.Context, transferID, _ string) (escrow.OpResult, error) {
	if err, ok := s.failFor[transferID]; ok {
		return escrow.OpResult{}, err
	}
	s.refunds = append(s.refunds, transferID)
	return escrow.OpResult{TransferID: transferID, TxHash: "0xswept"}, nil
}

func (s *stubService) IsMockMode() bool { return s.mock }

func seedMirror(t *testing.T, store mirror.Store, now time.Time) {
	t.Helper()
	records := []mirror.Record{
		{TransferID: "0xexpired1", Amount: "1", Expiry: now.Add(-2 * time.Hour), Status: mirror.StatusPending},
		{TransferID: "0xexpired2", Amount: "1", Expiry: now.Add(-time.Hour), Status: mirror.StatusPending},
		{TransferID: "0xfresh", Amount: "1", Expiry: now.Add(time.Hour), Status: mirror.StatusPending},
		{TransferID: "0xclaimed", Amount: "1", Expiry: now.Add(-time.Hour), Status: mirror.StatusClaimed},
	}
	for _, rec := range records {
		if err := store.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestSweepRefundsOnlyExpiredPending(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	store := mirror.NewMemoryStore()
	seedMirror(t, store, now)

	svc := &stubService{}
	s := New(svc, store, "0x2000000000000000000000000000000000000002", time.Minute, 10, zap.NewNop())
	s.now = func() time.Time { return now }

	refunded, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if refunded != 2 {
		t.Fatalf("expected 2 refunds, got %d", refunded)
	}
	// Oldest expiry first.
	if svc.refunds[0] != "0xexpired1" || svc.refunds[1] != "0xexpired2" {
		t.Fatalf("unexpected refund order: %v", svc.refunds)
	}

	got, _ := store.Get(context.Background(), "0xexpired1")
	if got.Status != mirror.StatusRefunded || got.SettleTxHash != "0xswept" {
		t.Fatalf("mirror not advanced: %+v", got)
	}
	if fresh, _ := store.Get(context.Background(), "0xfresh"); fresh.Status != mirror.StatusPending {
		t.Fatal("unexpired transfer was touched")
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	store := mirror.NewMemoryStore()
	seedMirror(t, store, now)

	svc := &stubService{failFor: map[string]error{"0xexpired1": errors.New("revert")}}
	s := New(svc, store, "0x2000000000000000000000000000000000000002", time.Minute, 10, zap.NewNop())
	s.now = func() time.Time { return now }

	var results []string
	s.OnResult = func(result string) { results = append(results, result) }

	refunded, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if refunded != 1 {
		t.Fatalf("expected 1 refund, got %d", refunded)
	}
	if len(results) != 2 || results[0] != "failed" || results[1] != "refunded" {
		t.Fatalf("unexpected results: %v", results)
	}

	// Failed transfer stays pending for the next tick.
	got, _ := store.Get(context.Background(), "0xexpired1")
	if got.Status != mirror.StatusPending {
		t.Fatalf("failed refund must stay pending: %+v", got)
	}
}

func TestRunExitsImmediatelyInMockMode(t *testing.T) {
	svc := &stubService{mock: true}
	s := New(svc, mirror.NewMemoryStore(), "0x0", time.Millisecond, 10, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not exit in mock mode")
	}
}
