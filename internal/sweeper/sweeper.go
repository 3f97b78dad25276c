package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailrails/internal/escrow"
	"mailrails/internal/mirror"
)

// EscrowService is the slice of the façade the sweeper needs.
type EscrowService interface {
	RefundOnchainTransfer(ctx context.Context, transferID, refundAddress string) (escrow.OpResult, error)
	IsMockMode() bool
}

// Sweeper periodically refunds expired pending transfers back to the
// treasury. It replaces the hosted cron of the original deployment. Each
// refund failure is isolated: one stuck transfer never blocks the rest of
// the batch, and the transfer is retried on the next tick because its
// mirror status stays pending.
type Sweeper struct {
	svc       EscrowService
	store     mirror.Store
	treasury  string
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	// OnResult, when set, feeds the refund outcome ("refunded" or
	// "failed") into metrics.
	OnResult func(result string)
}

func New(svc EscrowService, store mirror.Store, treasury string, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		svc:       svc,
		store:     store,
		treasury:  treasury,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Run loops until the context is cancelled. Mock mode has no real funds to
// recover, so the sweeper idles.
func (s *Sweeper) Run(ctx context.Context) {
	if s.svc.IsMockMode() {
		s.logger.Info("sweeper disabled in mock mode")
		return
	}

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			refunded, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if refunded > 0 {
				s.logger.Info("sweep complete", zap.Int("refunded", refunded))
			}
		}
	}
}

// Sweep runs one pass and returns how many refunds were submitted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredPending(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}

	refunded := 0
	for _, rec := range expired {
		res, err := s.svc.RefundOnchainTransfer(ctx, rec.TransferID, s.treasury)
		if err != nil {
			s.logger.Warn("refund failed",
				zap.String("transfer_id", rec.TransferID),
				zap.Error(err))
			s.report("failed")
			continue
		}
		if err := s.store.Advance(ctx, rec.TransferID, mirror.StatusRefunded, res.TxHash); err != nil {
			s.logger.Warn("mirror advance failed",
				zap.String("transfer_id", rec.TransferID),
				zap.Error(err))
		}
		s.report("refunded")
		refunded++
	}
	return refunded, nil
}

func (s *Sweeper) report(result string) {
	if s.OnResult != nil {
		s.OnResult(result)
	}
}
