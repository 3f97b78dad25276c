package escrow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Supported chain families. Everything else fails fast before dispatch.
var supportedNetworks = map[string]bool{
	"base":         true,
	"base-sepolia": true,
}

type ServiceConfig struct {
	// MockMode forces the placeholder backend regardless of what is
	// injected. The mobile-client context never holds the operator key and
	// always runs mock; only the backend runs live.
	MockMode      bool
	Network       string
	DefaultToken  common.Address
	Treasury      common.Address
	DefaultExpiry time.Duration
	Now           func() time.Time
}

// Service is the single seam the rest of the application depends on. It is
// constructed explicitly and injected; the mode is fixed at construction.
// Live mode with a nil backend is a distinct unavailable condition on every
// call, never a silent downgrade to mock.
type Service struct {
	cfg     ServiceConfig
	backend Backend
	mock    bool
	now     func() time.Time
}

func NewService(cfg ServiceConfig, backend Backend) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = 24 * time.Hour
	}
	if cfg.MockMode {
		backend = MockBackend{}
	}
	return &Service{cfg: cfg, backend: backend, mock: cfg.MockMode, now: now}
}

func (s *Service) IsMockMode() bool {
	return s.mock
}

// CreateTransferInput is the external create contract: a human decimal
// amount plus the token's decimals, converted here to atomic units with
// arbitrary-precision arithmetic. Floats never touch amounts.
type CreateTransferInput struct {
	RecipientEmail string
	Amount         string
	Decimals       int
	TokenAddress   string
	Sender         string
	Expiry         uint64
}

func (s *Service) CreateOnchainTransfer(ctx context.Context, in CreateTransferInput) (CreateResult, error) {
	if err := s.dispatchable(); err != nil {
		return CreateResult{}, err
	}
	if in.RecipientEmail == "" {
		return CreateResult{}, ErrInvalidEmail
	}

	amount, err := parseAtomicAmount(in.Amount, in.Decimals)
	if err != nil {
		return CreateResult{}, err
	}

	token := s.cfg.DefaultToken
	if in.TokenAddress != "" {
		if !common.IsHexAddress(in.TokenAddress) {
			return CreateResult{}, fmt.Errorf("%w: token %q", ErrInvalidAddress, in.TokenAddress)
		}
		token = common.HexToAddress(in.TokenAddress)
	}

	var sender common.Address
	if in.Sender != "" {
		if !common.IsHexAddress(in.Sender) {
			return CreateResult{}, fmt.Errorf("%w: sender %q", ErrInvalidAddress, in.Sender)
		}
		sender = common.HexToAddress(in.Sender)
	}

	expiry := in.Expiry
	if expiry == 0 {
		expiry = uint64(s.now().Add(s.cfg.DefaultExpiry).Unix())
	}
	if err := validateRange(amount, expiry); err != nil {
		return CreateResult{}, err
	}

	res, err := s.backend.CreateTransfer(ctx, CreateRequest{
		RecipientEmail: in.RecipientEmail,
		Sender:         sender,
		FundingWallet:  s.cfg.Treasury,
		Token:          token,
		Amount:         amount,
		Expiry:         expiry,
	})
	if err != nil {
		return CreateResult{}, err
	}
	// The parsed atomic amount is authoritative; downstream consumers (the
	// mirror in particular) must never re-derive it from the request string.
	res.Amount = amount.String()
	return res, nil
}

func (s *Service) ClaimOnchainTransfer(ctx context.Context, transferID, recipientAddress, recipientEmail string) (OpResult, error) {
	if err := s.dispatchable(); err != nil {
		return OpResult{}, err
	}
	if !common.IsHexAddress(recipientAddress) {
		return OpResult{}, fmt.Errorf("%w: recipient %q", ErrInvalidAddress, recipientAddress)
	}
	return s.backend.ClaimTransfer(ctx, transferID, common.HexToAddress(recipientAddress), recipientEmail)
}

func (s *Service) RefundOnchainTransfer(ctx context.Context, transferID, refundAddress string) (OpResult, error) {
	if err := s.dispatchable(); err != nil {
		return OpResult{}, err
	}
	if !common.IsHexAddress(refundAddress) {
		return OpResult{}, fmt.Errorf("%w: refund address %q", ErrInvalidAddress, refundAddress)
	}
	return s.backend.RefundTransfer(ctx, transferID, common.HexToAddress(refundAddress))
}

// GetOnchainTransfer reads back a transfer. Not-found and read-failure are
// distinct outcomes: ErrTransferNotFound versus a wrapped transport error.
// Mock mode keeps no state and always reports not-found.
func (s *Service) GetOnchainTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	if err := s.dispatchable(); err != nil {
		return nil, err
	}
	return s.backend.LoadTransfer(ctx, transferID)
}

// EscrowState is a snapshot of the contract-wide switches: the pause flag
// and the custody total for the default token.
type EscrowState struct {
	Paused        bool
	LockedBalance *big.Int
}

// EscrowStatus reads contract-wide state. Backends without a live chain
// connection (mock included) report the zero state: not paused, nothing
// locked.
func (s *Service) EscrowStatus(ctx context.Context) (EscrowState, error) {
	if err := s.dispatchable(); err != nil {
		return EscrowState{}, err
	}
	reader, ok := s.backend.(StateReader)
	if !ok {
		return EscrowState{LockedBalance: new(big.Int)}, nil
	}
	paused, err := reader.Paused(ctx)
	if err != nil {
		return EscrowState{}, err
	}
	locked, err := reader.LockedBalance(ctx, s.cfg.DefaultToken)
	if err != nil {
		return EscrowState{}, err
	}
	return EscrowState{Paused: paused, LockedBalance: locked}, nil
}

// Ping reports RPC health when the active backend has a live connection.
func (s *Service) Ping(ctx context.Context) error {
	if hc, ok := s.backend.(HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (s *Service) dispatchable() error {
	if !supportedNetworks[s.cfg.Network] {
		return fmt.Errorf("%w: %q", ErrUnsupportedChain, s.cfg.Network)
	}
	if s.backend == nil {
		return ErrDriverUnavailable
	}
	return nil
}

// parseAtomicAmount shifts a decimal-string amount by the token's decimals
// and requires the result to be a positive integer in atomic units.
func parseAtomicAmount(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	atomic := shifted.BigInt()
	if atomic.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	return atomic, nil
}
