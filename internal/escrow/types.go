package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a transfer. Transitions are one-way:
// Pending may advance to Claimed or Refunded, both terminal. Records are
// never deleted, only status-advanced.
type Status uint8

const (
	StatusPending Status = iota
	StatusClaimed
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Transfer is the escrow record as stored on-chain.
type Transfer struct {
	ID            common.Hash
	Sender        common.Address
	FundingWallet common.Address
	Token         common.Address
	Amount        *big.Int // atomic units, fits uint96
	RecipientHash common.Hash
	Expiry        uint64 // unix seconds, fits uint40
	Status        Status
}

// CreateRequest carries validated, atomic-unit creation parameters into a
// backend. Amount and Expiry ranges are checked again at the backend edge;
// the contract re-enforces them a third time.
type CreateRequest struct {
	RecipientEmail string
	Sender         common.Address
	FundingWallet  common.Address
	Token          common.Address
	Amount         *big.Int
	Expiry         uint64
}

// CreateResult identifies a freshly submitted transfer. Amount is the
// submitted value in atomic units. TxHash is an operation reference, not a
// settled receipt; callers poll if they need finality.
type CreateResult struct {
	TransferID    string
	RecipientHash string
	Amount        string
	Expiry        uint64
	TxHash        string
}

// OpResult is returned by claim and refund submissions.
type OpResult struct {
	TransferID string
	TxHash     string
}

// Backend executes escrow lifecycle operations against a chain or a local
// stand-in. Implementations never retry mutating calls; a duplicate
// submission would double-spend the caller's intent.
type Backend interface {
	CreateTransfer(ctx context.Context, req CreateRequest) (CreateResult, error)
	ClaimTransfer(ctx context.Context, transferID string, recipient common.Address, recipientEmail string) (OpResult, error)
	RefundTransfer(ctx context.Context, transferID string, refundAddress common.Address) (OpResult, error)
	LoadTransfer(ctx context.Context, transferID string) (*Transfer, error)
}

// HealthChecker is optionally implemented by backends with a live RPC
// connection.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StateReader is optionally implemented by backends that can read contract
// state beyond individual transfers.
type StateReader interface {
	Paused(ctx context.Context) (bool, error)
	LockedBalance(ctx context.Context, token common.Address) (*big.Int, error)
}
