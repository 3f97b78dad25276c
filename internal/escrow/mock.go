package escrow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MockBackend mimics the escrow flow with placeholder identifiers for
// environments that cannot hold the operator key. Ids are well-formed
// 32-byte hex strings with fresh entropy per call, so repeated creations
// with identical input never collide. Local development only: nothing here
// is a security boundary, and no state is kept, so LoadTransfer always
// reports not-found.
type MockBackend struct{}

func (MockBackend) CreateTransfer(_ context.Context, req CreateRequest) (CreateResult, error) {
	if req.RecipientEmail == "" {
		return CreateResult{}, ErrInvalidEmail
	}
	if err := validateRange(req.Amount, req.Expiry); err != nil {
		return CreateResult{}, err
	}
	return CreateResult{
		TransferID:    placeholderID(),
		RecipientHash: placeholderID(),
		Expiry:        req.Expiry,
		TxHash:        placeholderID(),
	}, nil
}

func (MockBackend) ClaimTransfer(_ context.Context, transferID string, _ common.Address, recipientEmail string) (OpResult, error) {
	if err := checkTransferID(transferID); err != nil {
		return OpResult{}, err
	}
	if recipientEmail == "" {
		return OpResult{}, ErrInvalidEmail
	}
	return OpResult{TransferID: transferID, TxHash: placeholderID()}, nil
}

func (MockBackend) RefundTransfer(_ context.Context, transferID string, _ common.Address) (OpResult, error) {
	if err := checkTransferID(transferID); err != nil {
		return OpResult{}, err
	}
	return OpResult{TransferID: transferID, TxHash: placeholderID()}, nil
}

func (MockBackend) LoadTransfer(_ context.Context, transferID string) (*Transfer, error) {
	if err := checkTransferID(transferID); err != nil {
		return nil, err
	}
	return nil, ErrTransferNotFound
}

func placeholderID() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return "0x" + hex.EncodeToString(b[:])
}

// checkTransferID accepts 0x-prefixed 32-byte hex strings.
func checkTransferID(id string) error {
	if len(id) != 66 || id[:2] != "0x" {
		return fmt.Errorf("%w: %q", ErrInvalidTransferID, id)
	}
	if _, err := hex.DecodeString(id[2:]); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTransferID, id)
	}
	return nil
}
