package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"mailrails/internal/contracts"
	"mailrails/internal/escrowid"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/singleflight"
)

// Driver submits escrow lifecycle operations to the MailEscrow contract as
// operator-paid transactions: the operator account covers gas on behalf of
// end users, who authorize operations through the off-chain session layer.
type Driver struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	treasury common.Address
	deriver  escrowid.Deriver
	key      *ecdsa.PrivateKey
	operator common.Address

	// The signing identity needs a chain-id round trip, so it is resolved
	// on first use and memoized; concurrent first callers share a single
	// in-flight resolution.
	group  singleflight.Group
	mu     sync.RWMutex
	signer *bind.TransactOpts
}

type DriverConfig struct {
	RPCURL          string
	OperatorKeyHex  string
	ContractAddress string
	TreasuryWallet  string
	SaltVersion     string
}

// NewDriver validates configuration eagerly: a driver missing its RPC
// endpoint, contract, operator key or treasury wallet cannot operate and
// the process should fail at startup rather than on the first request.
func NewDriver(ctx context.Context, cfg DriverConfig) (*Driver, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("escrow contract address is required")
	}
	if !common.IsHexAddress(cfg.TreasuryWallet) {
		return nil, fmt.Errorf("treasury wallet is required")
	}
	if cfg.OperatorKeyHex == "" {
		return nil, fmt.Errorf("operator key is required for submitting transfers")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.MailEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &Driver{
		client:   cli,
		contract: bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:      parsedABI,
		address:  address,
		treasury: common.HexToAddress(cfg.TreasuryWallet),
		deriver:  escrowid.NewDeriver(cfg.SaltVersion),
		key:      key,
		operator: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Operator is the address paying gas for submitted operations.
func (d *Driver) Operator() common.Address {
	return d.operator
}

func (d *Driver) signerOpts(ctx context.Context) (*bind.TransactOpts, error) {
	d.mu.RLock()
	if s := d.signer; s != nil {
		d.mu.RUnlock()
		return s, nil
	}
	d.mu.RUnlock()

	v, err, _ := d.group.Do("signer", func() (interface{}, error) {
		chainID, err := d.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch chain id: %w", err)
		}
		opts, err := bind.NewKeyedTransactorWithChainID(d.key, chainID)
		if err != nil {
			return nil, fmt.Errorf("transactor: %w", err)
		}
		opts.GasLimit = 0 // let node estimate
		d.mu.Lock()
		d.signer = opts
		d.mu.Unlock()
		return opts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bind.TransactOpts), nil
}

// transferParams matches the createTransfer tuple in the MailEscrow ABI.
type transferParams struct {
	TransferId    [32]byte
	Sender        common.Address
	FundingWallet common.Address
	Token         common.Address
	Amount        *big.Int
	RecipientHash [32]byte
	Expiry        *big.Int
}

// CreateTransfer validates ranges before touching the network (the contract
// re-enforces them on-chain), derives the identifiers and submits the
// creation call.
func (d *Driver) CreateTransfer(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.RecipientEmail == "" {
		return CreateResult{}, ErrInvalidEmail
	}
	if err := validateRange(req.Amount, req.Expiry); err != nil {
		return CreateResult{}, err
	}

	recipientHash := d.deriver.RecipientHash(req.RecipientEmail)
	transferID := d.deriver.TransferID(recipientHash, req.Amount, req.Expiry)

	sender := req.Sender
	if sender == (common.Address{}) {
		sender = d.operator
	}
	funding := req.FundingWallet
	if funding == (common.Address{}) {
		funding = d.treasury
	}

	signer, err := d.signerOpts(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	opts := *signer
	opts.Context = ctx

	params := transferParams{
		TransferId:    transferID,
		Sender:        sender,
		FundingWallet: funding,
		Token:         req.Token,
		Amount:        req.Amount,
		RecipientHash: recipientHash,
		Expiry:        new(big.Int).SetUint64(req.Expiry),
	}

	tx, err := d.contract.Transact(&opts, "createTransfer", params, []byte{})
	if err != nil {
		return CreateResult{}, fmt.Errorf("create transfer tx: %w", err)
	}

	return CreateResult{
		TransferID:    transferID.Hex(),
		RecipientHash: recipientHash.Hex(),
		Expiry:        req.Expiry,
		TxHash:        tx.Hash().Hex(),
	}, nil
}

// ClaimTransfer recomputes the recipient commitment from the claimed email
// rather than trusting a caller-supplied hash.
func (d *Driver) ClaimTransfer(ctx context.Context, transferID string, recipient common.Address, recipientEmail string) (OpResult, error) {
	id, err := parseTransferID(transferID)
	if err != nil {
		return OpResult{}, err
	}
	if recipientEmail == "" {
		return OpResult{}, ErrInvalidEmail
	}
	recipientHash := d.deriver.RecipientHash(recipientEmail)

	signer, err := d.signerOpts(ctx)
	if err != nil {
		return OpResult{}, err
	}
	opts := *signer
	opts.Context = ctx

	tx, err := d.contract.Transact(&opts, "claimTransfer", id, recipient, recipientHash)
	if err != nil {
		return OpResult{}, fmt.Errorf("claim transfer tx: %w", err)
	}
	return OpResult{TransferID: transferID, TxHash: tx.Hash().Hex()}, nil
}

// RefundTransfer submits the refund without checking expiry locally; the
// contract rejects early refunds.
func (d *Driver) RefundTransfer(ctx context.Context, transferID string, refundAddress common.Address) (OpResult, error) {
	id, err := parseTransferID(transferID)
	if err != nil {
		return OpResult{}, err
	}

	signer, err := d.signerOpts(ctx)
	if err != nil {
		return OpResult{}, err
	}
	opts := *signer
	opts.Context = ctx

	tx, err := d.contract.Transact(&opts, "refundTransfer", id, refundAddress)
	if err != nil {
		return OpResult{}, fmt.Errorf("refund transfer tx: %w", err)
	}
	return OpResult{TransferID: transferID, TxHash: tx.Hash().Hex()}, nil
}

// onchainRecord matches the getTransfer return tuple.
type onchainRecord struct {
	Sender        common.Address
	Token         common.Address
	Amount        *big.Int
	RecipientHash [32]byte
	Expiry        *big.Int
	Status        uint8
}

// LoadTransfer reads the stored record. The zero-record sentinel surfaces as
// ErrTransferNotFound; transport failures surface as a wrapped read error so
// callers can tell the two apart.
func (d *Driver) LoadTransfer(ctx context.Context, transferID string) (*Transfer, error) {
	id, err := parseTransferID(transferID)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTransfer", id); err != nil {
		return nil, fmt.Errorf("read transfer: %w", err)
	}
	rec := *abi.ConvertType(out[0], new(onchainRecord)).(*onchainRecord)

	if rec.Sender == (common.Address{}) && rec.Amount.Sign() == 0 {
		return nil, ErrTransferNotFound
	}

	return &Transfer{
		ID:            id,
		Sender:        rec.Sender,
		Token:         rec.Token,
		Amount:        rec.Amount,
		RecipientHash: rec.RecipientHash,
		Expiry:        rec.Expiry.Uint64(),
		Status:        Status(rec.Status),
	}, nil
}

// Paused reads the contract's pause switch.
func (d *Driver) Paused(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "paused"); err != nil {
		return false, fmt.Errorf("read paused: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// LockedBalance reads the custody total held for a token across all pending
// transfers.
func (d *Driver) LockedBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	var out []interface{}
	if err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "lockedBalance", token); err != nil {
		return nil, fmt.Errorf("read locked balance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Ping checks RPC reachability for health reporting.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.BlockNumber(ctx)
	return err
}

// WaitForReceipt polls until the transaction is mined or the context ends.
// Create/claim/refund return before settlement; callers needing finality
// wrap the returned hash with this.
func WaitForReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseTransferID(id string) (common.Hash, error) {
	if err := checkTransferID(id); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(id), nil
}
