package escrow

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind labels contract events.
type EventKind string

const (
	EventCreated  EventKind = "TransferCreated"
	EventClaimed  EventKind = "TransferClaimed"
	EventRefunded EventKind = "TransferRefunded"
)

// Event mirrors the log entries the deployed contract emits.
type Event struct {
	Kind          EventKind
	TransferID    common.Hash
	Sender        common.Address
	Recipient     common.Address
	RecipientHash common.Hash
	Token         common.Address
	Amount        *big.Int
	Expiry        uint64
}

// Contract is an in-memory implementation of the MailEscrow state machine,
// matching the deployed contract transition for transition: authority-gated
// mutations, a pause switch over all three of them, atomic precondition
// checks, and per-token locked-balance accounting. Lifecycle tests run
// against it instead of a chain.
type Contract struct {
	mu        sync.Mutex
	now       func() time.Time
	owner     common.Address
	custody   common.Address
	operators map[common.Address]bool
	paused    bool
	transfers map[common.Hash]*Transfer
	locked    map[common.Address]*big.Int
	balances  map[common.Address]map[common.Address]*big.Int
	events    []Event
}

// ContractAddress is the custody account the reference contract escrows
// funds under.
var ContractAddress = common.HexToAddress("0x00000000000000000000000000000000e5c20000")

func NewContract(owner common.Address) *Contract {
	return &Contract{
		now:       time.Now,
		owner:     owner,
		custody:   ContractAddress,
		operators: map[common.Address]bool{owner: true},
		transfers: make(map[common.Hash]*Transfer),
		locked:    make(map[common.Address]*big.Int),
		balances:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

// SetClock overrides the contract's notion of now. Tests use it to cross
// expiry boundaries without sleeping.
func (c *Contract) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Contract) AddOperator(caller, operator common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotAuthorized
	}
	c.operators[operator] = true
	return nil
}

func (c *Contract) Pause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotAuthorized
	}
	c.paused = true
	return nil
}

func (c *Contract) Unpause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotAuthorized
	}
	c.paused = false
	return nil
}

// Mint credits a holder's token balance. Test and local-dev funding only;
// the deployed contract has no equivalent.
func (c *Contract) Mint(token, holder common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(token, holder, amount)
}

func (c *Contract) BalanceOf(token, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(token, holder))
}

// LockedBalance reports the total amount held in custody for a token across
// all pending transfers.
func (c *Contract) LockedBalance(token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locked[token]; ok {
		return new(big.Int).Set(l)
	}
	return new(big.Int)
}

// CreateTransfer locks t.Amount of t.Token from the funding wallet into
// custody and records a new Pending transfer. Every precondition violation
// aborts with no state change. A colliding transfer id is a hard conflict;
// the caller picks a different expiry rather than silently merging intents.
func (c *Contract) CreateTransfer(caller common.Address, t Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operators[caller] {
		return ErrNotAuthorized
	}
	if c.paused {
		return ErrPaused
	}
	if err := validateRange(t.Amount, t.Expiry); err != nil {
		return err
	}
	if int64(t.Expiry) <= c.now().Unix() {
		return ErrExpiryPast
	}
	if _, ok := c.transfers[t.ID]; ok {
		return ErrTransferExists
	}
	if c.balance(t.Token, t.FundingWallet).Cmp(t.Amount) < 0 {
		return ErrInsufficientFunds
	}

	c.debit(t.Token, t.FundingWallet, t.Amount)
	c.credit(t.Token, c.custody, t.Amount)
	c.addLocked(t.Token, t.Amount)

	stored := t
	stored.Amount = new(big.Int).Set(t.Amount)
	stored.Status = StatusPending
	c.transfers[t.ID] = &stored

	c.events = append(c.events, Event{
		Kind:          EventCreated,
		TransferID:    t.ID,
		Sender:        t.Sender,
		RecipientHash: t.RecipientHash,
		Token:         t.Token,
		Amount:        new(big.Int).Set(t.Amount),
		Expiry:        t.Expiry,
	})
	return nil
}

// ClaimTransfer releases a pending transfer to the recipient. The supplied
// commitment must match the stored one; the off-chain layer attaches an
// authenticated email verification before calling, so a matching hash proves
// the claimer controls the committed address. Expiry is not enforced against
// claims: a transfer stays claimable until it is refunded.
func (c *Contract) ClaimTransfer(caller common.Address, id common.Hash, recipient common.Address, recipientHash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operators[caller] {
		return ErrNotAuthorized
	}
	if c.paused {
		return ErrPaused
	}
	t, ok := c.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status != StatusPending {
		return ErrTransferNotPending
	}
	if t.RecipientHash != recipientHash {
		return ErrRecipientMismatch
	}

	c.debit(t.Token, c.custody, t.Amount)
	c.credit(t.Token, recipient, t.Amount)
	c.subLocked(t.Token, t.Amount)
	t.Status = StatusClaimed

	c.events = append(c.events, Event{
		Kind:       EventClaimed,
		TransferID: id,
		Recipient:  recipient,
		Token:      t.Token,
		Amount:     new(big.Int).Set(t.Amount),
	})
	return nil
}

// RefundTransfer returns an expired pending transfer to the refund address.
func (c *Contract) RefundTransfer(caller common.Address, id common.Hash, refundAddress common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.operators[caller] {
		return ErrNotAuthorized
	}
	if c.paused {
		return ErrPaused
	}
	t, ok := c.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if t.Status != StatusPending {
		return ErrTransferNotPending
	}
	if c.now().Unix() <= int64(t.Expiry) {
		return ErrNotExpired
	}

	c.debit(t.Token, c.custody, t.Amount)
	c.credit(t.Token, refundAddress, t.Amount)
	c.subLocked(t.Token, t.Amount)
	t.Status = StatusRefunded

	c.events = append(c.events, Event{
		Kind:       EventRefunded,
		TransferID: id,
		Recipient:  refundAddress,
		Token:      t.Token,
		Amount:     new(big.Int).Set(t.Amount),
	})
	return nil
}

// GetTransfer returns the stored record, or the zero record (zero sender,
// zero amount) when the id is unknown, matching the on-chain sentinel.
func (c *Contract) GetTransfer(id common.Hash) Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.transfers[id]
	if !ok {
		return Transfer{ID: id, Amount: new(big.Int)}
	}
	out := *t
	out.Amount = new(big.Int).Set(t.Amount)
	return out
}

// Events returns the emitted events in order.
func (c *Contract) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Contract) balance(token, holder common.Address) *big.Int {
	if holders, ok := c.balances[token]; ok {
		if b, ok := holders[holder]; ok {
			return b
		}
	}
	return new(big.Int)
}

func (c *Contract) credit(token, holder common.Address, amount *big.Int) {
	holders, ok := c.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		c.balances[token] = holders
	}
	cur, ok := holders[holder]
	if !ok {
		cur = new(big.Int)
		holders[holder] = cur
	}
	cur.Add(cur, amount)
}

func (c *Contract) debit(token, holder common.Address, amount *big.Int) {
	cur := c.balance(token, holder)
	cur.Sub(cur, amount)
}

func (c *Contract) addLocked(token common.Address, amount *big.Int) {
	cur, ok := c.locked[token]
	if !ok {
		cur = new(big.Int)
		c.locked[token] = cur
	}
	cur.Add(cur, amount)
}

func (c *Contract) subLocked(token common.Address, amount *big.Int) {
	if cur, ok := c.locked[token]; ok {
		cur.Sub(cur, amount)
	}
}
