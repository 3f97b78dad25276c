package escrow

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrails/internal/escrowid"
)

var (
	owner    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	treasury = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	usdc     = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func newFundedContract(t *testing.T, base time.Time) *Contract {
	t.Helper()
	c := NewContract(owner)
	c.SetClock(func() time.Time { return base })
	c.Mint(usdc, treasury, big.NewInt(100_000000))
	return c
}

func pendingTransfer(amount int64, expiry uint64) Transfer {
	d := escrowid.NewDeriver("")
	rh := d.RecipientHash("alice@example.com")
	amt := big.NewInt(amount)
	return Transfer{
		ID:            d.TransferID(rh, amt, expiry),
		Sender:        treasury,
		FundingWallet: treasury,
		Token:         usdc,
		Amount:        amt,
		RecipientHash: rh,
		Expiry:        expiry,
	}
}

func TestCreateThenClaimMovesExactAmount(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(10_000000, uint64(base.Unix())+3600)
	require.NoError(t, c.CreateTransfer(owner, tr))

	got := c.GetTransfer(tr.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Zero(t, got.Amount.Cmp(big.NewInt(10_000000)))
	assert.Equal(t, tr.RecipientHash, got.RecipientHash)
	assert.Equal(t, tr.Expiry, got.Expiry)
	assert.Zero(t, c.LockedBalance(usdc).Cmp(big.NewInt(10_000000)))
	assert.Zero(t, c.BalanceOf(usdc, treasury).Cmp(big.NewInt(90_000000)))

	require.NoError(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash))
	assert.Zero(t, c.BalanceOf(usdc, alice).Cmp(big.NewInt(10_000000)))
	assert.Equal(t, StatusClaimed, c.GetTransfer(tr.ID).Status)
	assert.Zero(t, c.LockedBalance(usdc).Sign())
}

func TestRefundAfterExpiry(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(5_000000, uint64(base.Unix())+10)
	require.NoError(t, c.CreateTransfer(owner, tr))

	// Refund before expiry must fail with no state change.
	err := c.RefundTransfer(owner, tr.ID, treasury)
	require.ErrorIs(t, err, ErrNotExpired)
	assert.Equal(t, StatusPending, c.GetTransfer(tr.ID).Status)

	c.SetClock(func() time.Time { return base.Add(11 * time.Second) })
	require.NoError(t, c.RefundTransfer(owner, tr.ID, treasury))
	assert.Zero(t, c.BalanceOf(usdc, treasury).Cmp(big.NewInt(100_000000)))
	assert.Equal(t, StatusRefunded, c.GetTransfer(tr.ID).Status)
	assert.Zero(t, c.LockedBalance(usdc).Sign())
}

func TestTerminalStatesAreFinal(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.NoError(t, c.CreateTransfer(owner, tr))
	require.NoError(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash))

	require.ErrorIs(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash), ErrTransferNotPending)
	c.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	require.ErrorIs(t, c.RefundTransfer(owner, tr.ID, treasury), ErrTransferNotPending)

	// Balance did not move twice.
	assert.Zero(t, c.BalanceOf(usdc, alice).Cmp(big.NewInt(1_000000)))
}

func TestClaimRejectsMismatchedCommitment(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.NoError(t, c.CreateTransfer(owner, tr))

	wrong := escrowid.NewDeriver("").RecipientHash("mallory@example.com")
	require.ErrorIs(t, c.ClaimTransfer(owner, tr.ID, alice, wrong), ErrRecipientMismatch)
	assert.Zero(t, c.BalanceOf(usdc, alice).Sign())
	assert.Equal(t, StatusPending, c.GetTransfer(tr.ID).Status)
}

func TestDuplicateCreateIsHardConflict(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.NoError(t, c.CreateTransfer(owner, tr))
	require.ErrorIs(t, c.CreateTransfer(owner, tr), ErrTransferExists)

	// Only one lock was taken.
	assert.Zero(t, c.LockedBalance(usdc).Cmp(big.NewInt(1_000000)))
}

func TestPauseBlocksAllMutations(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+10)
	require.NoError(t, c.CreateTransfer(owner, tr))
	require.NoError(t, c.Pause(owner))

	second := pendingTransfer(2_000000, uint64(base.Unix())+60)
	require.ErrorIs(t, c.CreateTransfer(owner, second), ErrPaused)
	require.ErrorIs(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash), ErrPaused)
	c.SetClock(func() time.Time { return base.Add(time.Minute) })
	require.ErrorIs(t, c.RefundTransfer(owner, tr.ID, treasury), ErrPaused)

	// No funds moved while paused.
	assert.Zero(t, c.BalanceOf(usdc, treasury).Cmp(big.NewInt(99_000000)))
	assert.Zero(t, c.BalanceOf(usdc, alice).Sign())

	require.NoError(t, c.Unpause(owner))
	require.NoError(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash))
}

func TestCreateValidation(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)
	future := uint64(base.Unix()) + 60

	cases := []struct {
		name string
		mut  func(*Transfer)
		want error
	}{
		{"zero amount", func(tr *Transfer) { tr.Amount = big.NewInt(0) }, ErrZeroAmount},
		{"negative amount", func(tr *Transfer) { tr.Amount = big.NewInt(-5) }, ErrZeroAmount},
		{"amount overflow", func(tr *Transfer) {
			tr.Amount = new(big.Int).Add(escrowid.MaxAmount, big.NewInt(1))
		}, ErrAmountOverflow},
		{"expiry overflow", func(tr *Transfer) { tr.Expiry = escrowid.MaxExpiry + 1 }, ErrExpiryOverflow},
		{"expiry in past", func(tr *Transfer) { tr.Expiry = uint64(base.Unix()) - 1 }, ErrExpiryPast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := pendingTransfer(1_000000, future)
			tc.mut(&tr)
			require.ErrorIs(t, c.CreateTransfer(owner, tr), tc.want)
		})
	}
}

func TestNonOperatorRejected(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.ErrorIs(t, c.CreateTransfer(alice, tr), ErrNotAuthorized)
	require.ErrorIs(t, c.Pause(alice), ErrNotAuthorized)

	require.NoError(t, c.AddOperator(owner, alice))
	require.NoError(t, c.CreateTransfer(alice, tr))
}

func TestCreateRequiresFunding(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := NewContract(owner)
	c.SetClock(func() time.Time { return base })

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.ErrorIs(t, c.CreateTransfer(owner, tr), ErrInsufficientFunds)
}

func TestGetTransferZeroRecordForUnknownID(t *testing.T) {
	c := NewContract(owner)

	got := c.GetTransfer(common.HexToHash("0xdead"))
	assert.Equal(t, common.Address{}, got.Sender)
	assert.Zero(t, got.Amount.Sign())
}

func TestEventsEmittedInOrder(t *testing.T) {
	base := time.Unix(1_800_000_000, 0)
	c := newFundedContract(t, base)

	tr := pendingTransfer(1_000000, uint64(base.Unix())+60)
	require.NoError(t, c.CreateTransfer(owner, tr))
	require.NoError(t, c.ClaimTransfer(owner, tr.ID, alice, tr.RecipientHash))

	events := c.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, tr.ID, events[0].TransferID)
	assert.Equal(t, EventClaimed, events[1].Kind)
	assert.Equal(t, alice, events[1].Recipient)
}
