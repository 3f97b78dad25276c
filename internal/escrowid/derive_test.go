package escrowid

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRecipientHashDeterministic(t *testing.T) {
	d := NewDeriver("")

	a := d.RecipientHash("alice@example.com")
	b := d.RecipientHash("alice@example.com")
	if a != b {
		t.Fatalf("same email produced different commitments: %s vs %s", a, b)
	}
}

func TestRecipientHashNormalization(t *testing.T) {
	d := NewDeriver("")

	base := d.RecipientHash("alice@example.com")
	variants := []string{
		"ALICE@EXAMPLE.COM",
		"  alice@example.com  ",
		"\tAlice@Example.Com\n",
	}
	for _, v := range variants {
		if got := d.RecipientHash(v); got != base {
			t.Fatalf("variant %q produced %s, want %s", v, got, base)
		}
	}

	if other := d.RecipientHash("bob@example.com"); other == base {
		t.Fatalf("distinct emails collided on %s", base)
	}
}

func TestTransferIDDeterministic(t *testing.T) {
	d := NewDeriver("")

	rh := d.RecipientHash("alice@example.com")
	amount := big.NewInt(10_000000)
	expiry := uint64(1_900_000_000)

	first := d.TransferID(rh, amount, expiry)
	second := d.TransferID(rh, amount, expiry)
	if first != second {
		t.Fatalf("same inputs produced different ids: %s vs %s", first, second)
	}

	if bumped := d.TransferID(rh, big.NewInt(10_000001), expiry); bumped == first {
		t.Fatal("amount change did not change the id")
	}
	if later := d.TransferID(rh, amount, expiry+1); later == first {
		t.Fatal("expiry change did not change the id")
	}
}

func TestTransferIDMaxRanges(t *testing.T) {
	d := NewDeriver("")
	rh := d.RecipientHash("alice@example.com")

	// Both limits must pack without panicking.
	id := d.TransferID(rh, new(big.Int).Set(MaxAmount), MaxExpiry)
	if id == (common.Hash{}) {
		t.Fatal("expected non-zero id at range limits")
	}
}

func TestSaltVersionSeparatesIDSpaces(t *testing.T) {
	v1 := NewDeriver("MS_ESCROW_V1")
	v2 := NewDeriver("MS_ESCROW_V2")

	if v1.RecipientHash("alice@example.com") == v2.RecipientHash("alice@example.com") {
		t.Fatal("different salt versions produced the same commitment")
	}
}

func TestNormalizeEmail(t *testing.T) {
	cases := map[string]string{
		"Alice@Example.COM":  "alice@example.com",
		"  bob@example.com ": "bob@example.com",
		"carol@example.com":  "carol@example.com",
	}
	for in, want := range cases {
		if got := NormalizeEmail(in); got != want {
			t.Fatalf("NormalizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
