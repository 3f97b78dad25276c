package escrowid

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSaltVersion is the commitment salt shared by every party that must
// agree on recipient hashes and transfer ids. Bump the version to rotate the
// id space.
const DefaultSaltVersion = "MS_ESCROW_V1"

var (
	// MaxAmount is the largest escrowable amount, uint96 on-chain.
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))

	// MaxExpiry is the largest representable expiry timestamp, uint40 on-chain.
	MaxExpiry = uint64(1)<<40 - 1
)

// Deriver computes recipient commitments and transfer identifiers under a
// versioned salt. Derivation is pure: two calls with identical normalized
// inputs produce identical digests, so any party can recompute and verify an
// id without a database round trip.
type Deriver struct {
	salt common.Hash
}

func NewDeriver(version string) Deriver {
	if version == "" {
		version = DefaultSaltVersion
	}
	return Deriver{salt: crypto.Keccak256Hash([]byte(version))}
}

// NormalizeEmail canonicalizes an email before hashing. Case and surrounding
// whitespace must not change a commitment.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecipientHash commits to a normalized email without putting the plaintext
// address on-chain.
func (d Deriver) RecipientHash(email string) common.Hash {
	return crypto.Keccak256Hash(d.salt[:], []byte(NormalizeEmail(email)))
}

// TransferID derives the transfer identifier from the recipient commitment,
// the amount packed to 96 bits and the expiry packed to 40 bits. Callers
// validate ranges first; out-of-range inputs are a programming error.
func (d Deriver) TransferID(recipientHash common.Hash, amount *big.Int, expiry uint64) common.Hash {
	var amt [12]byte
	amount.FillBytes(amt[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], expiry)

	return crypto.Keccak256Hash(d.salt[:], recipientHash[:], amt[:], buf[3:])
}
