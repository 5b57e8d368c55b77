// Package types defines the value types exchanged with ledger clients: keypairs, payments, transactions and the
// quark amount conversions.
package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// QuarksPerKin is the number of minor units (quarks) in one whole Kin.
const QuarksPerKin = 100000

// Errors returned by key and amount parsing.
var (
	ErrBadKey    = errors.New("invalid key: expected a base58 encoded 32-byte value")
	ErrBadAmount = errors.New("invalid amount: expected a decimal number with at most 5 decimal places")
	ErrBadType   = errors.New("invalid payment type: expected one of None, Earn, Spend, P2P")
)

// PublicKey is an ed25519 public key identifying an on-ledger account.
type PublicKey []byte

// Base58 returns the textual form of the public key.
func (p PublicKey) Base58() string {
	return base58.Encode(p)
}

// PublicKeyFromString decodes a base58 public key.
func PublicKeyFromString(s string) (PublicKey, error) {
	b := base58.Decode(s)
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}

	return PublicKey(b), nil
}

// PrivateKey is an ed25519 signing key. The zero value is unusable; keys are minted with Random or decoded from a
// base58 seed with PrivateKeyFromString.
type PrivateKey struct {
	k ed25519.PrivateKey
}

// Random generates a fresh keypair.
func Random() (PrivateKey, error) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("cannot generate keypair: %w", err)
	}

	return PrivateKey{k: k}, nil
}

// PrivateKeyFromString decodes a base58 32-byte seed into a signing key.
func PrivateKeyFromString(seed string) (PrivateKey, error) {
	b := base58.Decode(seed)
	if len(b) != ed25519.SeedSize {
		return PrivateKey{}, ErrBadKey
	}

	return PrivateKey{k: ed25519.NewKeyFromSeed(b)}, nil
}

// Base58 returns the textual form of the key seed.
func (p PrivateKey) Base58() string {
	return base58.Encode(p.k.Seed())
}

// Public returns the public half of the keypair.
func (p PrivateKey) Public() PublicKey {
	return PublicKey(p.k.Public().(ed25519.PublicKey))
}

// Sign signs msg with the private key.
func (p PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(p.k, msg)
}

// Zero reports whether the key is unset.
func (p PrivateKey) Zero() bool {
	return len(p.k) == 0
}

// PaymentType categorizes a payment for the ledger infrastructure.
type PaymentType int

// Payment types.
const (
	TypeNone PaymentType = iota
	TypeEarn
	TypeSpend
	TypeP2P
)

// String returns the canonical label of the payment type.
func (t PaymentType) String() string {
	switch t {
	case TypeEarn:
		return "Earn"
	case TypeSpend:
		return "Spend"
	case TypeP2P:
		return "P2P"
	default:
		return "None"
	}
}

// ParseType decodes a payment type label. An empty label means TypeNone (the field is optional); any other
// unrecognized label is rejected with ErrBadType rather than silently defaulting.
func ParseType(s string) (PaymentType, error) {
	switch s {
	case "", "None":
		return TypeNone, nil
	case "Earn":
		return TypeEarn, nil
	case "Spend":
		return TypeSpend, nil
	case "P2P":
		return TypeP2P, nil
	}

	return TypeNone, ErrBadType
}

// Payment is a payment submission: the sender signing key, the destination token account, the amount in quarks and
// the payment category.
type Payment struct {
	Sender      PrivateKey
	Destination PublicKey
	Quarks      int64
	Type        PaymentType
}

// ReadOnlyPayment is the public projection of a ledger payment. It never carries key material.
type ReadOnlyPayment struct {
	Sender      PublicKey
	Destination PublicKey
	Quarks      int64
	Type        PaymentType
}

// TxState is the ledger state of a transaction.
type TxState int

// Transaction states. StateUnknown is the sentinel for a transaction the ledger has no record of.
const (
	StateUnknown TxState = iota
	StateSuccess
	StateFailed
	StatePending
)

// Transaction contains the details of a ledger transaction.
type Transaction struct {
	ID       []byte
	State    TxState
	Payments []ReadOnlyPayment
}

// Event is a ledger event notification delivered by the webhook infrastructure. TxID is the base58 transaction
// identifier the event refers to.
type Event struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	TxID    string `json:"txId"`
	TxState int    `json:"txState"`
}

// KinToQuarks converts a decimal Kin amount string to quarks. Amounts with more than 5 decimal places are rejected
// so that the conversion is exact.
func KinToQuarks(amount string) (int64, error) {
	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}

	if whole == "" && frac == "" {
		return 0, ErrBadAmount
	}

	if len(frac) > 5 {
		return 0, ErrBadAmount
	}
	// right-pad the fraction to quark precision
	frac += strings.Repeat("0", 5-len(frac))

	var q int64

	for _, digits := range []string{whole, frac} {
		for _, c := range []byte(digits) {
			if c < '0' || c > '9' {
				return 0, ErrBadAmount
			}
			// amounts beyond the int64 quark range are rejected, never wrapped
			if q > (math.MaxInt64-int64(c-'0'))/10 {
				return 0, ErrBadAmount
			}

			q = q*10 + int64(c-'0')
		}
	}

	return q, nil
}

// QuarksToKin converts quarks to a decimal Kin amount string, trimming trailing zeros from the fraction.
func QuarksToKin(quarks int64) string {
	whole, frac := quarks/QuarksPerKin, quarks%QuarksPerKin

	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}

	s := strings.TrimRight(fmt.Sprintf("%05d", frac), "0")

	return fmt.Sprintf("%d.%s", whole, s)
}
