// Package memledger implements the ledger client interface with an embedded in-process ledger. It is meant for the
// test environment: it mints airdrops, keeps balances in memory and applies payments atomically so that a payment
// can never overdraw its sender, mirroring what the real ledger enforces.
package memledger

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/tarancss/kinrelay/lib/ledger/types"
)

// Errors returned by the embedded ledger.
var (
	ErrDupAccount         = errors.New("account already exists on ledger")
	ErrNoSender           = errors.New("payment requires a sender key")
	ErrBadQuarks          = errors.New("quark amount cannot be negative")
	ErrInsufficientFunds  = errors.New("sender has insufficient funds")
	ErrAirdropUnavailable = errors.New("airdrop is only available on the test environment")
)

// Mem is an in-process ledger. All state is guarded by a single mutex, so concurrent payments from the same sender
// serialize and exactly one of two overdrawing payments can succeed.
type Mem struct {
	env      string
	appIndex int
	mint     types.PrivateKey // source identity for airdrops

	mu       sync.Mutex
	balances map[string]int64 // base58 public key -> quarks
	txs      map[string]types.Transaction
}

// New returns an embedded ledger for the given environment and app index.
func New(env string, appIndex int) *Mem {
	mint, err := types.Random()
	if err != nil {
		panic(fmt.Sprintf("cannot mint ledger identity: %v", err))
	}

	return &Mem{
		env:      env,
		appIndex: appIndex,
		mint:     mint,
		balances: make(map[string]int64),
		txs:      make(map[string]types.Transaction),
	}
}

// Environment returns the ledger environment.
func (m *Mem) Environment() string { return m.env }

// AppIndex returns the registered app index.
func (m *Mem) AppIndex() int { return m.appIndex }

// Close releases the ledger. Nothing to do for the embedded one.
func (m *Mem) Close() {}

// CreateAccount registers the keypair on the ledger with a zero balance.
func (m *Mem) CreateAccount(key types.PrivateKey) error {
	if key.Zero() {
		return ErrNoSender
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pub := key.Public().Base58()
	if _, ok := m.balances[pub]; ok {
		return ErrDupAccount
	}

	m.balances[pub] = 0

	return nil
}

// ResolveTokenAccounts returns the token accounts associated with the keypair. The embedded ledger keeps a single
// token account per keypair, the account itself.
func (m *Mem) ResolveTokenAccounts(account types.PublicKey) ([]types.PublicKey, error) {
	m.mu.Lock()
	m.touch(account)
	m.mu.Unlock()

	return []types.PublicKey{account}, nil
}

// GetBalance returns the quark balance of the account. Accounts not seen before report zero, so the app identity
// can be queried without an explicit create.
func (m *Mem) GetBalance(account types.PublicKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.touch(account), nil
}

// RequestAirdrop mints quarks to the destination and returns the transaction id. Rejected outside the test
// environment, as on a production ledger.
func (m *Mem) RequestAirdrop(destination types.PublicKey, quarks int64) ([]byte, error) {
	if m.env != "test" {
		return nil, ErrAirdropUnavailable
	}

	if quarks < 0 {
		return nil, ErrBadQuarks
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[destination.Base58()] = m.touch(destination) + quarks

	return m.record(types.ReadOnlyPayment{
		Sender:      m.mint.Public(),
		Destination: destination,
		Quarks:      quarks,
		Type:        types.TypeNone,
	}), nil
}

// SubmitPayment applies the payment atomically: the sender is debited and the destination credited under the ledger
// lock, or the payment fails without any effect.
func (m *Mem) SubmitPayment(p types.Payment) ([]byte, error) {
	if p.Sender.Zero() {
		return nil, ErrNoSender
	}

	if p.Quarks < 0 {
		return nil, ErrBadQuarks
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sender := p.Sender.Public()
	if m.touch(sender) < p.Quarks {
		return nil, ErrInsufficientFunds
	}

	m.balances[sender.Base58()] -= p.Quarks
	m.balances[p.Destination.Base58()] = m.touch(p.Destination) + p.Quarks

	return m.record(types.ReadOnlyPayment{
		Sender:      sender,
		Destination: p.Destination,
		Quarks:      p.Quarks,
		Type:        p.Type,
	}), nil
}

// GetTransaction returns the transaction details. A transaction the ledger has no record of is reported with the
// StateUnknown sentinel, not an error.
func (m *Mem) GetTransaction(id []byte) (types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[base58.Encode(id)]
	if !ok {
		return types.Transaction{ID: id, State: types.StateUnknown}, nil
	}

	return tx, nil
}

// touch returns the balance of the account, registering it with zero quarks if not seen before. Callers must hold
// the ledger lock.
func (m *Mem) touch(account types.PublicKey) int64 {
	b, ok := m.balances[account.Base58()]
	if !ok {
		m.balances[account.Base58()] = 0
	}

	return b
}

// record stores a successful single-payment transaction and returns its id. Callers must hold the ledger lock.
func (m *Mem) record(p types.ReadOnlyPayment) []byte {
	id := make([]byte, 32)
	_, _ = rand.Read(id)

	m.txs[base58.Encode(id)] = types.Transaction{
		ID:       id,
		State:    types.StateSuccess,
		Payments: []types.ReadOnlyPayment{p},
	}

	return id
}
