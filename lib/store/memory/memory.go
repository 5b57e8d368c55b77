// Package memory implements the store interface with process-local state. It is the volatile mode of the relay:
// everything is lost on restart, but access is safe under concurrent requests.
package memory

import (
	"sync"

	"github.com/tarancss/kinrelay/lib/store"
)

// Memory holds the relay bookkeeping in maps guarded by a single mutex.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]store.Account
	names    []string // registration order
	txs      []string // submission order
	idem     map[string]string
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		accounts: make(map[string]store.Account),
		idem:     make(map[string]string),
	}
}

// CloseMem releases the store. Nothing to do for the in-memory one.
func (m *Memory) CloseMem() error {
	return nil
}

// PutAccount saves the account if the name is not already registered.
func (m *Memory) PutAccount(a store.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.Name]; ok {
		return store.ErrDupAccount
	}

	m.accounts[a.Name] = a
	m.names = append(m.names, a.Name)

	return nil
}

// GetAccount returns the account registered under name.
func (m *Memory) GetAccount(name string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[name]
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}

	return a, nil
}

// Accounts returns the registered account names in registration order.
func (m *Memory) Accounts() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.names))
	copy(names, m.names)

	return names, nil
}

// AddTransaction appends the transaction id to the ledger cache.
func (m *Memory) AddTransaction(txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txs = append(m.txs, txID)

	return nil
}

// Transactions returns the recorded transaction ids in submission order.
func (m *Memory) Transactions() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := make([]string, len(m.txs))
	copy(txs, m.txs)

	return txs, nil
}

// PutIdempotency records the transaction id submitted under the idempotency key.
func (m *Memory) PutIdempotency(key, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.idem[key]; !ok {
		m.idem[key] = txID
	}

	return nil
}

// GetIdempotency returns the transaction id previously recorded under the idempotency key.
func (m *Memory) GetIdempotency(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID, ok := m.idem[key]
	if !ok {
		return "", store.ErrDataNotFound
	}

	return txID, nil
}
