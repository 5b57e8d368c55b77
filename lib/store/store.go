// Package store defines the interface for database implementations to the relay service: the account registry,
// the transaction ledger cache and the idempotency records.
package store

import (
	"errors"
)

// DB defines required methods for the relay bookkeeping. The account registry is the only owner of private key
// material; the transaction cache holds public identifiers only and is append-only, in submission order.
type DB interface {
	// account registry
	PutAccount(a Account) error
	GetAccount(name string) (Account, error)
	Accounts() ([]string, error)
	// transaction ledger cache
	AddTransaction(txID string) error
	Transactions() ([]string, error)
	// idempotency records for payment submission
	PutIdempotency(key, txID string) error
	GetIdempotency(key string) (string, error)
}

// Errors returned
var (
	ErrDupAccount      = errors.New("account name already registered in store")
	ErrAccountNotFound = errors.New("account was not found in store")
	ErrDataNotFound    = errors.New("data was not found in store")
)
