// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// schema holds the relay bookkeeping tables. Transactions carry a serial column so submission order survives
// restarts.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		seq SERIAL,
		name TEXT PRIMARY KEY,
		seed TEXT NOT NULL,
		token_accounts TEXT[] NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		seq SERIAL,
		tx TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency (
		key TEXT PRIMARY KEY,
		tx TEXT NOT NULL
	)`,
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("cannot prepare DB schema: %w", err)
		}
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// PutAccount saves the account if the name is not already registered.
func (p *Postgres) PutAccount(a store.Account) error {
	tokenAccounts := make([]string, 0, len(a.TokenAccounts))
	for _, pub := range a.TokenAccounts {
		tokenAccounts = append(tokenAccounts, pub.Base58())
	}

	res, err := p.db.Exec(
		`INSERT INTO accounts (name, seed, token_accounts) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		a.Name, a.PrivateKey.Base58(), pq.Array(tokenAccounts))
	if err != nil {
		return fmt.Errorf("could not insert account in db: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDupAccount
	}

	return nil
}

// GetAccount returns the account registered under name.
func (p *Postgres) GetAccount(name string) (store.Account, error) {
	var seed string

	var tokenAccounts []string

	err := p.db.QueryRow(`SELECT seed, token_accounts FROM accounts WHERE name = $1`, name).
		Scan(&seed, pq.Array(&tokenAccounts))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, store.ErrAccountNotFound
	}

	if err != nil {
		return store.Account{}, fmt.Errorf("error getting account from db: %w", err)
	}

	key, err := types.PrivateKeyFromString(seed)
	if err != nil {
		return store.Account{}, fmt.Errorf("corrupt key material for account %s: %w", name, err)
	}

	accounts := make([]types.PublicKey, 0, len(tokenAccounts))

	for _, s := range tokenAccounts {
		pub, errPub := types.PublicKeyFromString(s)
		if errPub != nil {
			return store.Account{}, fmt.Errorf("corrupt token account for account %s: %w", name, errPub)
		}

		accounts = append(accounts, pub)
	}

	return store.Account{Name: name, PrivateKey: key, TokenAccounts: accounts}, nil
}

// Accounts returns the registered account names in registration order.
func (p *Postgres) Accounts() ([]string, error) {
	rows, err := p.db.Query(`SELECT name FROM accounts ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("error getting accounts from db: %w", err)
	}
	defer rows.Close()

	names := []string{}

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error decoding account from db: %w", err)
		}

		names = append(names, name)
	}

	return names, rows.Err()
}

// AddTransaction appends the transaction id to the ledger cache.
func (p *Postgres) AddTransaction(txID string) error {
	if _, err := p.db.Exec(`INSERT INTO transactions (tx) VALUES ($1)`, txID); err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}

	return nil
}

// Transactions returns the recorded transaction ids in submission order.
func (p *Postgres) Transactions() ([]string, error) {
	rows, err := p.db.Query(`SELECT tx FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("error getting transactions from db: %w", err)
	}
	defer rows.Close()

	txs := []string{}

	for rows.Next() {
		var tx string
		if err = rows.Scan(&tx); err != nil {
			return nil, fmt.Errorf("error decoding transaction from db: %w", err)
		}

		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// PutIdempotency records the transaction id submitted under the idempotency key. The first record wins.
func (p *Postgres) PutIdempotency(key, txID string) error {
	_, err := p.db.Exec(`INSERT INTO idempotency (key, tx) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, txID)
	if err != nil {
		return fmt.Errorf("could not insert idempotency key in db: %w", err)
	}

	return nil
}

// GetIdempotency returns the transaction id previously recorded under the idempotency key.
func (p *Postgres) GetIdempotency(key string) (string, error) {
	var tx string

	err := p.db.QueryRow(`SELECT tx FROM idempotency WHERE key = $1`, key).Scan(&tx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrDataNotFound
	}

	if err != nil {
		return "", fmt.Errorf("error getting idempotency key from db: %w", err)
	}

	return tx, nil
}
