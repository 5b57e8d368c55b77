// Package ledger defines the interface required for all ledger client connections. All cryptographic signing,
// transaction construction and consensus interaction happen behind this boundary; the relay only ever sees the
// narrow capability surface below.
package ledger

import (
	"errors"

	"github.com/tarancss/kinrelay/lib/config"
	"github.com/tarancss/kinrelay/lib/ledger/agora"
	"github.com/tarancss/kinrelay/lib/ledger/memledger"
	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/util"
)

// Ledger environments.
const (
	EnvTest = "test"
	EnvProd = "prod"
)

// ErrBadEnv is returned when the configured environment is not recognized.
var ErrBadEnv = errors.New("unknown ledger environment: expected test or prod")

// Client is the capability interface to the external ledger. It has been designed to be as narrow as possible:
// account creation, token account resolution, balance, airdrop, payment submission and transaction retrieval.
type Client interface {
	// member-type methods
	Environment() string // ledger environment the client is connected to
	AppIndex() int       // application identifier registered with the ledger infrastructure
	// methods
	Close()
	CreateAccount(key types.PrivateKey) error
	ResolveTokenAccounts(account types.PublicKey) ([]types.PublicKey, error)
	GetBalance(account types.PublicKey) (int64, error)
	RequestAirdrop(destination types.PublicKey, quarks int64) ([]byte, error)
	SubmitPayment(p types.Payment) ([]byte, error)
	GetTransaction(id []byte) (types.Transaction, error)
}

// Init returns a ledger client for the given configuration. An empty node url starts an embedded in-process test
// ledger, otherwise an HTTP client to the remote gateway node is returned.
func Init(cfg config.LedgerConfig) (Client, error) {
	if !util.In([]string{EnvTest, EnvProd}, cfg.Env) {
		return nil, ErrBadEnv
	}

	if cfg.Node == "" {
		return memledger.New(cfg.Env, cfg.AppIndex), nil
	}

	return agora.New(cfg.Node, cfg.Secret, cfg.Env, cfg.AppIndex)
}
