package store

import (
	"github.com/tarancss/kinrelay/lib/ledger/types"
)

// Account contains the fields of a registered user account. The registry exclusively owns the private key; no other
// component may retain a copy.
type Account struct {
	Name          string            `json:"name"`
	PrivateKey    types.PrivateKey  `json:"-"`
	TokenAccounts []types.PublicKey `json:"tokenAccounts"`
}
