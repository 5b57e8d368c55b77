// Package agora implements the ledger client interface over HTTP for a remote ledger gateway node. The gateway owns
// the actual transaction construction and submission; this client only moves JSON back and forth.
package agora

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/tarancss/kinrelay/lib/ledger/types"
)

// reqTimeout bounds every gateway round trip so a hung node cannot block a request forever.
const reqTimeout = 15 * time.Second

// Errors returned by the gateway client.
var (
	ErrBadNode = errors.New("cannot connect to ledger gateway: invalid node url")
	ErrGateway = errors.New("ledger gateway rejected the request")
)

// Agora implements a connection to a remote ledger gateway.
type Agora struct {
	node     string
	secret   string // optional Basic Authentication secret
	env      string
	appIndex int
	c        *http.Client
}

// New returns a client to the gateway at node, using secret if necessary for authentication.
func New(node, secret, env string, appIndex int) (*Agora, error) {
	if _, err := url.ParseRequestURI(node); err != nil {
		return nil, ErrBadNode
	}

	return &Agora{
		node:     node,
		secret:   secret,
		env:      env,
		appIndex: appIndex,
		c:        &http.Client{Timeout: reqTimeout},
	}, nil
}

// Environment returns the ledger environment the client is connected to.
func (a *Agora) Environment() string { return a.env }

// AppIndex returns the registered app index.
func (a *Agora) AppIndex() int { return a.appIndex }

// Close ends the connection.
func (a *Agora) Close() {
	a.c.CloseIdleConnections()
}

// payment is the wire form of a payment submission.
type payment struct {
	SenderSeed  string `json:"senderSeed"`
	Destination string `json:"destination"`
	Quarks      int64  `json:"quarks"`
	Type        string `json:"type"`
}

// transaction is the wire form of a transaction detail response.
type transaction struct {
	ID       string `json:"id"`
	State    int    `json:"state"`
	Payments []struct {
		Sender      string `json:"sender"`
		Destination string `json:"destination"`
		Quarks      int64  `json:"quarks"`
		Type        string `json:"type"`
	} `json:"payments"`
}

// CreateAccount registers the keypair on the ledger.
func (a *Agora) CreateAccount(key types.PrivateKey) error {
	return a.call("POST", "/v1/accounts", map[string]interface{}{
		"seed":     key.Base58(),
		"appIndex": a.appIndex,
	}, nil)
}

// ResolveTokenAccounts returns the token accounts associated with the keypair.
func (a *Agora) ResolveTokenAccounts(account types.PublicKey) ([]types.PublicKey, error) {
	var out struct {
		TokenAccounts []string `json:"tokenAccounts"`
	}

	if err := a.call("GET", "/v1/accounts/"+account.Base58()+"/token_accounts", nil, &out); err != nil {
		return nil, err
	}

	accounts := make([]types.PublicKey, 0, len(out.TokenAccounts))

	for _, s := range out.TokenAccounts {
		pub, err := types.PublicKeyFromString(s)
		if err != nil {
			return nil, fmt.Errorf("gateway returned a malformed token account %q: %w", s, err)
		}

		accounts = append(accounts, pub)
	}

	return accounts, nil
}

// GetBalance returns the quark balance of the account.
func (a *Agora) GetBalance(account types.PublicKey) (int64, error) {
	var out struct {
		Quarks int64 `json:"quarks"`
	}

	if err := a.call("GET", "/v1/accounts/"+account.Base58()+"/balance", nil, &out); err != nil {
		return 0, err
	}

	return out.Quarks, nil
}

// RequestAirdrop asks the gateway to mint quarks to the destination. Production gateways reject this.
func (a *Agora) RequestAirdrop(destination types.PublicKey, quarks int64) ([]byte, error) {
	var out struct {
		ID string `json:"id"`
	}

	err := a.call("POST", "/v1/airdrops", map[string]interface{}{
		"destination": destination.Base58(),
		"quarks":      quarks,
	}, &out)
	if err != nil {
		return nil, err
	}

	return base58.Decode(out.ID), nil
}

// SubmitPayment asks the gateway to sign and submit the payment, returning the transaction id.
func (a *Agora) SubmitPayment(p types.Payment) ([]byte, error) {
	var out struct {
		ID string `json:"id"`
	}

	err := a.call("POST", "/v1/payments", payment{
		SenderSeed:  p.Sender.Base58(),
		Destination: p.Destination.Base58(),
		Quarks:      p.Quarks,
		Type:        p.Type.String(),
	}, &out)
	if err != nil {
		return nil, err
	}

	return base58.Decode(out.ID), nil
}

// GetTransaction returns the transaction details. The gateway reports unknown transactions with the zero state,
// which maps to the StateUnknown sentinel.
func (a *Agora) GetTransaction(id []byte) (types.Transaction, error) {
	var out transaction

	if err := a.call("GET", "/v1/transactions/"+base58.Encode(id), nil, &out); err != nil {
		return types.Transaction{}, err
	}

	tx := types.Transaction{ID: base58.Decode(out.ID), State: types.TxState(out.State)}
	if len(tx.ID) == 0 {
		tx.ID = id
	}

	for _, p := range out.Payments {
		sender, err := types.PublicKeyFromString(p.Sender)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("gateway returned a malformed sender %q: %w", p.Sender, err)
		}

		dest, err := types.PublicKeyFromString(p.Destination)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("gateway returned a malformed destination %q: %w", p.Destination, err)
		}

		ptype, err := types.ParseType(p.Type)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("gateway returned a malformed payment type %q: %w", p.Type, err)
		}

		tx.Payments = append(tx.Payments, types.ReadOnlyPayment{
			Sender:      sender,
			Destination: dest,
			Quarks:      p.Quarks,
			Type:        ptype,
		})
	}

	return tx, nil
}

// call performs one JSON round trip to the gateway.
func (a *Agora) call(method, path string, in, out interface{}) error {
	var body bytes.Buffer

	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, a.node+path, &body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if a.secret != "" {
		req.SetBasicAuth("", a.secret)
	}

	resp, err := a.c.Do(req)
	if err != nil {
		return fmt.Errorf("ledger gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return nil
}
