// Package relay implements the payment relay microservice.
//
// This microservice implements a RESTful API for clients to create custodial accounts, check balances, request
// test-network airdrops and submit payments against an external ledger. All signing, transaction construction and
// consensus interaction is delegated to the ledger client (package lib/ledger); the relay contributes request
// parsing, bookkeeping and the webhook gateway.
package relay

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/tarancss/kinrelay/lib/config"
	"github.com/tarancss/kinrelay/lib/ledger"
	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/msg"
	"github.com/tarancss/kinrelay/lib/store"
	"github.com/tarancss/kinrelay/lib/store/db"
)

// Relay contains the data necessary to deliver the service
type Relay struct {
	dbtype    string
	db        store.DB            // db connection
	mb        msg.EventBroker     // message broker for ledger event fan-out
	appKey    types.PrivateKey    // application signing identity
	whSecret  string              // webhook shared secret
	policy    SignPolicy          // signing approval policy
	ledgerCfg config.LedgerConfig // connection template used when /setup swaps the client

	lcMu sync.RWMutex  // guards lc against /setup swaps
	lc   ledger.Client // ledger client

	locks keyedMutex // per-account mutual exclusion for registry and payment mutations

	s  *http.Server  // http server
	ss *http.Server  // https server
	sc chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Relay service
func New(dbtype string, dbConn store.DB, mb msg.EventBroker, lc ledger.Client, ledgerCfg config.LedgerConfig,
	appKey types.PrivateKey, whSecret string, policy SignPolicy) *Relay {
	return &Relay{
		dbtype:    dbtype,
		db:        dbConn,
		mb:        mb,
		lc:        lc,
		ledgerCfg: ledgerCfg,
		appKey:    appKey,
		whSecret:  whSecret,
		policy:    policy,
	}
}

// ledger returns the current ledger client. Requests in flight keep the client they started with even if /setup
// swaps it concurrently.
func (rl *Relay) ledger() ledger.Client {
	rl.lcMu.RLock()
	defer rl.lcMu.RUnlock()

	return rl.lc
}

// setLedger swaps the ledger client for a new environment and app index, closing the old one.
func (rl *Relay) setLedger(env string, appIndex int) error {
	cfg := rl.ledgerCfg
	cfg.Env = env
	cfg.AppIndex = appIndex

	lc, err := ledger.Init(cfg)
	if err != nil {
		return err
	}

	rl.lcMu.Lock()
	old := rl.lc
	rl.lc = lc
	rl.ledgerCfg = cfg
	rl.lcMu.Unlock()

	if old != nil {
		old.Close()
	}

	return nil
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to the
// message broker, the ledger client and the database.
func (rl *Relay) Stop() {
	var err error
	// shutdown http server
	if rl.s != nil {
		if err = rl.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if rl.ss != nil {
		if err = rl.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(rl.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if rl.mb != nil {
		if err = rl.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}
	// close ledger client
	if lc := rl.ledger(); lc != nil {
		lc.Close()
	}
	// close database
	if rl.db != nil {
		err = db.Close(rl.dbtype, rl.db)
		log.Printf("Disconnecting %v database, err:%e\n", rl.dbtype, err)
	}
}

// ManageEvents starts go routines to consume the ledger events the relay itself published to the broker from its
// webhook. Two channels are opened, one for events, and one for errors.
func (rl *Relay) ManageEvents() error {
	if rl.mb == nil {
		return nil
	}

	env := rl.ledger().Environment()

	var mut *sync.Mutex = new(sync.Mutex)
	mut.Lock()
	eveCh, errCh, err := rl.mb.GetEvents(env, mut)
	if err != nil {
		return err
	}

	// launch event channel reader
	go func() {
		log.Printf("[%s] Start listening to ledger event channel", env)
		for eve := range eveCh {
			log.Printf("[%s] Received ledger event %+v", env, eve) // application reactions hook in here
			mut.Unlock()
		}
		log.Printf("[%s] Stop listening to ledger event channel", env)
	}()

	// launch error channel reader
	go func() {
		log.Printf("[%s] Start listening to err channel", env)
		for e := range errCh {
			log.Printf("[%s] Received error %+v", env, e)
		}
		log.Printf("[%s] Stop listening to err channel", env)
	}()

	return nil
}

// keyedMutex serializes mutations per account name, so concurrent requests touching the same account run
// at-most-one-in-flight while requests for different accounts proceed in parallel.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[key]
	if !ok {
		l = new(sync.Mutex)
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()

	return l.Unlock
}
