package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/tarancss/kinrelay/lib/ledger"
	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/store"
)

// maxNameLen bounds user-chosen account names.
const maxNameLen = 64

// Errors returned to client requests.
var (
	ErrBadName    = errors.New("no valid name: expected letters, digits, '_' or '-'")
	ErrDupName    = errors.New("account name already exists")
	ErrBadTxID    = errors.New("a base58 transaction id is required")
	ErrNoTx       = errors.New("transaction not found in ledger")
	ErrBadRequest = errors.New("bad request")
	ErrLedger     = errors.New("ledger client failure")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// SendReq is the payment request data required to submit a payment: sender and destination account names, a decimal
// Kin amount and an optional payment category label.
type SendReq struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Type   string `json:"type"`
}

// statusView is the body of a /status reply.
type statusView struct {
	AppIndex     int      `json:"appIndex"`
	Env          string   `json:"env"`
	Users        []string `json:"users"`
	Transactions []string `json:"transactions"`
}

// paymentView is the public projection of a ledger payment. Key material never appears here.
type paymentView struct {
	Type        string `json:"type"`
	Quarks      int64  `json:"quarks"`
	Sender      string `json:"sender"`
	Destination string `json:"destination"`
}

// txView is the body of a /transaction reply.
type txView struct {
	State    int           `json:"txState"`
	Payments []paymentView `json:"payments"`
}

// validName reports whether the user-chosen account name is a well-formed identifier.
func validName(name string) bool {
	if name == "" || len(name) > maxNameLen {
		return false
	}

	for _, c := range []byte(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}

	return true
}

// resolveSender returns the signing key for the named account. Unknown names resolve to the application signing
// key, so anonymous or external parties transact as the application identity.
func (rl *Relay) resolveSender(name string) (types.PrivateKey, string) {
	a, err := rl.db.GetAccount(name)
	if err != nil {
		return rl.appKey, ""
	}

	return a.PrivateKey, a.Name
}

// resolveDestination returns the first token account registered for the named account. Unknown names resolve to
// the application account, so payments to unregistered recipients accrue to the application rather than failing.
func (rl *Relay) resolveDestination(name string) types.PublicKey {
	a, err := rl.db.GetAccount(name)
	if err != nil || len(a.TokenAccounts) == 0 {
		return rl.appKey.Public()
	}

	return a.TokenAccounts[0]
}

// statusHandler replies the current app index, environment and the known users and transactions.
func (rl *Relay) statusHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	st := statusView{Users: []string{}, Transactions: []string{}}

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(st)
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s status:%+v err:%e\n", r.RemoteAddr, r.RequestURI, st, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("status").Inc()
	}()

	lc := rl.ledger()
	st.AppIndex = lc.AppIndex()
	st.Env = lc.Environment()

	var users []string
	if users, err = rl.db.Accounts(); err != nil {
		return
	}

	st.Users = users

	var txs []string
	if txs, err = rl.db.Transactions(); err != nil {
		return
	}

	st.Transactions = txs
}

// setupHandler reconfigures the ledger environment and app index, swapping the ledger client. Query ?env=Prod
// selects the production ledger, anything else the test ledger.
func (rl *Relay) setupHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	env := ledger.EnvTest

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusCreated)
		}
		// log request
		log.Printf("httpreq from %v %s env:%s err:%e\n", r.RemoteAddr, r.RequestURI, env, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("setup").Inc()
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	if tmp, ok := r.Form["env"]; ok && (tmp[0] == "Prod" || tmp[0] == ledger.EnvProd) {
		env = ledger.EnvProd
	}

	var appIndex int
	if tmp, ok := r.Form["appIndex"]; ok {
		if _, err = fmt.Sscanf(tmp[0], "%d", &appIndex); err != nil {
			err = ErrBadRequest

			return
		}
	}

	err = rl.setLedger(env, appIndex)
}

// accountHandler creates a user account: a fresh keypair is generated, registered on the ledger, its token
// accounts resolved and the tuple saved under the user-chosen name. Creating a name twice yields a conflict.
func (rl *Relay) accountHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var name string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			res.Body = name

			rw.WriteHeader(http.StatusCreated)
		}
		// log request
		log.Printf("httpreq from %v %s name:%s err:%e\n", r.RemoteAddr, r.RequestURI, name, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("account").Inc()
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	if tmp, ok := r.Form["name"]; ok {
		name = tmp[0]
	}

	if !validName(name) {
		err = ErrBadName

		return
	}

	// at most one in-flight mutation per account name
	unlock := rl.locks.lock(name)
	defer unlock()

	if _, errGet := rl.db.GetAccount(name); errGet == nil {
		err = ErrDupName

		return
	}

	var key types.PrivateKey

	if key, err = types.Random(); err != nil {
		return
	}

	lc := rl.ledger()

	if err = lc.CreateAccount(key); err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	var tokenAccounts []types.PublicKey

	if tokenAccounts, err = lc.ResolveTokenAccounts(key.Public()); err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	// no rollback if the on-chain registration succeeded but the local save fails: the inconsistency is logged
	// and surfaced as an error
	if err = rl.db.PutAccount(store.Account{Name: name, PrivateKey: key, TokenAccounts: tokenAccounts}); err != nil {
		if errors.Is(err, store.ErrDupAccount) {
			err = ErrDupName
		}

		return
	}
}

// balanceHandler replies the balance of the user in Kin. Unknown users resolve to the application account, so
// anonymous balance queries report the application balance instead of failing.
func (rl *Relay) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var kin string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			res.Body = kin

			rw.WriteHeader(http.StatusOK)
		}
		// log request
		log.Printf("httpreq from %v %s balance:%s err:%e\n", r.RemoteAddr, r.RequestURI, kin, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("balance").Inc()
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	var user string
	if tmp, ok := r.Form["user"]; ok {
		user = tmp[0]
	}

	account := rl.resolveDestination(user)

	var quarks int64

	if quarks, err = rl.ledger().GetBalance(account); err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	kin = types.QuarksToKin(quarks)
}

// airdropHandler requests the ledger to mint test funds to the destination user. The ledger rejects this outside
// the test environment.
func (rl *Relay) airdropHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var txID string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			res.Body = txID

			rw.WriteHeader(http.StatusOK)
		}
		// log request
		log.Printf("httpreq from %v %s tx:%s err:%e\n", r.RemoteAddr, r.RequestURI, txID, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("airdrop").Inc()
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	var to, amount string

	if tmp, ok := r.Form["to"]; ok {
		to = tmp[0]
	}

	if tmp, ok := r.Form["amount"]; ok {
		amount = tmp[0]
	}

	var quarks int64

	if quarks, err = types.KinToQuarks(amount); err != nil {
		return
	}

	destination := rl.resolveDestination(to)

	var buf []byte

	if buf, err = rl.ledger().RequestAirdrop(destination, quarks); err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	txID = base58.Encode(buf)
	err = rl.db.AddTransaction(txID)
}

// transactionHandler gets the details of the specified transaction from the ledger and replies its public
// projection to the client. A transaction the ledger has no record of is a not-found error, not a crash.
func (rl *Relay) transactionHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	view := txView{Payments: []paymentView{}}

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
			tmp, _ := json.Marshal(view)
			res.Body = string(tmp)
		}
		// log request
		log.Printf("httpreq from %v %s tx:%+v err:%e\n", r.RemoteAddr, r.RequestURI, view, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("transaction").Inc()
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		return
	}

	var id string
	if tmp, ok := r.Form["transaction"]; ok {
		id = tmp[0]
	}

	buf := base58.Decode(id)
	if len(buf) == 0 {
		err = ErrBadTxID

		return
	}

	var tx types.Transaction

	if tx, err = rl.ledger().GetTransaction(buf); err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	if tx.State == types.StateUnknown {
		err = ErrNoTx

		return
	}

	view.State = int(tx.State)
	for _, p := range tx.Payments {
		view.Payments = append(view.Payments, paymentView{
			Type:        p.Type.String(),
			Quarks:      p.Quarks,
			Sender:      p.Sender.Base58(),
			Destination: p.Destination.Base58(),
		})
	}
}

// sendHandler validates a payment request, resolves the sender signing key and the destination token account,
// delegates signing and submission to the ledger client and records the resulting transaction id. An optional
// Idempotency-Key header makes retried requests replay the recorded transaction instead of double-submitting.
func (rl *Relay) sendHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var txID string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(http.StatusBadRequest)
		} else {
			res.Body = txID

			rw.WriteHeader(http.StatusOK)

			paymentsSubmitted.Inc()
		}
		// log request and tx id
		log.Printf("httpreq from %v %s tx:%s err:%e\n", r.RemoteAddr, r.RequestURI, txID, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)

		httpReqs.WithLabelValues("send").Inc()
	}()

	var req SendReq

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding payment request %+v\n", r.Body)

		err = ErrBadRequest

		return
	}

	var pType types.PaymentType

	if pType, err = types.ParseType(req.Type); err != nil {
		return
	}

	var quarks int64

	if quarks, err = types.KinToQuarks(req.Amount); err != nil {
		return
	}

	sender, senderName := rl.resolveSender(req.From)
	destination := rl.resolveDestination(req.To)

	// at most one in-flight payment per sender; the app identity serializes under its own key
	lockKey := senderName
	if lockKey == "" {
		lockKey = "\x00app"
	}

	unlock := rl.locks.lock(lockKey)
	defer unlock()

	// replay a previous submission under the same idempotency key. The lookup runs under the sender lock so a
	// retry that races the original waits for it and finds the record instead of submitting a second payment.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if prev, errIdem := rl.db.GetIdempotency(idemKey); errIdem == nil {
			txID = prev
			log.Printf("Idempotent replay of key %s tx:%s", idemKey, txID)

			return
		}
	}

	var buf []byte

	buf, err = rl.ledger().SubmitPayment(types.Payment{
		Sender:      sender,
		Destination: destination,
		Quarks:      quarks,
		Type:        pType,
	})
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrLedger, err)

		return
	}

	txID = base58.Encode(buf)

	if err = rl.db.AddTransaction(txID); err != nil {
		return
	}

	if idemKey != "" {
		err = rl.db.PutIdempotency(idemKey, txID)
	}
}

// notFoundHandler replies 404 to any unknown path.
func (rl *Relay) notFoundHandler(rw http.ResponseWriter, r *http.Request) {
	log.Printf("httpreq from %v %s not found\n", r.RemoteAddr, r.RequestURI)
	rw.WriteHeader(http.StatusNotFound)
}
