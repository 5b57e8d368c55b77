package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tarancss/kinrelay/lib/config"
	"github.com/tarancss/kinrelay/lib/ledger"
	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/store/db"
	"github.com/tarancss/kinrelay/lib/store/memory"
)

const (
	testPort   = "3010"
	testSecret = "hush"
	baseURL    = "http://localhost:" + testPort
)

var (
	startOnce sync.Once
	testRelay *Relay
)

// startTestServer brings up one relay over the embedded test ledger and an in-memory store, shared by all tests in
// the package. No message broker is connected; event fan-out is simply skipped.
func startTestServer() *Relay {
	startOnce.Do(func() {
		appKey, err := types.Random()
		if err != nil {
			panic(err)
		}

		cfg := config.LedgerConfig{Env: ledger.EnvTest, AppIndex: 1}

		lc, err := ledger.Init(cfg)
		if err != nil {
			panic(err)
		}

		testRelay = New(db.MEMORY, memory.New(), nil, lc, cfg, appKey, testSecret, ApproveAll{})

		go testRelay.Init("", testPort, "", "", "")
		time.Sleep(200 * time.Millisecond) // let the server come up
	})

	return testRelay
}

func TestAPI(t *testing.T) {
	rl := startTestServer()

	// reconfigure the ledger before any account exists
	s, _, e, err := makeRequest(http.MethodPost, baseURL+"/setup?env=Test&appIndex=5", nil, nil)
	if err != nil || s != http.StatusCreated || e != "" {
		t.Fatalf("[setup] status:%d err:%v apierr:%s", s, err, e)
	}

	// define request tests
	cases := []struct {
		name, method, uri string      // case name, http method to use and uri
		obj               interface{} // object for POST
		status            int         // http status code expected
		wantErr           bool        // whether an API error is expected
	}{
		{"status_1", http.MethodGet, baseURL + "/status", nil, http.StatusOK, false},
		{"account_1", http.MethodPost, baseURL + "/account?name=alice", nil, http.StatusCreated, false},
		{"account_2", http.MethodPost, baseURL + "/account?name=alice", nil, http.StatusBadRequest, true}, // duplicate name conflicts
		{"account_3", http.MethodPost, baseURL + "/account?name=bad%20name", nil, http.StatusBadRequest, true},
		{"account_4", http.MethodPost, baseURL + "/account", nil, http.StatusBadRequest, true},
		{"balance_1", http.MethodGet, baseURL + "/balance?user=alice", nil, http.StatusOK, false},
		{"balance_2", http.MethodGet, baseURL + "/balance", nil, http.StatusOK, false},            // app account
		{"balance_3", http.MethodGet, baseURL + "/balance?user=nobody", nil, http.StatusOK, false}, // falls back to app account
		{"airdrop_1", http.MethodPost, baseURL + "/airdrop?to=alice&amount=bogus", nil, http.StatusBadRequest, true},
		{"send_1", http.MethodPost, baseURL + "/send", SendReq{From: "alice", To: "bob", Amount: "1", Type: "Bogus"}, http.StatusBadRequest, true}, // unknown type is rejected
		{"send_2", http.MethodPost, baseURL + "/send", SendReq{From: "alice", To: "bob", Amount: "x"}, http.StatusBadRequest, true},
		{"tx_1", http.MethodGet, baseURL + "/transaction?transaction=0OIl", nil, http.StatusBadRequest, true}, // not base58
		{"tx_2", http.MethodGet, baseURL + "/transaction?transaction=zzzz", nil, http.StatusBadRequest, true}, // ledger has no record
		{"notfound_1", http.MethodGet, baseURL + "/nosuchpath", nil, http.StatusNotFound, false},
		{"badmethod_1", http.MethodPut, baseURL + "/account?name=zoe", nil, http.StatusMethodNotAllowed, false},
	}

	// run request tests
	for _, c := range cases {
		s, _, e, err := makeRequest(c.method, c.uri, c.obj, nil)
		if err != nil {
			t.Errorf("[%s] Error in request:%v", c.name, err)
		} else if s != c.status {
			t.Errorf("[%s] Error in StatusCode:%d expected:%d apierr:%s", c.name, s, c.status, e)
		} else if (e != "") != c.wantErr {
			t.Errorf("[%s] Error in response error:%q wantErr:%v", c.name, e, c.wantErr)
		}
	}

	// scenario: airdrop 10 Kin to alice, check balances, pay 4 Kin to unregistered bob and inspect the recorded
	// transaction
	s, txID, e, err := makeRequest(http.MethodPost, baseURL+"/airdrop?to=alice&amount=10", nil, nil)
	if err != nil || s != http.StatusOK || txID == "" {
		t.Fatalf("[airdrop] status:%d tx:%s err:%v apierr:%s", s, txID, err, e)
	}

	checkBalance(t, "alice", "10")

	s, txID, e, err = makeRequest(http.MethodPost, baseURL+"/send",
		SendReq{From: "alice", To: "bob", Amount: "4", Type: "P2P"}, nil)
	if err != nil || s != http.StatusOK || txID == "" {
		t.Fatalf("[send] status:%d tx:%s err:%v apierr:%s", s, txID, err, e)
	}

	checkBalance(t, "alice", "6")
	checkBalance(t, "", "4") // bob is unregistered, so the payment accrued to the app account

	// inspect the transaction projection
	s, b, e, err := makeRequest(http.MethodGet, baseURL+"/transaction?transaction="+txID, nil, nil)
	if err != nil || s != http.StatusOK || e != "" {
		t.Fatalf("[tx] status:%d err:%v apierr:%s", s, err, e)
	}

	var view txView
	if err = json.Unmarshal([]byte(b), &view); err != nil {
		t.Fatalf("[tx] Error unmarshaling body:%s error:%s", b, err)
	}

	alice, err := rl.db.GetAccount("alice")
	if err != nil {
		t.Fatalf("[tx] alice not in registry:%v", err)
	}

	if view.State != int(types.StateSuccess) || len(view.Payments) != 1 {
		t.Fatalf("[tx] unexpected view:%+v", view)
	}

	p := view.Payments[0]
	if p.Quarks != 400000 || p.Type != "P2P" ||
		p.Sender != alice.TokenAccounts[0].Base58() ||
		p.Destination != rl.appKey.Public().Base58() {
		t.Errorf("[tx] unexpected payment projection:%+v", p)
	}

	// the transaction cache lists both submissions in order
	s, b, e, err = makeRequest(http.MethodGet, baseURL+"/status", nil, nil)
	if err != nil || s != http.StatusOK || e != "" {
		t.Fatalf("[status] status:%d err:%v apierr:%s", s, err, e)
	}

	var st statusView
	if err = json.Unmarshal([]byte(b), &st); err != nil {
		t.Fatalf("[status] Error unmarshaling body:%s error:%s", b, err)
	}

	if st.AppIndex != 5 || st.Env != ledger.EnvTest {
		t.Errorf("[status] unexpected config:%+v", st)
	}

	if len(st.Users) == 0 || st.Users[0] != "alice" {
		t.Errorf("[status] unexpected users:%v", st.Users)
	}

	if len(st.Transactions) != 2 || st.Transactions[1] != txID {
		t.Errorf("[status] unexpected transactions:%v", st.Transactions)
	}
}

// TestConcurrentSend submits two payments from the same sender whose amounts together exceed the balance: exactly
// one must succeed.
func TestConcurrentSend(t *testing.T) {
	startTestServer()

	s, _, e, err := makeRequest(http.MethodPost, baseURL+"/account?name=carol", nil, nil)
	if err != nil || s != http.StatusCreated {
		t.Fatalf("[account] status:%d err:%v apierr:%s", s, err, e)
	}

	if s, _, e, err = makeRequest(http.MethodPost, baseURL+"/airdrop?to=carol&amount=10", nil, nil); err != nil || s != http.StatusOK {
		t.Fatalf("[airdrop] status:%d err:%v apierr:%s", s, err, e)
	}

	var wg sync.WaitGroup

	var mu sync.Mutex

	var oks, fails int

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s, _, _, err := makeRequest(http.MethodPost, baseURL+"/send",
				SendReq{From: "carol", To: "dave", Amount: "7", Type: "Spend"}, nil)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil && s == http.StatusOK:
				oks++
			case err == nil && s == http.StatusBadRequest:
				fails++
			}
		}()
	}

	wg.Wait()

	if oks != 1 || fails != 1 {
		t.Errorf("expected exactly one success and one clean failure, got ok:%d fail:%d", oks, fails)
	}

	checkBalance(t, "carol", "3")
}

// TestIdempotentSend retries a payment under the same idempotency key: the recorded transaction is replayed and
// the sender is only debited once.
func TestIdempotentSend(t *testing.T) {
	startTestServer()

	if s, _, e, err := makeRequest(http.MethodPost, baseURL+"/account?name=erin", nil, nil); err != nil || s != http.StatusCreated {
		t.Fatalf("[account] status:%d err:%v apierr:%s", s, err, e)
	}

	if s, _, e, err := makeRequest(http.MethodPost, baseURL+"/airdrop?to=erin&amount=10", nil, nil); err != nil || s != http.StatusOK {
		t.Fatalf("[airdrop] status:%d err:%v apierr:%s", s, err, e)
	}

	hdr := map[string]string{"Idempotency-Key": uuid.NewString()}
	req := SendReq{From: "erin", To: "frank", Amount: "2", Type: "Earn"}

	s, first, e, err := makeRequest(http.MethodPost, baseURL+"/send", req, hdr)
	if err != nil || s != http.StatusOK || first == "" {
		t.Fatalf("[send] status:%d tx:%s err:%v apierr:%s", s, first, err, e)
	}

	s, second, e, err := makeRequest(http.MethodPost, baseURL+"/send", req, hdr)
	if err != nil || s != http.StatusOK {
		t.Fatalf("[resend] status:%d err:%v apierr:%s", s, err, e)
	}

	if second != first {
		t.Errorf("expected replay of tx %s, got %s", first, second)
	}

	checkBalance(t, "erin", "8")
}

// TestConcurrentIdempotentSend retries a payment under the same idempotency key while the original is still in
// flight: both requests must report the same transaction and the sender is only debited once.
func TestConcurrentIdempotentSend(t *testing.T) {
	startTestServer()

	if s, _, e, err := makeRequest(http.MethodPost, baseURL+"/account?name=grace", nil, nil); err != nil || s != http.StatusCreated {
		t.Fatalf("[account] status:%d err:%v apierr:%s", s, err, e)
	}

	if s, _, e, err := makeRequest(http.MethodPost, baseURL+"/airdrop?to=grace&amount=10", nil, nil); err != nil || s != http.StatusOK {
		t.Fatalf("[airdrop] status:%d err:%v apierr:%s", s, err, e)
	}

	hdr := map[string]string{"Idempotency-Key": uuid.NewString()}
	req := SendReq{From: "grace", To: "heidi", Amount: "1", Type: "Spend"}

	var wg sync.WaitGroup

	var mu sync.Mutex

	txs := map[string]int{}

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s, tx, e, err := makeRequest(http.MethodPost, baseURL+"/send", req, hdr)
			if err != nil || s != http.StatusOK || tx == "" {
				t.Errorf("[send] status:%d tx:%s err:%v apierr:%s", s, tx, err, e)

				return
			}

			mu.Lock()
			txs[tx]++
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(txs) != 1 {
		t.Errorf("expected both requests to report the same transaction, got %v", txs)
	}

	checkBalance(t, "grace", "9")
}

// checkBalance asserts the /balance reply for user. An empty user queries the app account.
func checkBalance(t *testing.T, user, want string) {
	t.Helper()

	uri := baseURL + "/balance"
	if user != "" {
		uri += "?user=" + user
	}

	s, b, e, err := makeRequest(http.MethodGet, uri, nil, nil)
	if err != nil || s != http.StatusOK || e != "" {
		t.Fatalf("[balance %s] status:%d err:%v apierr:%s", user, s, err, e)
	}

	if b != want {
		t.Errorf("[balance %s] got %s expected %s", user, b, want)
	}
}

// makeRequest places a http request on uri. Depending on method it will include obj in the request (ie. for POST)
// and hdr as extra headers. Returns the status code, the body and error fields of the received JSON response.
func makeRequest(method, uri string, obj interface{}, hdr map[string]string) (s int, b, e string, err error) {
	var body *bytes.Buffer = bytes.NewBuffer(nil)

	if obj != nil {
		var pl []byte
		if pl, err = json.Marshal(obj); err != nil {
			return
		}

		body = bytes.NewBuffer(pl)
	}

	var req *http.Request

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		if req, err = http.NewRequest(method, uri, body); err != nil {
			return
		}
	default:
		err = errors.New("Method not found!!")
		return
	}

	req.Header.Set("Content-Type", "application/json;charset=utf8")

	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	var resp *http.Response

	client := &http.Client{}
	if resp, err = client.Do(req); err != nil {
		return
	}
	defer resp.Body.Close()

	s = resp.StatusCode

	var v struct {
		B string `json:"body"`
		E string `json:"error"`
	}

	if resp.ContentLength > 0 {
		if err = json.NewDecoder(resp.Body).Decode(&v); err != nil {
			err = fmt.Errorf("decoding response: %w", err)
			return
		}
	}

	return s, v.B, v.E, err
}
