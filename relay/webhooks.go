package relay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/tarancss/kinrelay/lib/ledger/types"
)

// ErrBadSignature is returned when a webhook carries a missing or wrong signature.
var ErrBadSignature = errors.New("webhook signature verification failed")

// SignPayment is the public projection of a payment inside a signing request.
type SignPayment struct {
	Sender      string `json:"sender"`
	Destination string `json:"destination"`
	Quarks      int64  `json:"quarks"`
	Type        string `json:"type"`
}

// SignRequest is an inbound signing approval request from the ledger infrastructure: the base64 transaction
// envelope to sign and the payments it contains.
type SignRequest struct {
	Envelope string        `json:"envelope"`
	Payments []SignPayment `json:"payments"`
}

// signResponse is the reply to a signing request: a base64 signature on approval, or a rejection marker.
type signResponse struct {
	Signature string `json:"signature,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
}

// withWebhookSecret guards a webhook handler with the shared-secret check: the X-Webhook-Signature header must
// carry the base64 HMAC-SHA256 of the raw request body keyed by the configured secret. The handler body never runs
// for requests that fail the check.
func (rl *Relay) withWebhookSecret(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)

			return
		}

		mac := hmac.New(sha256.New, []byte(rl.whSecret))
		mac.Write(body)
		want := mac.Sum(nil)

		got, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Webhook-Signature"))
		if err != nil || !hmac.Equal(want, got) {
			log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, ErrBadSignature)
			rw.WriteHeader(http.StatusUnauthorized)

			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		h(rw, r)
	}
}

// eventsHandler receives a batch of ledger event notifications. Events are logged and fanned out to the message
// broker; application back-ends consume them from there.
func (rl *Relay) eventsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	defer func() {
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
		} else {
			rw.WriteHeader(http.StatusOK)
		}

		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)

		httpReqs.WithLabelValues("events").Inc()
	}()

	var events []types.Event

	if err = json.NewDecoder(r.Body).Decode(&events); err != nil {
		log.Printf("Error decoding event batch %+v\n", r.Body)

		return
	}

	env := rl.ledger().Environment()

	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}

		log.Printf("[%s] Ledger event %+v", env, events[i])
	}

	if rl.mb != nil {
		err = rl.mb.SendEvents(env, events)
	}
}

// signHandler decides whether to sign a transaction with the application key. The decision is delegated to the
// configured SignPolicy; an approval replies the signature over the envelope, a rejection replies 403.
func (rl *Relay) signHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var req SignRequest

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding sign request %+v\n", r.Body)
		rw.WriteHeader(http.StatusBadRequest)

		return
	}

	envelope, err := base64.StdEncoding.DecodeString(req.Envelope)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)

		return
	}

	rw.Header().Set("Content-Type", "application/json;charset=utf8")

	if err = rl.policy.Evaluate(req); err != nil {
		log.Printf("httpreq from %v %s sign rejected:%e\n", r.RemoteAddr, r.RequestURI, err)
		rw.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(rw).Encode(&signResponse{Rejected: true})

		webhookDecisions.WithLabelValues("reject").Inc()

		return
	}

	sig := rl.appKey.Sign(envelope)

	log.Printf("httpreq from %v %s sign approved\n", r.RemoteAddr, r.RequestURI)
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(&signResponse{Signature: base64.StdEncoding.EncodeToString(sig)})

	webhookDecisions.WithLabelValues("approve").Inc()
}
