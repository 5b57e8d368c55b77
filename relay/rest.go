package relay

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for the relay service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (rl *Relay) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/status", rl.statusHandler).Methods("GET")           // report config, users and transactions
	r.HandleFunc("/setup", rl.setupHandler).Methods("POST")            // reconfigure ledger environment
	r.HandleFunc("/account", rl.accountHandler).Methods("POST")        // create account
	r.HandleFunc("/balance", rl.balanceHandler).Methods("GET")         // get balance in Kin
	r.HandleFunc("/airdrop", rl.airdropHandler).Methods("POST")        // request test funds
	r.HandleFunc("/transaction", rl.transactionHandler).Methods("GET") // get transaction details
	r.HandleFunc("/send", rl.sendHandler).Methods("POST")              // submit a payment
	r.HandleFunc("/events", rl.withWebhookSecret(rl.eventsHandler))         // webhook: ledger event batch
	r.HandleFunc("/sign_transaction", rl.withWebhookSecret(rl.signHandler)) // webhook: signing approval
	r.NotFoundHandler = http.HandlerFunc(rl.notFoundHandler)
	http.Handle("/", r)

	// setup shutdown channel
	rl.sc = make(chan struct{})

	// start http server
	if port != "" {
		rl.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = rl.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		rl.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = rl.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-rl.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
