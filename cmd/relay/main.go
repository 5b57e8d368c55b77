// Package main: payment relay service.
//
// Warning: with the default "memory" database the relay keeps its account registry and transaction cache in
// process memory only; everything is lost on restart. Point dbtype/dbconn at a MongoDB or PostgreSQL instance for
// durable bookkeeping.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarancss/kinrelay/lib/config"
	"github.com/tarancss/kinrelay/lib/ledger"
	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/msg"
	"github.com/tarancss/kinrelay/lib/msg/amqp"
	"github.com/tarancss/kinrelay/lib/store"
	"github.com/tarancss/kinrelay/lib/store/db"
	"github.com/tarancss/kinrelay/relay"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	// refuse to start without the app signing key or the webhook secret
	if err = conf.Validate(); err != nil {
		panic(err)
	}

	log.Printf("Configuration: db:%s endpoint:%s:%s ledger:%+v", conf.DBType, conf.RestfulEndpoint, conf.Port, conf.Ledger)

	// load the app signing identity
	appKey, err := types.PrivateKeyFromString(conf.SecretKey)
	if err != nil {
		panic(err)
	}

	log.Printf("App identity: %s", appKey.Public().Base58())

	// connect to database
	var dbConn store.DB

	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	log.Printf("Connected to %s database", conf.DBType)

	// load the ledger client
	lc, err := ledger.Init(conf.Ledger)
	if err != nil {
		panic(err)
	}

	log.Print("Ledger client loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.EventBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Printf("Unknown message broker type: %s, event fan-out disabled\n", conf.MbType)
	}

	// create relay service; the rule policy is the production default, never ApproveAll
	rl := relay.New(conf.DBType, dbConn, mb, lc, conf.Ledger, appKey, conf.WebhookSecret,
		relay.RulePolicy{MaxQuarks: 1000 * types.QuarksPerKin})

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		rl.Stop()
		close(finish)
	}()

	// manage ledger events
	if err := rl.ManageEvents(); err != nil {
		log.Printf("Error setting up broker readers for events:%e", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Relay: %s\n", rl.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
