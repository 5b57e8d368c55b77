// Package kinrelay and its sub-packages implement a minimal custodial payment relay over an external Kin-style
// ledger.
/*
kinrelay provides a single microservice (package relay) that exposes an HTTP RESTful API to create custodial
accounts, check balances, request test-network airdrops, submit payments and look up transaction details. All
cryptographic signing, transaction construction and ledger communication are delegated to the ledger client layer
(package lib/ledger); the relay itself contributes request parsing, bookkeeping and response formatting.

Architecture

The ledger client layer (package lib/ledger) defines a narrow capability interface: create account, resolve token
accounts, get balance, request airdrop, submit payment, get transaction. Two implementations are provided: an
embedded in-process test ledger (package lib/ledger/memledger) and an HTTP client to a remote ledger gateway node
(package lib/ledger/agora). The service connects to the ledger indicated in the JSON config file provided at
startup and can be repointed at runtime through the /setup endpoint.

Bookkeeping is layered behind a database product agnostic interface (package lib/store): the account registry maps
user-chosen names to keypairs and resolved token accounts, and the transaction cache records submitted transaction
identifiers in submission order. In-memory, MongoDB and PostgreSQL implementations are provided; the registry is
the only owner of private key material.

The relay also acts as a webhook gateway for the ledger infrastructure. Inbound event batches and signing requests
are authenticated with a shared secret; events are fanned out to a message broker (package lib/msg) so application
back-ends can react to them, and signing requests are decided by an injectable approval policy. The always-approve
policy exists for tests only; the production default applies explicit rules.

The relay can be monitored via a Prometheus API by setting the flag "-m" at startup.

Relay

The relay microservice can be started running cmd/relay/main.go. Configuration comes from a JSON file (see
cmd/conf.json for a sample) overridable with RELAY_* OS ENV variables; the service refuses to start without the
app signing key and the webhook shared secret.
*/
package kinrelay
