// Package msg defines the interface for different message brokers.
//
// The relay publishes ledger events received on its webhook to the broker so that application back-ends can react
// to them without polling the relay.
package msg

import (
	"sync"

	"github.com/tarancss/kinrelay/lib/ledger/types"
)

// EventBroker is the interface message broker implementations must satisfy.
type EventBroker interface {
	Setup(interface{}) error
	Close() error

	// SendEvents publishes ledger events for the given environment.
	SendEvents(env string, events []types.Event) error
	// GetEvents consumes ledger events for the given environment. The mutex is unlocked by the consumer when an
	// event has been fully dealt with, so the message is only acknowledged then.
	GetEvents(env string, mut *sync.Mutex) (<-chan types.Event, <-chan error, error)
}
