// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/kinrelay/lib/ledger/types"
	"github.com/tarancss/kinrelay/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoAccount is the persisted form of a store account. The private key is saved as its base58 seed; the database
// holding it must be access-controlled accordingly.
type mongoAccount struct {
	Name          string   `bson:"name"`
	Seed          string   `bson:"seed"`
	TokenAccounts []string `bson:"tokenAccounts"`
}

// Account converts a mongoAccount to store.Account type.
func (a mongoAccount) Account() (store.Account, error) {
	key, err := types.PrivateKeyFromString(a.Seed)
	if err != nil {
		return store.Account{}, fmt.Errorf("corrupt key material for account %s: %w", a.Name, err)
	}

	accounts := make([]types.PublicKey, 0, len(a.TokenAccounts))

	for _, s := range a.TokenAccounts {
		pub, errPub := types.PublicKeyFromString(s)
		if errPub != nil {
			return store.Account{}, fmt.Errorf("corrupt token account for account %s: %w", a.Name, errPub)
		}

		accounts = append(accounts, pub)
	}

	return store.Account{Name: a.Name, PrivateKey: key, TokenAccounts: accounts}, nil
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// PutAccount saves the account if the name is not already registered.
func (m *Mongo) PutAccount(a store.Account) error {
	col := m.c.Database("relay").Collection("accounts")

	// try and find it
	filter := bson.M{"name": a.Name}
	sr := col.FindOne(context.Background(), filter)

	err := sr.Err()
	if err == nil {
		return store.ErrDupAccount
	}

	if !errors.Is(err, mgo.ErrNoDocuments) {
		return fmt.Errorf("could not look up account in db: %w", err)
	}

	tokenAccounts := make([]string, 0, len(a.TokenAccounts))
	for _, pub := range a.TokenAccounts {
		tokenAccounts = append(tokenAccounts, pub.Base58())
	}

	_, err = col.InsertOne(context.Background(), mongoAccount{
		Name:          a.Name,
		Seed:          a.PrivateKey.Base58(),
		TokenAccounts: tokenAccounts,
	})
	if err != nil {
		return fmt.Errorf("could not insert account in db: %w", err)
	}

	return nil
}

// GetAccount returns the account registered under name.
func (m *Mongo) GetAccount(name string) (store.Account, error) {
	col := m.c.Database("relay").Collection("accounts")

	var ma mongoAccount

	err := col.FindOne(context.Background(), bson.M{"name": name}).Decode(&ma)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Account{}, store.ErrAccountNotFound
	}

	if err != nil {
		return store.Account{}, fmt.Errorf("error getting account from db: %w", err)
	}

	return ma.Account()
}

// Accounts returns the registered account names in registration order.
func (m *Mongo) Accounts() ([]string, error) {
	col := m.c.Database("relay").Collection("accounts")

	cur, err := col.Find(context.Background(), bson.D{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("error getting accounts from db: %w", err)
	}
	defer cur.Close(context.Background())

	names := []string{}

	for cur.Next(context.Background()) {
		var ma mongoAccount
		if err = cur.Decode(&ma); err != nil {
			return nil, fmt.Errorf("error decoding account from db: %w", err)
		}

		names = append(names, ma.Name)
	}

	return names, cur.Err()
}

// AddTransaction appends the transaction id to the ledger cache.
func (m *Mongo) AddTransaction(txID string) error {
	col := m.c.Database("relay").Collection("transactions")

	if _, err := col.InsertOne(context.Background(), bson.M{"tx": txID, "at": time.Now()}); err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}

	return nil
}

// Transactions returns the recorded transaction ids in submission order.
func (m *Mongo) Transactions() ([]string, error) {
	col := m.c.Database("relay").Collection("transactions")

	cur, err := col.Find(context.Background(), bson.D{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("error getting transactions from db: %w", err)
	}
	defer cur.Close(context.Background())

	txs := []string{}

	for cur.Next(context.Background()) {
		txs = append(txs, cur.Current.Lookup("tx").StringValue())
	}

	return txs, cur.Err()
}

// PutIdempotency records the transaction id submitted under the idempotency key. The first record wins; replays
// keep the original transaction id.
func (m *Mongo) PutIdempotency(key, txID string) error {
	col := m.c.Database("relay").Collection("idempotency")

	sr := col.FindOne(context.Background(), bson.M{"key": key})
	if sr.Err() == nil {
		return nil
	}

	if !errors.Is(sr.Err(), mgo.ErrNoDocuments) {
		return fmt.Errorf("could not look up idempotency key in db: %w", sr.Err())
	}

	if _, err := col.InsertOne(context.Background(), bson.M{"key": key, "tx": txID}); err != nil {
		return fmt.Errorf("could not insert idempotency key in db: %w", err)
	}

	return nil
}

// GetIdempotency returns the transaction id previously recorded under the idempotency key.
func (m *Mongo) GetIdempotency(key string) (string, error) {
	col := m.c.Database("relay").Collection("idempotency")

	sr := col.FindOne(context.Background(), bson.M{"key": key})
	if errors.Is(sr.Err(), mgo.ErrNoDocuments) {
		return "", store.ErrDataNotFound
	}

	if sr.Err() != nil {
		return "", fmt.Errorf("error getting idempotency key from db: %w", sr.Err())
	}

	raw, err := sr.DecodeBytes()
	if err != nil {
		return "", fmt.Errorf("error decoding idempotency record from db: %w", err)
	}

	return raw.Lookup("tx").StringValue(), nil
}
