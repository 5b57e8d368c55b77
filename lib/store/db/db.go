// Package db implements the opening and graceful closing of database connections.
package db

import (
	"github.com/tarancss/kinrelay/lib/store"
	"github.com/tarancss/kinrelay/lib/store/memory"
	"github.com/tarancss/kinrelay/lib/store/mongo"
	"github.com/tarancss/kinrelay/lib/store/postgres"
)

const (
	MEMORY   string = "memory"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MEMORY:
		return memory.New(), nil
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return nil, nil
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case MEMORY:
		return dh.(*memory.Memory).CloseMem()
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
