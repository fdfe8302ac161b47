// Package database owns the shared relational store connection. The snapshot
// tables (exchanges, exchange_status, markets, currency_fiat_prices) are the
// consistency authority for the whole system; everything else is derived.
package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	// Registers the postgres driver the instance connects through.
	_ "github.com/lib/pq"
)

var (
	// ErrNilInstance is returned when methods are called on a nil instance
	ErrNilInstance = errors.New("database instance is nil")
	// ErrNoConnection is returned when no SQL connection has been established
	ErrNoConnection = errors.New("database connection not established")
	// ErrEmptyDSN is returned when connecting without a connection string
	ErrEmptyDSN = errors.New("database DSN is empty")

	// MigrationDir which folder to look in for current migrations
	MigrationDir = filepath.Join("database", "migrations")
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = time.Hour
)

// Instance wraps the shared sqlx connection with basic locks and checks
type Instance struct {
	m         sync.RWMutex
	SQL       *sqlx.DB
	connected bool
}

// Connect opens a postgres connection for dsn, verifies it with a ping and
// returns the wrapped instance
func Connect(dsn string) (*Instance, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	return &Instance{SQL: db, connected: true}, nil
}

// Ping checks the SQL connection is alive
func (i *Instance) Ping(ctx context.Context) error {
	if i == nil {
		return ErrNilInstance
	}
	i.m.RLock()
	defer i.m.RUnlock()
	if i.SQL == nil {
		return ErrNoConnection
	}
	return i.SQL.PingContext(ctx)
}

// IsConnected safely checks the SQL connection status
func (i *Instance) IsConnected() bool {
	if i == nil {
		return false
	}
	i.m.RLock()
	defer i.m.RUnlock()
	return i.connected
}

// CloseConnection safely disconnects the instance
func (i *Instance) CloseConnection() error {
	if i == nil {
		return ErrNilInstance
	}
	i.m.Lock()
	defer i.m.Unlock()
	if i.SQL == nil {
		return ErrNoConnection
	}
	i.connected = false
	return i.SQL.Close()
}
