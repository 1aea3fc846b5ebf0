// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package pgvector implements the chunk store and query service on
// PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/sync/singleflight"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Pool defaults, overridable through PoolConfig.
const (
	defaultMinConns       = 5
	defaultMaxConns       = 20
	defaultMaxConnIdle    = 30 * time.Second
	defaultConnectTimeout = 2 * time.Second
)

// PoolConfig tunes the shared connection pool for one connection string.
// Zero values take the defaults above.
type PoolConfig struct {
	MinConns       int32
	MaxConns       int32
	MaxConnIdle    time.Duration
	ConnectTimeout time.Duration
}

// sharedPool is one reference-counted pgx pool plus its registration state.
type sharedPool struct {
	pool       *pgxpool.Pool
	refs       int
	registered bool
}

// pools shares one pgxpool per connection string across every store and
// query service in the process. Vector type registration runs once per
// pool, single-flighted; a failed registration clears the in-flight guard
// so the next caller retries.
var pools = struct {
	mu       sync.Mutex
	byConn   map[string]*sharedPool
	inFlight singleflight.Group
}{
	byConn: make(map[string]*sharedPool),
}

// acquirePool returns the shared pool for connString, creating it on first
// use. Every acquire must be paired with a releasePool.
func acquirePool(ctx context.Context, connString string, cfg PoolConfig) (*pgxpool.Pool, error) {
	pools.mu.Lock()
	defer pools.mu.Unlock()

	if entry, ok := pools.byConn[connString]; ok {
		entry.refs++
		return entry.pool, nil
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "parsing connection string")
	}

	poolCfg.MinConns = defaultMinConns
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnIdleTime = defaultMaxConnIdle
	if cfg.MaxConnIdle > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	}
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	// Every new connection binds the vector oid before it is handed out;
	// ensureRegistered below verifies the extension is actually installed
	// before the first statement runs.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeStoreConnectionFailure, "creating connection pool")
	}

	pools.byConn[connString] = &sharedPool{pool: pool, refs: 1}
	return pool, nil
}

// releasePool drops one reference; the last reference closes the pool.
func releasePool(connString string) {
	pools.mu.Lock()
	defer pools.mu.Unlock()

	entry, ok := pools.byConn[connString]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(pools.byConn, connString)
	entry.pool.Close()
}

// ensureRegistered warms the pool once per connection string: the first
// caller acquires a connection (running the vector type binding), and
// concurrent callers await the same completion. A failure is returned to
// every waiter and forgotten, allowing a later retry.
func ensureRegistered(ctx context.Context, connString string, pool *pgxpool.Pool) error {
	pools.mu.Lock()
	entry, ok := pools.byConn[connString]
	done := ok && entry.registered
	pools.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := pools.inFlight.Do(connString, func() (any, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, raglineerr.Wrapf(err, raglineerr.CodeStoreConnectionFailure, "registering vector type")
		}
		conn.Release()

		pools.mu.Lock()
		if entry, ok := pools.byConn[connString]; ok {
			entry.registered = true
		}
		pools.mu.Unlock()
		return nil, nil
	})
	return err
}
