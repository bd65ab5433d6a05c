// Package datastore opens the named connections records are read from and
// cloned into.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/cloner"
	"github.com/conduit-lang/cloner/internal/orm/crud"
	"github.com/conduit-lang/cloner/internal/orm/dialect"
	"github.com/conduit-lang/cloner/internal/orm/memstore"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
	"github.com/conduit-lang/cloner/internal/orm/transaction"
)

// DriverMemory keeps the datastore in process memory
const DriverMemory = "memory"

var (
	// ErrUnknownDatastore is returned for a datastore name that was not opened
	ErrUnknownDatastore = errors.New("unknown datastore")

	// ErrNotTransactional is returned when a transaction is requested on a
	// datastore without one
	ErrNotTransactional = errors.New("datastore does not support transactions")
)

// Config describes one named connection
type Config struct {
	Driver string
	DSN    string
}

// Datastores holds every opened datastore
type Datastores struct {
	defaultName string
	registry    *schema.Registry
	logger      *zap.Logger

	dbs    map[string]*sql.DB
	sql    map[string]*crud.Store
	memory map[string]*memstore.Store
}

// Open opens and pings every configured datastore. defaultName must be one
// of them.
func Open(ctx context.Context, configs map[string]Config, defaultName string, registry *schema.Registry, logger *zap.Logger) (*Datastores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := configs[defaultName]; !ok {
		return nil, fmt.Errorf("%w: default %q is not configured", ErrUnknownDatastore, defaultName)
	}

	d := &Datastores{
		defaultName: defaultName,
		registry:    registry,
		logger:      logger,
		dbs:         make(map[string]*sql.DB),
		sql:         make(map[string]*crud.Store),
		memory:      make(map[string]*memstore.Store),
	}

	for _, name := range sortedNames(configs) {
		cfg := configs[name]
		if err := d.open(ctx, name, cfg); err != nil {
			d.Close()
			return nil, err
		}
		logger.Debug("datastore opened", zap.String("name", name), zap.String("driver", cfg.Driver))
	}

	return d, nil
}

func (d *Datastores) open(ctx context.Context, name string, cfg Config) error {
	if cfg.Driver == DriverMemory {
		d.memory[name] = memstore.New(name, d.registry)
		return nil
	}

	dia, err := dialect.ForDriver(cfg.Driver)
	if err != nil {
		return fmt.Errorf("datastore %s: %w", name, err)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open datastore %s: %w", name, err)
	}
	if cfg.Driver == "sqlite3" {
		// SQLite allows one writer; :memory: databases are per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to datastore %s: %w", name, err)
	}

	d.dbs[name] = db
	d.sql[name] = crud.New(name, db, dia, d.registry)
	return nil
}

// Default returns the name of the default datastore
func (d *Datastores) Default() string {
	return d.defaultName
}

// Names returns the sorted datastore names
func (d *Datastores) Names() []string {
	names := make([]string, 0, len(d.sql)+len(d.memory))
	for name := range d.sql {
		names = append(names, name)
	}
	for name := range d.memory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a datastore is open
func (d *Datastores) Has(name string) bool {
	_, err := d.store(name)
	return err == nil
}

// Options registers every datastore with an engine
func (d *Datastores) Options() []cloner.Option {
	opts := []cloner.Option{cloner.WithDefaultDatastore(d.defaultName)}
	for name, store := range d.sql {
		opts = append(opts, cloner.WithStore(name, store))
	}
	for name, store := range d.memory {
		opts = append(opts, cloner.WithStore(name, store))
	}
	return opts
}

// Memory returns an in-memory datastore
func (d *Datastores) Memory(name string) (*memstore.Store, bool) {
	store, ok := d.memory[d.resolve(name)]
	return store, ok
}

// DB returns the connection pool of an SQL datastore
func (d *Datastores) DB(name string) (*sql.DB, bool) {
	db, ok := d.dbs[d.resolve(name)]
	return db, ok
}

// Find loads a record by resource name and primary key
func (d *Datastores) Find(ctx context.Context, datastore, resource string, id interface{}) (*record.Record, error) {
	res, err := d.registry.Lookup(resource)
	if err != nil {
		return nil, err
	}

	name := d.resolve(datastore)
	if store, ok := d.sql[name]; ok {
		return store.Find(ctx, res, id)
	}
	if store, ok := d.memory[name]; ok {
		return store.Find(ctx, res, id)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDatastore, name)
}

// WithinTransaction runs fn with a copy of engine whose store for datastore
// writes through one transaction. The transaction commits when fn succeeds
// and is retried on deadlocks according to retry.
func (d *Datastores) WithinTransaction(
	ctx context.Context,
	engine *cloner.Engine,
	datastore string,
	retry *transaction.RetryConfig,
	fn func(ctx context.Context, engine *cloner.Engine) error,
) error {
	name := d.resolve(datastore)
	store, ok := d.sql[name]
	if !ok {
		if _, mem := d.memory[name]; mem {
			return fmt.Errorf("%w: %s", ErrNotTransactional, name)
		}
		return fmt.Errorf("%w: %q", ErrUnknownDatastore, name)
	}

	mgr := transaction.NewManager(d.dbs[name], transaction.WithLogger(d.logger))
	return mgr.WithRetry(ctx, retry, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, engine.Derive(cloner.WithStore(name, store.WithTx(tx))))
	})
}

// Ping checks every SQL datastore is reachable
func (d *Datastores) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range d.Names() {
		db, ok := d.dbs[name]
		if !ok {
			continue
		}
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("datastore %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every SQL connection pool
func (d *Datastores) Close() error {
	var errs []error
	for name, db := range d.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datastore %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Datastores) resolve(name string) string {
	if name == "" {
		return d.defaultName
	}
	return name
}

func (d *Datastores) store(name string) (cloner.Store, error) {
	name = d.resolve(name)
	if store, ok := d.sql[name]; ok {
		return store, nil
	}
	if store, ok := d.memory[name]; ok {
		return store, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDatastore, name)
}

func sortedNames(configs map[string]Config) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
