package featurecache

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

const keyPrefix = "features:"

// BadgerOptions configures the Badger cache.
type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
	Logger   *logger.Logger
}

// Badger is a features.Cache backed by BadgerDB. Values are msgpack
// encoded vectors.
type Badger struct {
	db *badger.DB
}

var _ features.Cache = (*Badger)(nil)

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("featurecache: BadgerOptions.Dir is required for on-disk mode")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{opts.Logger.With("badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger cache: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key string) (features.Vector, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return features.Vector{}, false, nil
	}
	if err != nil {
		return features.Vector{}, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	var v features.Vector
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return features.Vector{}, false, fmt.Errorf("decoding cache entry %s: %w", key, err)
	}
	if !valid(v) {
		return features.Vector{}, false, fmt.Errorf("cache entry %s out of range", key)
	}
	return v, true, nil
}

func (b *Badger) Put(_ context.Context, key string, v features.Vector) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), raw)
	})
}

// Count returns the number of cached vectors.
func (b *Badger) Count(context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear drops every cached vector.
func (b *Badger) Clear(context.Context) error {
	return b.db.DropPrefix([]byte(keyPrefix))
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger output through the application logger,
// demoting its info chatter to debug.
type badgerLogger struct{ l *logger.Logger }

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.l.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.l.Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.l.Debugf(f, v...) }
func (b badgerLogger) Debugf(string, ...interface{})       {}
