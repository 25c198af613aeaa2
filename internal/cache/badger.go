package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BadgerBackend stores entries in an embedded Badger key-value store under
// keys of the form "<ns>/<key>".
type BadgerBackend struct {
	db *badger.DB
}

type zapBadgerLogger struct {
	log *zap.SugaredLogger
}

var _ badger.Logger = (*zapBadgerLogger)(nil)

func (l *zapBadgerLogger) Errorf(msg string, args ...any)   { l.log.Errorf(msg, args...) }
func (l *zapBadgerLogger) Warningf(msg string, args ...any) { l.log.Warnf(msg, args...) }
func (l *zapBadgerLogger) Infof(msg string, args ...any)    { l.log.Debugf(msg, args...) }
func (l *zapBadgerLogger) Debugf(msg string, args ...any)   { l.log.Debugf(msg, args...) }

// OpenBadger opens a Badger directory at path. An empty path opens an
// in-memory store.
func OpenBadger(path string) (*BadgerBackend, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, eris.Wrap(err, "cache: create badger dir")
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &zapBadgerLogger{log: zap.L().Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open badger")
	}
	return &BadgerBackend{db: db}, nil
}

func badgerKey(ns, key string) []byte {
	return []byte(ns + "/" + key)
}

func (b *BadgerBackend) Get(_ context.Context, ns, key string) (*Entry, error) {
	var e *Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(ns, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e = new(Entry)
			return json.Unmarshal(val, e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: badger get")
	}
	return e, nil
}

func (b *BadgerBackend) Put(_ context.Context, ns, key string, e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "cache: encode entry")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(ns, key), val)
	})
	return eris.Wrap(err, "cache: badger put")
}

func (b *BadgerBackend) count(prefix []byte) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (b *BadgerBackend) Clear(_ context.Context, ns string) (int, error) {
	prefix := badgerKey(ns, "")
	n, err := b.count(prefix)
	if err != nil {
		return 0, eris.Wrap(err, "cache: badger count")
	}
	if err := b.db.DropPrefix(prefix); err != nil {
		return 0, eris.Wrap(err, "cache: badger drop prefix")
	}
	return n, nil
}

func (b *BadgerBackend) ClearAll(_ context.Context) (int, error) {
	n, err := b.count(nil)
	if err != nil {
		return 0, eris.Wrap(err, "cache: badger count")
	}
	if err := b.db.DropAll(); err != nil {
		return 0, eris.Wrap(err, "cache: badger drop all")
	}
	return n, nil
}

func (b *BadgerBackend) Stats(_ context.Context) (Stats, error) {
	st := Stats{Entries: map[string]int{}, Bytes: map[string]int64{}}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.Key()
			i := bytes.IndexByte(k, '/')
			if i < 0 {
				continue
			}
			ns := string(k[:i])
			st.Entries[ns]++
			st.Bytes[ns] += item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return st, eris.Wrap(err, "cache: badger stats")
	}
	return st, nil
}

func (b *BadgerBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return eris.Wrap(err, "cache: close badger")
	}
	return nil
}
