package membership

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"

	"querygate/internal/config"
	"querygate/internal/logging"
	"querygate/internal/types"
)

// BadgerStore keeps one key per identifier under ns/<escaped namespace>/.
// The value is the original spelling.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes badger's internal logging to the store category.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{})   { logging.StoreError(format, args...) }
func (badgerLogger) Warningf(format string, args ...interface{}) { logging.StoreWarn(format, args...) }
func (badgerLogger) Infof(format string, args ...interface{})    { logging.StoreDebug(format, args...) }
func (badgerLogger) Debugf(format string, args ...interface{})   { logging.StoreDebug(format, args...) }

// OpenBadger opens a persistent or in-memory database.
func OpenBadger(cfg config.BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("badger dir is required for persistent store")
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, errors.Wrapf(err, "create badger directory %s", cfg.Dir)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storeError("open", "", errors.Wrap(err, "open badger database"))
	}
	logging.Store("badger membership store opened: in_memory=%v dir=%s", cfg.InMemory, cfg.Dir)
	return &BadgerStore{db: db}, nil
}

// Escaping keeps "a" from being a key prefix of "a/b".
func badgerPrefix(ns types.Namespace) []byte {
	return []byte("ns/" + url.PathEscape(string(ns)) + "/")
}

func badgerKey(ns types.Namespace, normalized string) []byte {
	return append(badgerPrefix(ns), normalized...)
}

// SetAll drops and rewrites the namespace in one read-write transaction.
func (b *BadgerStore) SetAll(ctx context.Context, ns types.Namespace, ids []string) error {
	if err := checkNamespace("set_all", ns); err != nil {
		return err
	}
	normalized, originals := dedupe(ids)
	prefix := badgerPrefix(ns)

	err := b.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, n := range normalized {
			if err := txn.Set(badgerKey(ns, n), []byte(originals[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeError("set_all", ns, err)
	}
	logging.StoreDebug("badger set_all %s: %d identifiers", ns, len(normalized))
	return nil
}

func (b *BadgerStore) GetAll(ctx context.Context, ns types.Namespace) (map[string]struct{}, error) {
	if err := checkNamespace("get_all", ns); err != nil {
		return nil, err
	}
	prefix := badgerPrefix(ns)
	out := make(map[string]struct{})
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out[strings.TrimPrefix(string(it.Item().Key()), string(prefix))] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, storeError("get_all", ns, err)
	}
	return out, nil
}

func (b *BadgerStore) AddOne(ctx context.Context, ns types.Namespace, id string) error {
	if err := checkNamespace("add_one", ns); err != nil {
		return err
	}
	n := Normalize(id)
	if n == "" {
		return nil
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(ns, n), []byte(strings.TrimSpace(id)))
	})
	return storeError("add_one", ns, err)
}

func (b *BadgerStore) Exists(ctx context.Context, ns types.Namespace, id string) (bool, error) {
	if err := checkNamespace("exists", ns); err != nil {
		return false, err
	}
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(ns, Normalize(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, storeError("exists", ns, err)
	}
	return found, nil
}

// List returns the original spellings in key order.
func (b *BadgerStore) List(ctx context.Context, ns types.Namespace) ([]string, error) {
	if err := checkNamespace("list", ns); err != nil {
		return nil, err
	}
	out := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: badgerPrefix(ns), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, storeError("list", ns, err)
	}
	return out, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
