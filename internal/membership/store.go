// Package membership stores, per namespace, the set of identifiers that
// exist there. Identifiers keep their original case in storage and are
// compared lowercased.
package membership

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"querygate/internal/config"
	"querygate/internal/types"
)

// Store is a namespace scoped identifier set. Namespaces never leak into
// each other; an unknown namespace reads as empty.
type Store interface {
	// SetAll replaces the namespace's set atomically. Readers see the old
	// set or the new one, never a mix.
	SetAll(ctx context.Context, ns types.Namespace, ids []string) error
	// GetAll returns the normalized identifiers of ns.
	GetAll(ctx context.Context, ns types.Namespace) (map[string]struct{}, error)
	AddOne(ctx context.Context, ns types.Namespace, id string) error
	Exists(ctx context.Context, ns types.Namespace, id string) (bool, error)
	Close() error
}

// Lister is implemented by stores that can return identifiers in their
// original case.
type Lister interface {
	List(ctx context.Context, ns types.Namespace) ([]string, error)
}

// ErrClosed is wrapped by StoreError when a closed store is used.
var ErrClosed = errors.New("store is closed")

// Normalize is the comparison form of an identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// dedupe keeps the last original spelling per normalized identifier and
// drops blanks. The result is sorted by normalized form.
func dedupe(ids []string) (normalized, originals []string) {
	byNorm := make(map[string]string, len(ids))
	for _, id := range ids {
		n := Normalize(id)
		if n == "" {
			continue
		}
		byNorm[n] = strings.TrimSpace(id)
	}
	normalized = make([]string, 0, len(byNorm))
	for n := range byNorm {
		normalized = append(normalized, n)
	}
	sort.Strings(normalized)
	originals = make([]string, len(normalized))
	for i, n := range normalized {
		originals[i] = byNorm[n]
	}
	return normalized, originals
}

func checkNamespace(op string, ns types.Namespace) error {
	if err := ns.Check(); err != nil {
		return errors.Wrapf(err, "membership %s", op)
	}
	return nil
}

func storeError(op string, ns types.Namespace, err error) error {
	if err == nil {
		return nil
	}
	return &types.StoreError{Op: op, Namespace: ns, Err: err}
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return OpenRedis(ctx, cfg.Redis)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLite.Driver, cfg.SQLite.DSN)
	case "badger":
		return OpenBadger(cfg.Badger)
	default:
		return nil, errors.Newf("unknown store backend %q", cfg.Backend)
	}
}
