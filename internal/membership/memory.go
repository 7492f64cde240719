package membership

import (
	"context"
	"sort"
	"strings"
	"sync"

	"querygate/internal/types"
)

// MemoryStore keeps every namespace in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	sets   map[types.Namespace]map[string]string // normalized -> original
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[types.Namespace]map[string]string)}
}

func (m *MemoryStore) SetAll(ctx context.Context, ns types.Namespace, ids []string) error {
	if err := checkNamespace("set_all", ns); err != nil {
		return err
	}
	normalized, originals := dedupe(ids)
	set := make(map[string]string, len(normalized))
	for i, n := range normalized {
		set[n] = originals[i]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storeError("set_all", ns, ErrClosed)
	}
	m.sets[ns] = set
	return nil
}

func (m *MemoryStore) GetAll(ctx context.Context, ns types.Namespace) (map[string]struct{}, error) {
	if err := checkNamespace("get_all", ns); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storeError("get_all", ns, ErrClosed)
	}
	out := make(map[string]struct{}, len(m.sets[ns]))
	for n := range m.sets[ns] {
		out[n] = struct{}{}
	}
	return out, nil
}

func (m *MemoryStore) AddOne(ctx context.Context, ns types.Namespace, id string) error {
	if err := checkNamespace("add_one", ns); err != nil {
		return err
	}
	n := Normalize(id)
	if n == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storeError("add_one", ns, ErrClosed)
	}
	set, ok := m.sets[ns]
	if !ok {
		set = make(map[string]string)
		m.sets[ns] = set
	}
	set[n] = strings.TrimSpace(id)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, ns types.Namespace, id string) (bool, error) {
	if err := checkNamespace("exists", ns); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, storeError("exists", ns, ErrClosed)
	}
	_, ok := m.sets[ns][Normalize(id)]
	return ok, nil
}

// List returns the original spellings sorted by normalized form.
func (m *MemoryStore) List(ctx context.Context, ns types.Namespace) ([]string, error) {
	if err := checkNamespace("list", ns); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, storeError("list", ns, ErrClosed)
	}
	keys := make([]string, 0, len(m.sets[ns]))
	for n := range m.sets[ns] {
		keys = append(keys, n)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m.sets[ns][k]
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sets = nil
	return nil
}
