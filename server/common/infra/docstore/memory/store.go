// Package memory is an in-process docstore.Store for tests and local runs.
// It enforces the same "in" cap and read-before-write transaction rule as
// the remote backends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"halo_server/server/common/infra/docstore"
)

var errReadAfterWrite = errors.New("memory: transaction reads must precede writes")

type Store struct {
	// writeMu serializes every write path, transactions included.
	writeMu     sync.Mutex
	mu          sync.RWMutex
	collections map[string]map[string]docstore.Document
	inLimit     int
	feed        *docstore.LocalFeed
}

type Option func(*Store)

func WithInLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.inLimit = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: map[string]map[string]docstore.Document{},
		inLimit:     docstore.DefaultInLimit,
		feed:        docstore.NewLocalFeed(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) InLimit() int {
	return s.inLimit
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) Get(_ context.Context, ref docstore.Ref) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ref)
}

func (s *Store) getLocked(ref docstore.Ref) (docstore.Document, error) {
	doc, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, ref.Path())
	}
	return docstore.Clone(doc), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	return s.write(ctx, []write{{kind: writeCreate, ref: ref, data: data}})
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	return s.write(ctx, []write{{kind: writeSet, ref: ref, data: data}})
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	return s.write(ctx, []write{{kind: writeUpdate, ref: ref, updates: updates}})
}

func (s *Store) Query(_ context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := docstore.CheckQuery(q, s.inLimit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLocked(q)
}

func (s *Store) queryLocked(q docstore.Query) ([]docstore.Snapshot, error) {
	coll := s.collections[q.Collection]
	all := make([]docstore.Snapshot, 0, len(coll))
	for id, doc := range coll {
		all = append(all, docstore.Snapshot{ID: id, Data: docstore.Clone(doc)})
	}
	var cursor *docstore.Snapshot
	if q.StartAfter != "" {
		doc, ok := coll[q.StartAfter]
		if !ok {
			return nil, fmt.Errorf("%w: cursor %s/%s", docstore.ErrNotFound, q.Collection, q.StartAfter)
		}
		cursor = &docstore.Snapshot{ID: q.StartAfter, Data: doc}
	}
	return docstore.Window(all, q, cursor), nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	s.writeMu.Lock()
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		s.writeMu.Unlock()
		return err
	}
	touched, err := s.commitLocked(tx.writes)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, touched)
	return nil
}

func (s *Store) Watch(ctx context.Context, q docstore.Query, onUpdate func([]docstore.Snapshot), onErr func(error)) (docstore.Subscription, error) {
	if err := docstore.CheckQuery(q, s.inLimit); err != nil {
		return nil, err
	}
	triggers, release, err := s.feed.Subscribe(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context) ([]docstore.Snapshot, error) {
		return s.Query(ctx, q)
	}
	return docstore.Requery(ctx, triggers, fetch, onUpdate, onErr, release), nil
}

type writeKind int

const (
	writeCreate writeKind = iota
	writeSet
	writeUpdate
)

type write struct {
	kind    writeKind
	ref     docstore.Ref
	data    docstore.Document
	updates []docstore.Update
}

func (s *Store) write(ctx context.Context, writes []write) error {
	s.writeMu.Lock()
	touched, err := s.commitLocked(writes)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, touched)
	return nil
}

// commitLocked applies writes all-or-nothing. Caller holds writeMu.
func (s *Store) commitLocked(writes []write) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := map[docstore.Ref]docstore.Document{}
	lookup := func(ref docstore.Ref) (docstore.Document, bool) {
		if doc, ok := staged[ref]; ok {
			return doc, true
		}
		doc, ok := s.collections[ref.Collection][ref.ID]
		return doc, ok
	}
	order := make([]docstore.Ref, 0, len(writes))
	for _, w := range writes {
		if w.ref.Collection == "" || w.ref.ID == "" {
			return nil, fmt.Errorf("%w: empty document reference", docstore.ErrInvalidQuery)
		}
		current, exists := lookup(w.ref)
		var next docstore.Document
		switch w.kind {
		case writeCreate:
			if exists {
				return nil, fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, w.ref.Path())
			}
			next = docstore.Clone(w.data)
		case writeSet:
			next = docstore.Clone(w.data)
		case writeUpdate:
			if !exists {
				return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, w.ref.Path())
			}
			updated, err := docstore.ApplyUpdates(current, w.updates)
			if err != nil {
				return nil, err
			}
			next = updated
		}
		if next == nil {
			next = docstore.Document{}
		}
		if _, seen := staged[w.ref]; !seen {
			order = append(order, w.ref)
		}
		staged[w.ref] = next
	}

	touched := map[string]struct{}{}
	collections := make([]string, 0, len(order))
	for _, ref := range order {
		if s.collections[ref.Collection] == nil {
			s.collections[ref.Collection] = map[string]docstore.Document{}
		}
		s.collections[ref.Collection][ref.ID] = staged[ref]
		if _, ok := touched[ref.Collection]; !ok {
			touched[ref.Collection] = struct{}{}
			collections = append(collections, ref.Collection)
		}
	}
	return collections, nil
}

func (s *Store) notify(ctx context.Context, collections []string) {
	for _, c := range collections {
		_ = s.feed.Notify(ctx, c)
	}
}

type memTx struct {
	store  *Store
	writes []write
}

func (t *memTx) Get(ref docstore.Ref) (docstore.Document, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.getLocked(ref)
}

func (t *memTx) Query(q docstore.Query) ([]docstore.Snapshot, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	if err := docstore.CheckQuery(q, t.store.inLimit); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.queryLocked(q)
}

func (t *memTx) Create(ref docstore.Ref, data docstore.Document) error {
	t.writes = append(t.writes, write{kind: writeCreate, ref: ref, data: docstore.Clone(data)})
	return nil
}

func (t *memTx) Set(ref docstore.Ref, data docstore.Document) error {
	t.writes = append(t.writes, write{kind: writeSet, ref: ref, data: docstore.Clone(data)})
	return nil
}

func (t *memTx) Update(ref docstore.Ref, updates ...docstore.Update) error {
	t.writes = append(t.writes, write{kind: writeUpdate, ref: ref, updates: updates})
	return nil
}
