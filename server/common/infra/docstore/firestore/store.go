// Package firestore backs docstore.Store with Cloud Firestore. Nested
// collection paths map onto Firestore sub-collections and watches ride on
// native query snapshot listeners.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
)

type Store struct {
	client  *firestore.Client
	inLimit int
}

// New dials Firestore. An empty credentialsFile falls back to application
// default credentials.
func New(ctx context.Context, projectID, credentialsFile string, inLimit int) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return NewWithClient(client, inLimit), nil
}

func NewWithClient(client *firestore.Client, inLimit int) *Store {
	if inLimit <= 0 {
		inLimit = docstore.DefaultInLimit
	}
	return &Store{client: client, inLimit: inLimit}
}

func (s *Store) InLimit() int {
	return s.inLimit
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(ref docstore.Ref) *firestore.DocumentRef {
	return s.client.Collection(ref.Collection).Doc(ref.ID)
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	snap, err := s.doc(ref).Get(ctx)
	if err != nil {
		return nil, mapErr(err, ref)
	}
	return fromSnapshot(snap), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	_, err := s.doc(ref).Create(ctx, toFirestore(data))
	return mapErr(err, ref)
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	_, err := s.doc(ref).Set(ctx, toFirestore(data))
	return mapErr(err, ref)
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	_, err := s.doc(ref).Update(ctx, toUpdates(updates))
	return mapErr(err, ref)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	query, err := s.build(q, func(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
		return ref.Get(ctx)
	})
	if err != nil {
		return nil, err
	}
	return collect(query.Documents(ctx))
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(ctx, &tx{store: s, t: t})
	})
}

func (s *Store) Watch(ctx context.Context, q docstore.Query, onUpdate func([]docstore.Snapshot), onErr func(error)) (docstore.Subscription, error) {
	query, err := s.build(q, func(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
		return ref.Get(ctx)
	})
	if err != nil {
		return nil, err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	it := query.Snapshots(watchCtx)
	w := &watch{cancel: cancel, it: it}

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if watchCtx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				commonlog.Warnf("event=halo_docstore_watch backend=firestore collection=%s status=failed err=%v", q.Collection, err)
				if onErr != nil {
					onErr(err)
				}
				return
			}
			snaps, err := collect(snap.Documents)
			if err != nil {
				if watchCtx.Err() == nil && onErr != nil {
					onErr(err)
				}
				return
			}
			if watchCtx.Err() == nil {
				onUpdate(snaps)
			}
		}
	}()
	return w, nil
}

type watch struct {
	once   sync.Once
	cancel context.CancelFunc
	it     *firestore.QuerySnapshotIterator
}

func (w *watch) Stop() {
	w.once.Do(w.cancel)
}

// build translates q into a Firestore query. getCursor loads the StartAfter
// document so that Firestore can read its order-by values.
func (s *Store) build(q docstore.Query, getCursor func(*firestore.DocumentRef) (*firestore.DocumentSnapshot, error)) (firestore.Query, error) {
	if err := docstore.CheckQuery(q, s.inLimit); err != nil {
		return firestore.Query{}, err
	}
	coll := s.client.Collection(q.Collection)
	query := coll.Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), toFirestore(docstore.Normalize(f.Value)))
	}
	dir := firestore.Asc
	if q.Direction == docstore.Desc {
		dir = firestore.Desc
	}
	if q.OrderBy != "" {
		query = query.OrderBy(q.OrderBy, dir)
	}
	query = query.OrderBy(firestore.DocumentID, dir)
	if q.StartAfter != "" {
		cursor, err := getCursor(coll.Doc(q.StartAfter))
		if err != nil {
			return firestore.Query{}, mapErr(err, docstore.Doc(q.Collection, q.StartAfter))
		}
		query = query.StartAfter(cursor)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, nil
}

type tx struct {
	store *Store
	t     *firestore.Transaction
}

func (x *tx) Get(ref docstore.Ref) (docstore.Document, error) {
	snap, err := x.t.Get(x.store.doc(ref))
	if err != nil {
		return nil, mapErr(err, ref)
	}
	return fromSnapshot(snap), nil
}

func (x *tx) Query(q docstore.Query) ([]docstore.Snapshot, error) {
	query, err := x.store.build(q, x.t.Get)
	if err != nil {
		return nil, err
	}
	return collect(x.t.Documents(query))
}

func (x *tx) Create(ref docstore.Ref, data docstore.Document) error {
	return x.t.Create(x.store.doc(ref), toFirestore(data))
}

func (x *tx) Set(ref docstore.Ref, data docstore.Document) error {
	return x.t.Set(x.store.doc(ref), toFirestore(data))
}

func (x *tx) Update(ref docstore.Ref, updates ...docstore.Update) error {
	return x.t.Update(x.store.doc(ref), toUpdates(updates))
}

func collect(it *firestore.DocumentIterator) ([]docstore.Snapshot, error) {
	defer it.Stop()
	var out []docstore.Snapshot
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Snapshot{ID: snap.Ref.ID, Data: fromSnapshot(snap)})
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) docstore.Document {
	doc, _ := docstore.Normalize(snap.Data()).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	return doc
}

// toFirestore hands the value tree to the client as is: Firestore stores
// time.Time natively and accepts []any and map[string]any.
func toFirestore(v any) any {
	switch x := v.(type) {
	case docstore.Document:
		return map[string]any(x)
	default:
		return x
	}
}

func toUpdates(updates []docstore.Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		value := u.Value
		if t, ok := u.Value.(docstore.ArrayTransform); ok {
			if t.Union {
				value = firestore.ArrayUnion(t.Values...)
			} else {
				value = firestore.ArrayRemove(t.Values...)
			}
		} else {
			value = docstore.Normalize(value)
		}
		out = append(out, firestore.Update{Path: u.Path, Value: value})
	}
	return out
}

func mapErr(err error, ref docstore.Ref) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, ref.Path())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, ref.Path())
	}
	return err
}
