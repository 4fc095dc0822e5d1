// Package mongo backs docstore.Store with MongoDB. A nested collection path
// such as "rooms/r1/messages" is stored in the Mongo collection named by its
// last segment, each document tagged with its parent path in _parent.
// Document ids must be unique per backing collection. Transactions and
// change streams need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
)

const (
	idField     = "_id"
	parentField = "_parent"
)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	inLimit int
}

func Connect(ctx context.Context, uri, database string, inLimit int) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	if inLimit <= 0 {
		inLimit = docstore.DefaultInLimit
	}
	return &Store{client: client, db: client.Database(database), inLimit: inLimit}, nil
}

func (s *Store) InLimit() int {
	return s.inLimit
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// EnsureIndexes creates the parent/id index every lookup goes through.
func (s *Store) EnsureIndexes(ctx context.Context, collections ...string) error {
	for _, c := range collections {
		_, err := s.db.Collection(c).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: parentField, Value: 1}, {Key: idField, Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", c, err)
		}
	}
	return nil
}

// split maps a docstore collection path to a Mongo collection and parent.
func split(path string) (collection, parent string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path, ""
	}
	return path[i+1:], path[:i]
}

func (s *Store) coll(path string) (*mongo.Collection, string) {
	name, parent := split(path)
	return s.db.Collection(name), parent
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	c, parent := s.coll(ref.Collection)
	var raw bson.M
	err := c.FindOne(ctx, bson.M{idField: ref.ID, parentField: parent}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, ref.Path())
	}
	if err != nil {
		return nil, err
	}
	return fromBSON(raw), nil
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	c, parent := s.coll(ref.Collection)
	_, err := c.InsertOne(ctx, toBSON(ref.ID, parent, data))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, ref.Path())
	}
	return err
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	c, parent := s.coll(ref.Collection)
	_, err := c.ReplaceOne(ctx, bson.M{idField: ref.ID, parentField: parent}, toBSON(ref.ID, parent, data), options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	c, parent := s.coll(ref.Collection)
	res, err := c.UpdateOne(ctx, bson.M{idField: ref.ID, parentField: parent}, updateDoc(updates))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, ref.Path())
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	if err := docstore.CheckQuery(q, s.inLimit); err != nil {
		return nil, err
	}
	c, parent := s.coll(q.Collection)
	filter := bson.M{parentField: parent}
	var and []bson.M
	for _, f := range q.Filters {
		and = append(and, filterDoc(f))
	}
	if q.StartAfter != "" {
		cursor, err := s.Get(ctx, docstore.Doc(q.Collection, q.StartAfter))
		if err != nil {
			return nil, err
		}
		and = append(and, afterDoc(q, cursor))
	}
	if q.OrderBy != "" {
		and = append(and, bson.M{q.OrderBy: bson.M{"$exists": true}})
	}
	if len(and) > 0 {
		filter["$and"] = and
	}

	dir := 1
	if q.Direction == docstore.Desc {
		dir = -1
	}
	sort := bson.D{}
	if q.OrderBy != "" {
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir})
	}
	sort = append(sort, bson.E{Key: idField, Value: dir})
	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)
	var out []docstore.Snapshot
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		id, _ := raw[idField].(string)
		out = append(out, docstore.Snapshot{ID: id, Data: fromBSON(raw)})
	}
	return out, cur.Err()
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(context.WithoutCancel(ctx))
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &tx{store: s, ctx: sc})
	})
	return err
}

// Watch requeries on every change stream event of the backing collection.
func (s *Store) Watch(ctx context.Context, q docstore.Query, onUpdate func([]docstore.Snapshot), onErr func(error)) (docstore.Subscription, error) {
	if err := docstore.CheckQuery(q, s.inLimit); err != nil {
		return nil, err
	}
	c, _ := s.coll(q.Collection)
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.Watch(streamCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", q.Collection, err)
	}

	triggers := make(chan struct{}, 1)
	go func() {
		defer close(triggers)
		for stream.Next(streamCtx) {
			select {
			case triggers <- struct{}{}:
			default:
			}
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			commonlog.Warnf("event=halo_docstore_watch backend=mongo collection=%s status=failed err=%v", q.Collection, err)
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			_ = stream.Close(context.Background())
		})
	}
	fetch := func(ctx context.Context) ([]docstore.Snapshot, error) {
		return s.Query(ctx, q)
	}
	return docstore.Requery(ctx, triggers, fetch, onUpdate, onErr, release), nil
}

type tx struct {
	store *Store
	ctx   mongo.SessionContext
}

func (t *tx) Get(ref docstore.Ref) (docstore.Document, error) {
	return t.store.Get(t.ctx, ref)
}

func (t *tx) Query(q docstore.Query) ([]docstore.Snapshot, error) {
	return t.store.Query(t.ctx, q)
}

func (t *tx) Create(ref docstore.Ref, data docstore.Document) error {
	return t.store.Create(t.ctx, ref, data)
}

func (t *tx) Set(ref docstore.Ref, data docstore.Document) error {
	return t.store.Set(t.ctx, ref, data)
}

func (t *tx) Update(ref docstore.Ref, updates ...docstore.Update) error {
	return t.store.Update(t.ctx, ref, updates...)
}

func filterDoc(f docstore.Filter) bson.M {
	v := docstore.Normalize(f.Value)
	switch f.Op {
	case docstore.OpEqual, docstore.OpArrayContains:
		return bson.M{f.Field: v}
	case docstore.OpNotEqual:
		return bson.M{f.Field: bson.M{"$ne": v, "$exists": true}}
	case docstore.OpLess:
		return bson.M{f.Field: bson.M{"$lt": v}}
	case docstore.OpLessEqual:
		return bson.M{f.Field: bson.M{"$lte": v}}
	case docstore.OpGreater:
		return bson.M{f.Field: bson.M{"$gt": v}}
	case docstore.OpGreaterEqual:
		return bson.M{f.Field: bson.M{"$gte": v}}
	default:
		// in and array-contains-any: $in matches scalars and array elements
		return bson.M{f.Field: bson.M{"$in": v}}
	}
}

// afterDoc keeps documents sorting strictly after cursor under q's order.
func afterDoc(q docstore.Query, cursor docstore.Document) bson.M {
	op := "$gt"
	if q.Direction == docstore.Desc {
		op = "$lt"
	}
	if q.OrderBy == "" {
		return bson.M{idField: bson.M{op: q.StartAfter}}
	}
	v, _ := docstore.Lookup(cursor, q.OrderBy)
	return bson.M{"$or": []bson.M{
		{q.OrderBy: bson.M{op: v}},
		{q.OrderBy: v, idField: bson.M{op: q.StartAfter}},
	}}
}

func updateDoc(updates []docstore.Update) bson.M {
	set, add, pull := bson.M{}, bson.M{}, bson.M{}
	for _, u := range updates {
		t, ok := u.Value.(docstore.ArrayTransform)
		switch {
		case !ok:
			set[u.Path] = docstore.Normalize(u.Value)
		case t.Union:
			add[u.Path] = bson.M{"$each": t.Values}
		default:
			pull[u.Path] = bson.M{"$in": t.Values}
		}
	}
	out := bson.M{}
	if len(set) > 0 {
		out["$set"] = set
	}
	if len(add) > 0 {
		out["$addToSet"] = add
	}
	if len(pull) > 0 {
		out["$pull"] = pull
	}
	return out
}

func toBSON(id, parent string, data docstore.Document) bson.M {
	out := bson.M{}
	for k, v := range data {
		out[k] = docstore.Normalize(v)
	}
	out[idField] = id
	out[parentField] = parent
	return out
}

func fromBSON(raw bson.M) docstore.Document {
	doc := docstore.Document{}
	for k, v := range raw {
		if k == idField || k == parentField {
			continue
		}
		doc[k] = fromBSONValue(v)
	}
	return doc
}

func fromBSONValue(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case int32:
		return int64(x)
	case primitive.A:
		out := make([]any, 0, len(x))
		for _, item := range x {
			out = append(out, fromBSONValue(item))
		}
		return out
	case []any:
		return fromBSONValue(primitive.A(x))
	case bson.M:
		out := map[string]any{}
		for k, item := range x {
			out[k] = fromBSONValue(item)
		}
		return out
	case primitive.D:
		out := map[string]any{}
		for _, e := range x {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	default:
		return x
	}
}
