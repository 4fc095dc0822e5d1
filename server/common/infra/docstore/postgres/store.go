// Package postgres backs docstore.Store with one JSONB table. Timestamps are
// stored as fixed-width strings so that JSONB ordering is chronological, and
// watches requery on signals from a docstore.ChangeFeed published after each
// commit.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"halo_server/server/common/infra/docstore"
	commonlog "halo_server/server/common/log"
)

const maxTxAttempts = 5

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool    *pgxpool.Pool
	feed    docstore.ChangeFeed
	inLimit int
}

// New wraps pool. feed carries change signals between instances; pass a
// docstore.LocalFeed for a single process.
func New(pool *pgxpool.Pool, feed docstore.ChangeFeed, inLimit int) *Store {
	if feed == nil {
		feed = docstore.NewLocalFeed()
	}
	if inLimit <= 0 {
		inLimit = docstore.DefaultInLimit
	}
	return &Store{pool: pool, feed: feed, inLimit: inLimit}
}

func (s *Store) InLimit() int {
	return s.inLimit
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	return get(ctx, s.pool, ref, false)
}

func (s *Store) Create(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	if err := create(ctx, s.pool, ref, data); err != nil {
		return err
	}
	s.notify(ctx, ref.Collection)
	return nil
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data docstore.Document) error {
	if err := set(ctx, s.pool, ref, data); err != nil {
		return err
	}
	s.notify(ctx, ref.Collection)
	return nil
}

// Update is a read-modify-write, so it runs as its own transaction.
func (s *Store) Update(ctx context.Context, ref docstore.Ref, updates ...docstore.Update) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Update(ref, updates...)
	})
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	return query(ctx, s.pool, q, s.inLimit)
}

// RunTransaction runs fn at SERIALIZABLE isolation and retries it on
// serialization failures.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		var t *tx
		err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(pt pgx.Tx) error {
			t = &tx{ctx: ctx, q: pt, inLimit: s.inLimit}
			return fn(ctx, t)
		})
		if err == nil {
			s.notify(ctx, t.touched...)
			return nil
		}
		if !retryable(err) {
			return err
		}
		commonlog.Debugf("event=halo_docstore_tx backend=postgres attempt=%d status=retry err=%v", attempt, err)
	}
	return err
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

func (s *Store) notify(ctx context.Context, collections ...string) {
	seen := map[string]struct{}{}
	for _, c := range collections {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		if err := s.feed.Notify(context.WithoutCancel(ctx), c); err != nil {
			commonlog.Warnf("event=halo_docstore_notify backend=postgres collection=%s status=failed err=%v", c, err)
		}
	}
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

type tx struct {
	ctx     context.Context
	q       pgx.Tx
	inLimit int
	wrote   bool
	touched []string
}

var errReadAfterWrite = errors.New("postgres: transaction reads must precede writes")

func (t *tx) Get(ref docstore.Ref) (docstore.Document, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	return get(t.ctx, t.q, ref, true)
}

func (t *tx) Query(q docstore.Query) ([]docstore.Snapshot, error) {
	if t.wrote {
		return nil, errReadAfterWrite
	}
	return query(t.ctx, t.q, q, t.inLimit)
}

func (t *tx) Create(ref docstore.Ref, data docstore.Document) error {
	t.mark(ref)
	return create(t.ctx, t.q, ref, data)
}

func (t *tx) Set(ref docstore.Ref, data docstore.Document) error {
	t.mark(ref)
	return set(t.ctx, t.q, ref, data)
}

func (t *tx) Update(ref docstore.Ref, updates ...docstore.Update) error {
	doc, err := get(t.ctx, t.q, ref, true)
	if err != nil {
		return err
	}
	next, err := docstore.ApplyUpdates(doc, updates)
	if err != nil {
		return err
	}
	t.mark(ref)
	raw, err := encode(next)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(t.ctx, `UPDATE documents SET data = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID, raw)
	return err
}

func (t *tx) mark(ref docstore.Ref) {
	t.wrote = true
	t.touched = append(t.touched, ref.Collection)
}

func get(ctx context.Context, q querier, ref docstore.Ref, forUpdate bool) (docstore.Document, error) {
	sql := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, sql, ref.Collection, ref.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, ref.Path())
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func create(ctx context.Context, q querier, ref docstore.Ref, data docstore.Document) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb) ON CONFLICT DO NOTHING`, ref.Collection, ref.ID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, ref.Path())
	}
	return nil
}

func set(ctx context.Context, q querier, ref docstore.Ref, data docstore.Document) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, ref.Collection, ref.ID, raw)
	return err
}

func query(ctx context.Context, q querier, dq docstore.Query, inLimit int) ([]docstore.Snapshot, error) {
	if err := docstore.CheckQuery(dq, inLimit); err != nil {
		return nil, err
	}
	var cursor docstore.Document
	if dq.StartAfter != "" {
		doc, err := get(ctx, q, docstore.Doc(dq.Collection, dq.StartAfter), false)
		if err != nil {
			return nil, err
		}
		cursor = doc
	}
	sql, args, err := buildSelect(dq, cursor)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", dq.Collection, err)
	}
	defer rows.Close()
	var out []docstore.Snapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", dq.Collection, id, err)
		}
		out = append(out, docstore.Snapshot{ID: id, Data: doc})
	}
	return out, rows.Err()
}

type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func fieldPath(field string) []string {
	return strings.Split(field, ".")
}

// buildSelect renders dq as SQL over documents.data. Values are bound as
// JSON text and compared as jsonb.
func buildSelect(dq docstore.Query, cursor docstore.Document) (string, []any, error) {
	b := &sqlBuilder{}
	where := []string{"collection = " + b.arg(dq.Collection)}

	for _, f := range dq.Filters {
		field := "data #> " + b.arg(fieldPath(f.Field)) + "::text[]"
		value := docstore.Normalize(f.Value)
		switch f.Op {
		case docstore.OpEqual, docstore.OpNotEqual, docstore.OpLess, docstore.OpLessEqual, docstore.OpGreater, docstore.OpGreaterEqual:
			raw, err := encodeValue(value)
			if err != nil {
				return "", nil, err
			}
			op := string(f.Op)
			switch f.Op {
			case docstore.OpEqual:
				op = "="
			case docstore.OpNotEqual:
				op = "<>"
			}
			where = append(where, fmt.Sprintf("%s %s %s::jsonb", field, op, b.arg(raw)))
		case docstore.OpArrayContains:
			raw, err := encodeValue([]any{value})
			if err != nil {
				return "", nil, err
			}
			where = append(where, fmt.Sprintf("%s @> %s::jsonb", field, b.arg(raw)))
		case docstore.OpIn:
			list, err := encodeEach(value, false)
			if err != nil {
				return "", nil, err
			}
			where = append(where, fmt.Sprintf("%s = ANY(%s::text[]::jsonb[])", field, b.arg(list)))
		case docstore.OpArrayContainsAny:
			list, err := encodeEach(value, true)
			if err != nil {
				return "", nil, err
			}
			where = append(where, fmt.Sprintf("%s @> ANY(%s::text[]::jsonb[])", field, b.arg(list)))
		}
	}

	dir := "ASC"
	cmp := ">"
	if dq.Direction == docstore.Desc {
		dir, cmp = "DESC", "<"
	}
	order := "id " + dir
	if dq.OrderBy != "" {
		orderExpr := "data #> " + b.arg(fieldPath(dq.OrderBy)) + "::text[]"
		where = append(where, orderExpr+" IS NOT NULL")
		order = orderExpr + " " + dir + ", id " + dir
		if cursor != nil {
			v, _ := docstore.Lookup(cursor, dq.OrderBy)
			raw, err := encodeValue(v)
			if err != nil {
				return "", nil, err
			}
			where = append(where, fmt.Sprintf("(%s, id) %s (%s::jsonb, %s)", orderExpr, cmp, b.arg(raw), b.arg(dq.StartAfter)))
		}
	} else if cursor != nil {
		where = append(where, fmt.Sprintf("id %s %s", cmp, b.arg(dq.StartAfter)))
	}

	sql := "SELECT id, data FROM documents WHERE " + strings.Join(where, " AND ") + " ORDER BY " + order
	if dq.Limit > 0 {
		sql += " LIMIT " + b.arg(dq.Limit)
	}
	return sql, b.args, nil
}

func encodeEach(v any, wrap bool) ([]string, error) {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		var target any = item
		if wrap {
			target = []any{item}
		}
		raw, err := encodeValue(target)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func encode(doc docstore.Document) (string, error) {
	return encodeValue(map[string]any(doc))
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(toJSON(docstore.Normalize(v)))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// toJSON rewrites timestamps as fixed-width strings.
func toJSON(v any) any {
	switch x := v.(type) {
	case time.Time:
		return docstore.FormatTime(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toJSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toJSON(item)
		}
		return out
	default:
		return x
	}
}

func decode(raw []byte) (docstore.Document, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	doc, _ := fromJSON(m).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func fromJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i, item := range x {
			x[i] = fromJSON(item)
		}
		return x
	case map[string]any:
		for k, item := range x {
			x[k] = fromJSON(item)
		}
		return x
	default:
		return x
	}
}
