// Package docstore is the document database contract the chat core runs on:
// per-document atomicity, capped "in" filters, ordered cursor queries, a
// transaction primitive and full-result-set change notifications.
package docstore

import (
	"context"
	"errors"
	"strings"
)

const DefaultInLimit = 10

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrInLimit       = errors.New("docstore: in filter exceeds limit")
	ErrInvalidQuery  = errors.New("docstore: invalid query")
)

// Document holds nil, string, bool, int64, float64, time.Time, []any and
// map[string]any values. Backends may hand back timestamps as strings.
type Document map[string]any

// Ref addresses one document. Collection may be nested, e.g.
// "rooms/{roomID}/messages".
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

// Path joins collection and document segments.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

type Op string

const (
	OpEqual            Op = "=="
	OpNotEqual         Op = "!="
	OpLess             Op = "<"
	OpLessEqual        Op = "<="
	OpGreater          Op = ">"
	OpGreaterEqual     Op = ">="
	OpArrayContains    Op = "array-contains"
	OpIn               Op = "in"
	OpArrayContainsAny Op = "array-contains-any"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Query selects documents of one collection. Ties on OrderBy break on the
// document id in the same direction. StartAfter names a document id of the
// same collection; the page begins strictly after it.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	StartAfter string
	Limit      int
}

type Snapshot struct {
	ID   string
	Data Document
}

// Update sets Path (dotted for nested fields) to Value. Value may be an
// ArrayUnion or ArrayRemove transform.
type Update struct {
	Path  string
	Value any
}

type Tx interface {
	Get(ref Ref) (Document, error)
	Query(q Query) ([]Snapshot, error)
	Create(ref Ref, data Document) error
	Set(ref Ref, data Document) error
	Update(ref Ref, updates ...Update) error
}

// Subscription is a standing watch. It runs until Stop is called.
type Subscription interface {
	Stop()
}

type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Create(ctx context.Context, ref Ref, data Document) error
	Set(ctx context.Context, ref Ref, data Document) error
	Update(ctx context.Context, ref Ref, updates ...Update) error
	Query(ctx context.Context, q Query) ([]Snapshot, error)
	// RunTransaction retries fn on conflicting writers. All reads must come
	// before the first write.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Watch calls onUpdate with the full matching set on every change and
	// onErr at most once, after which the watch is dead.
	Watch(ctx context.Context, q Query, onUpdate func([]Snapshot), onErr func(error)) (Subscription, error)
	// InLimit is the largest value list an "in" filter accepts.
	InLimit() int
	Close() error
}
