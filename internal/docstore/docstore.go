// Package docstore provides the queryable collection store the notification
// pipeline reads domain records from. The interface is deliberately narrow:
// filter-by-field, order-by, limit, one-shot gets, appends, and live change
// subscriptions. Change delivery is at-least-once and eventually consistent;
// consumers dedup on their side.
package docstore

import (
	"context"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpGt Op = ">"
	OpLt Op = "<"
)

// Filter restricts a query or subscription to matching documents.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where is shorthand for building a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Document is one record in a collection.
type Document struct {
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
}

// Query describes a one-shot read.
type Query struct {
	Filters    []Filter
	OrderField string
	Descending bool
	Limit      int
}

// NewQuery starts an empty query; chain Where/OrderBy/WithLimit.
func NewQuery() Query { return Query{} }

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(field string, descending bool) Query {
	q.OrderField = field
	q.Descending = descending
	return q
}

func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// ChangeKind distinguishes fresh documents from updates to existing ones.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
)

// Change is one live event delivered to a subscription.
type Change struct {
	Kind       ChangeKind
	Collection string
	Doc        Document
}

// CancelFunc tears down a subscription.
type CancelFunc func()

// Store is the collection-store capability.
type Store interface {
	// QueryDocs runs a one-shot read against a collection.
	QueryDocs(ctx context.Context, collection string, q Query) ([]Document, error)

	// GetDoc fetches a single document by id.
	GetDoc(ctx context.Context, collection, id string) (Document, error)

	// Add appends a document and returns its generated id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Watch subscribes to live changes on a collection matching all filters.
	// The channel closes when the subscription is cancelled. Slow consumers
	// may miss changes; the channel is buffered and sends never block.
	Watch(ctx context.Context, collection string, filters ...Filter) (<-chan Change, CancelFunc, error)
}
