// Package stores vends the persistence layer of note service: a document store abstraction with
// memory, SQLite and CouchDB backends, the destruct schedule index, and typed stores for notes,
// share tokens, category forests and tags built on top of them.
package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	ne "wuyrush.io/note/errors"
)

// UpdateFunc computes the next version of a document from its current body. It returns apply=false
// to leave the document untouched. An UpdateFunc may be invoked more than once per
// ConditionalUpdate call when the backend detects a concurrent write, so it must not have side
// effects beyond its return values.
type UpdateFunc func(current []byte) (next []byte, apply bool, err error)

// DeleteFunc decides from the current body whether a document should be deleted. Like UpdateFunc
// it may run more than once per ConditionalDelete call.
type DeleteFunc func(current []byte) (del bool, err error)

// DocStore is a collection-scoped JSON document store.
type DocStore interface {
	// Get returns the body of document id, or a NotFound error.
	Get(ctx context.Context, coll, id string) ([]byte, error)
	// Put creates or overwrites document id.
	Put(ctx context.Context, coll, id string, body []byte) error
	// Create writes document id only if it does not exist yet; otherwise it returns an Existed error.
	// A document is either completely written or not written at all.
	Create(ctx context.Context, coll, id string, body []byte) error
	// ConditionalUpdate atomically replaces document id with the output of fn, and reports whether
	// the replacement was applied. No other write to the document may interleave between the read
	// fn observes and the write of its result. It returns a NotFound error if the document does not
	// exist.
	ConditionalUpdate(ctx context.Context, coll, id string, fn UpdateFunc) (bool, error)
	// Query returns the bodies of documents matching all filters, in ascending id order.
	Query(ctx context.Context, coll string, filters ...Filter) ([][]byte, error)
	// ConditionalDelete atomically deletes document id if fn approves its current body, and reports
	// whether the document was deleted. No other write to the document may interleave between the
	// read fn observes and the delete. It returns a NotFound error if the document does not exist.
	ConditionalDelete(ctx context.Context, coll, id string, fn DeleteFunc) (bool, error)
	// Delete deletes document id. Delete must be idempotent
	Delete(ctx context.Context, coll, id string) error
	Close() error
}

type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	// OpContains matches array fields holding Value
	OpContains Op = "contains"
	// OpExists and OpMissing ignore Value
	OpExists  Op = "exists"
	OpMissing Op = "missing"
)

// Filter is a predicate over a top level field of a JSON document. Numeric values of any Go
// integer or float type compare equal to JSON numbers; time.Time values compare as unix
// milliseconds.
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

func Eq(field string, v interface{}) Filter {
	return Filter{Field: field, Op: OpEq, Value: v}
}

func Contains(field string, v interface{}) Filter {
	return Filter{Field: field, Op: OpContains, Value: v}
}

func Lte(field string, v interface{}) Filter {
	return Filter{Field: field, Op: OpLte, Value: v}
}

func Gt(field string, v interface{}) Filter {
	return Filter{Field: field, Op: OpGt, Value: v}
}

// Match reports whether the JSON document body satisfies all filters.
func Match(body []byte, filters ...Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, ne.NewServiceFailure("error decoding document").WithCause(err)
	}
	for _, f := range filters {
		ok, err := matchOne(doc, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOne(doc map[string]interface{}, f Filter) (bool, error) {
	v, present := doc[f.Field]
	present = present && v != nil
	switch f.Op {
	case OpExists:
		return present, nil
	case OpMissing:
		return !present, nil
	}
	want := normalize(f.Value)
	switch f.Op {
	case OpEq:
		return present && reflect.DeepEqual(v, want), nil
	case OpNe:
		return !present || !reflect.DeepEqual(v, want), nil
	case OpContains:
		arr, ok := v.([]interface{})
		if !ok {
			return false, nil
		}
		for _, e := range arr {
			if reflect.DeepEqual(e, want) {
				return true, nil
			}
		}
		return false, nil
	case OpLt, OpLte, OpGt, OpGte:
		if !present {
			return false, nil
		}
		c, ok := compare(v, want)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpLt:
			return c < 0, nil
		case OpLte:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, ne.NewBadInput(fmt.Sprintf("unsupported filter op %q", f.Op))
}

// normalize maps v onto the value space of encoding/json decoding into interface{}
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return float64(x.UnixMilli())
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

func compare(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func errDocNotFound(coll, id string) error {
	return ne.NewNotFound(fmt.Sprintf("document %s/%s not found", coll, id))
}

func errDocExisted(coll, id string) error {
	return ne.NewExisted(fmt.Sprintf("document %s/%s already exists", coll, id))
}

func errCanceled(cause error) error {
	return ne.NewServiceFailure("store operation canceled").WithCause(cause)
}
