package stores

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-kivik/couchdb/v3" // The CouchDB driver
	"github.com/go-kivik/kivik/v3"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/retry"
	ne "wuyrush.io/note/errors"
)

const (
	couchFieldID  = "_id"
	couchFieldRev = "_rev"
)

// CouchStore is a DocStore backed by CouchDB, one database per collection. ConditionalUpdate relies
// on CouchDB's MVCC: a write carrying a stale _rev is rejected with 409 and re-evaluated.
type CouchStore struct {
	Client *kivik.Client
	// Prefix is prepended to collection names to form database names
	Prefix string

	mu  sync.Mutex
	dbs map[string]*kivik.DB
}

func NewCouchStore(ctx context.Context, url, prefix string) (*CouchStore, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, ne.NewServiceFailure("error creating couchdb client").WithCause(err)
	}
	s := &CouchStore{Client: client, Prefix: prefix, dbs: map[string]*kivik.DB{}}
	if _, err := client.Version(ctx); err != nil {
		return nil, ne.NewServiceFailure("couchdb is unreachable").WithCause(err)
	}
	return s, nil
}

// db returns the database backing coll, creating it on first use.
func (s *CouchStore) db(ctx context.Context, coll string) (*kivik.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[coll]; ok {
		return db, nil
	}
	// couchdb database names must be lower case
	name := strings.ToLower(s.Prefix + coll)
	exists, err := s.Client.DBExists(ctx, name)
	if err != nil {
		return nil, ne.NewServiceFailure("error checking couchdb database").WithCause(err)
	}
	if !exists {
		if err := s.Client.CreateDB(ctx, name); err != nil && kivik.StatusCode(err) != http.StatusPreconditionFailed {
			return nil, ne.NewServiceFailure("error creating couchdb database").WithCause(err)
		}
	}
	db := s.Client.DB(ctx, name)
	if err := db.Err(); err != nil {
		return nil, ne.NewServiceFailure("error opening couchdb database").WithCause(err)
	}
	s.dbs[coll] = db
	return db, nil
}

// getRaw returns the stored document with CouchDB's bookkeeping fields still attached.
func (s *CouchStore) getRaw(ctx context.Context, db *kivik.DB, coll, id string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if err := db.Get(ctx, id).ScanDoc(&doc); err != nil {
		if kivik.StatusCode(err) == http.StatusNotFound {
			return nil, errDocNotFound(coll, id)
		}
		logging.FromContext(ctx).WithError(err).WithField("id", id).Error("error reading document from couchdb")
		return nil, ne.NewServiceFailure("error reading document").WithCause(err)
	}
	return doc, nil
}

func (s *CouchStore) Get(ctx context.Context, coll, id string) ([]byte, error) {
	db, err := s.db(ctx, coll)
	if err != nil {
		return nil, err
	}
	doc, err := s.getRaw(ctx, db, coll, id)
	if err != nil {
		return nil, err
	}
	return encodeCouchDoc(doc)
}

// withMeta decodes body and stamps it with id and, when non-empty, rev.
func withMeta(body []byte, id, rev string) (map[string]interface{}, error) {
	doc := map[string]interface{}{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, ne.NewBadInput("document is not a JSON object").WithCause(err)
	}
	doc[couchFieldID] = id
	delete(doc, couchFieldRev)
	if rev != "" {
		doc[couchFieldRev] = rev
	}
	return doc, nil
}

// encodeCouchDoc strips CouchDB's bookkeeping fields off doc.
func encodeCouchDoc(doc map[string]interface{}) ([]byte, error) {
	delete(doc, couchFieldID)
	delete(doc, couchFieldRev)
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, ne.NewServiceFailure("error encoding document").WithCause(err)
	}
	return b, nil
}

func revOf(doc map[string]interface{}) string {
	rev, _ := doc[couchFieldRev].(string)
	return rev
}

func isCouchConflict(err error) bool {
	return kivik.StatusCode(err) == http.StatusConflict
}

func couchRetryOptions(ctx context.Context) []retry.RetryOption {
	return []retry.RetryOption{
		retry.WithRetryOn(func(err error) bool { return isCouchConflict(err) && ctx.Err() == nil }),
		retry.WithMaxAttempts(32),
		retry.WithBaseDelay(5 * time.Millisecond),
		retry.WithJitter(1),
	}
}

func (s *CouchStore) Put(ctx context.Context, coll, id string, body []byte) error {
	db, err := s.db(ctx, coll)
	if err != nil {
		return err
	}
	err = retry.Retry(func() error {
		rev := ""
		cur, err := s.getRaw(ctx, db, coll, id)
		if err == nil {
			rev = revOf(cur)
		} else if !ne.Is(err, ne.ErrCodeNotFound) {
			return err
		}
		doc, err := withMeta(body, id, rev)
		if err != nil {
			return err
		}
		_, err = db.Put(ctx, id, doc)
		return err
	}, couchRetryOptions(ctx)...)
	return s.translate(ctx, err, coll, id)
}

func (s *CouchStore) Create(ctx context.Context, coll, id string, body []byte) error {
	db, err := s.db(ctx, coll)
	if err != nil {
		return err
	}
	doc, err := withMeta(body, id, "")
	if err != nil {
		return err
	}
	// a put without _rev conflicts with any existing document
	if _, err := db.Put(ctx, id, doc); err != nil {
		if isCouchConflict(err) {
			return errDocExisted(coll, id)
		}
		return s.translate(ctx, err, coll, id)
	}
	return nil
}

func (s *CouchStore) ConditionalUpdate(ctx context.Context, coll, id string, fn UpdateFunc) (bool, error) {
	db, err := s.db(ctx, coll)
	if err != nil {
		return false, err
	}
	applied := false
	err = retry.Retry(func() error {
		applied = false
		cur, err := s.getRaw(ctx, db, coll, id)
		if err != nil {
			return err
		}
		rev := revOf(cur)
		body, err := encodeCouchDoc(cur)
		if err != nil {
			return err
		}
		next, apply, err := fn(body)
		if err != nil || !apply {
			return err
		}
		doc, err := withMeta(next, id, rev)
		if err != nil {
			return err
		}
		if _, err := db.Put(ctx, id, doc); err != nil {
			return err
		}
		applied = true
		return nil
	}, couchRetryOptions(ctx)...)
	if isCouchConflict(err) {
		return false, ne.NewConflict("document kept changing during update").WithCause(err)
	}
	return applied, s.translate(ctx, err, coll, id)
}

// ConditionalDelete deletes with the _rev fn observed, so a concurrent write makes CouchDB reject
// the delete with 409 and fn runs again on the fresh body.
func (s *CouchStore) ConditionalDelete(ctx context.Context, coll, id string, fn DeleteFunc) (bool, error) {
	db, err := s.db(ctx, coll)
	if err != nil {
		return false, err
	}
	deleted := false
	err = retry.Retry(func() error {
		deleted = false
		cur, err := s.getRaw(ctx, db, coll, id)
		if err != nil {
			return err
		}
		rev := revOf(cur)
		body, err := encodeCouchDoc(cur)
		if err != nil {
			return err
		}
		del, err := fn(body)
		if err != nil || !del {
			return err
		}
		if _, err := db.Delete(ctx, id, rev); err != nil {
			return err
		}
		deleted = true
		return nil
	}, couchRetryOptions(ctx)...)
	if isCouchConflict(err) {
		return false, ne.NewConflict("document kept changing during delete").WithCause(err)
	}
	if kivik.StatusCode(err) == http.StatusNotFound {
		return false, errDocNotFound(coll, id)
	}
	return deleted, s.translate(ctx, err, coll, id)
}

// mangoSelector renders filters as a Mango selector. Results are still checked with Match since
// Mango and Match disagree on a few edge cases, e.g. null fields.
func mangoSelector(filters []Filter) map[string]interface{} {
	sel := map[string]interface{}{}
	conds := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		var cond interface{}
		switch f.Op {
		case OpEq:
			cond = map[string]interface{}{"$eq": normalize(f.Value)}
		case OpNe:
			cond = map[string]interface{}{"$ne": normalize(f.Value)}
		case OpLt:
			cond = map[string]interface{}{"$lt": normalize(f.Value)}
		case OpLte:
			cond = map[string]interface{}{"$lte": normalize(f.Value)}
		case OpGt:
			cond = map[string]interface{}{"$gt": normalize(f.Value)}
		case OpGte:
			cond = map[string]interface{}{"$gte": normalize(f.Value)}
		case OpContains:
			cond = map[string]interface{}{"$elemMatch": map[string]interface{}{"$eq": normalize(f.Value)}}
		case OpExists:
			cond = map[string]interface{}{"$exists": true}
		case OpMissing:
			cond = map[string]interface{}{"$exists": false}
		default:
			continue
		}
		conds = append(conds, map[string]interface{}{f.Field: cond})
	}
	if len(conds) == 0 {
		sel[couchFieldID] = map[string]interface{}{"$gt": nil}
		return sel
	}
	sel["$and"] = conds
	return sel
}

func (s *CouchStore) Query(ctx context.Context, coll string, filters ...Filter) ([][]byte, error) {
	db, err := s.db(ctx, coll)
	if err != nil {
		return nil, err
	}
	query := map[string]interface{}{
		"selector": mangoSelector(filters),
		"limit":    100000,
	}
	rows, err := db.Find(ctx, query)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("collection", coll).Error("error querying couchdb")
		return nil, ne.NewServiceFailure("error querying documents").WithCause(err)
	}
	defer rows.Close()
	type hit struct {
		id   string
		body []byte
	}
	hits := []hit{}
	for rows.Next() {
		doc := map[string]interface{}{}
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, ne.NewServiceFailure("error scanning document").WithCause(err)
		}
		id, _ := doc[couchFieldID].(string)
		// design documents are not ours
		if strings.HasPrefix(id, "_design/") {
			continue
		}
		body, err := encodeCouchDoc(doc)
		if err != nil {
			return nil, err
		}
		ok, err := Match(body, filters...)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, hit{id: id, body: body})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ne.NewServiceFailure("error iterating documents").WithCause(err)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })
	out := make([][]byte, len(hits))
	for i, h := range hits {
		out[i] = h.body
	}
	return out, nil
}

func (s *CouchStore) Delete(ctx context.Context, coll, id string) error {
	db, err := s.db(ctx, coll)
	if err != nil {
		return err
	}
	err = retry.Retry(func() error {
		cur, err := s.getRaw(ctx, db, coll, id)
		if err != nil {
			return err
		}
		_, err = db.Delete(ctx, id, revOf(cur))
		return err
	}, couchRetryOptions(ctx)...)
	if ne.Is(err, ne.ErrCodeNotFound) || kivik.StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return s.translate(ctx, err, coll, id)
}

func (s *CouchStore) Close() error {
	return nil
}

// translate maps raw kivik errors onto the error taxonomy. Errors already translated pass through.
func (s *CouchStore) translate(ctx context.Context, err error, coll, id string) error {
	if err == nil {
		return nil
	}
	var e *ne.Err
	if errors.As(err, &e) {
		return err
	}
	logging.FromContext(ctx).WithError(err).WithField("id", id).WithField("collection", coll).Error("couchdb call failed")
	return ne.NewServiceFailure("error calling couchdb").WithCause(err)
}
