package stores

import (
	"context"
	"sort"
	"sync"
)

// MemStore is a DocStore kept in process memory. It suits tests and single process deployments;
// its documents do not survive restarts.
type MemStore struct {
	mu    sync.Mutex
	colls map[string]map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{colls: map[string]map[string][]byte{}}
}

func (s *MemStore) coll(name string) map[string][]byte {
	c, ok := s.colls[name]
	if !ok {
		c = map[string][]byte{}
		s.colls[name] = c
	}
	return c
}

func (s *MemStore) Get(ctx context.Context, coll, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.coll(coll)[id]
	if !ok {
		return nil, errDocNotFound(coll, id)
	}
	return clone(b), nil
}

func (s *MemStore) Put(ctx context.Context, coll, id string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(coll)[id] = clone(body)
	return nil
}

func (s *MemStore) Create(ctx context.Context, coll, id string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	if _, ok := c[id]; ok {
		return errDocExisted(coll, id)
	}
	c[id] = clone(body)
	return nil
}

func (s *MemStore) ConditionalUpdate(ctx context.Context, coll, id string, fn UpdateFunc) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	cur, ok := c[id]
	if !ok {
		return false, errDocNotFound(coll, id)
	}
	next, apply, err := fn(clone(cur))
	if err != nil || !apply {
		return false, err
	}
	c[id] = clone(next)
	return true, nil
}

func (s *MemStore) ConditionalDelete(ctx context.Context, coll, id string, fn DeleteFunc) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	cur, ok := c[id]
	if !ok {
		return false, errDocNotFound(coll, id)
	}
	del, err := fn(clone(cur))
	if err != nil || !del {
		return false, err
	}
	delete(c, id)
	return true, nil
}

func (s *MemStore) Query(ctx context.Context, coll string, filters ...Filter) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		ok, err := Match(c[id], filters...)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, clone(c[id]))
		}
	}
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, coll, id string) error {
	if err := ctx.Err(); err != nil {
		return errCanceled(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.coll(coll), id)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
