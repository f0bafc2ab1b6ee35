package stores

import (
	"context"
	"encoding/json"
	"time"

	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
)

// Field names of persisted documents usable in Filters.
const (
	FieldOwnerID    = "ownerId"
	FieldACL        = "acl"
	FieldStatus     = "status"
	FieldDestructAt = "destructAt"
	FieldNoteID     = "noteId"
	FieldIsUsed     = "isUsed"
)

// noteDoc is the persisted form of a note. Timestamps are unix milliseconds so that range filters
// compare numbers on every backend; a nil DestructAt is left out of the document entirely.
type noteDoc struct {
	ID         string   `json:"id"`
	OwnerID    string   `json:"ownerId"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Tags       []string `json:"tags"`
	Status     string   `json:"status"`
	Pinned     bool     `json:"pinned"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
	DestructAt *int64   `json:"destructAt,omitempty"`
	ACL        []string `json:"acl"`
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func encodeNote(n *md.Note) ([]byte, error) {
	d := noteDoc{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		Title:     n.Title,
		Content:   n.Content,
		Category:  n.Category,
		Tags:      n.Tags,
		Status:    string(n.Status),
		Pinned:    n.Pinned,
		CreatedAt: n.CreatedAt.UnixMilli(),
		UpdatedAt: n.UpdatedAt.UnixMilli(),
		ACL:       n.ACL,
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if n.DestructAt != nil {
		ms := n.DestructAt.UnixMilli()
		d.DestructAt = &ms
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, ne.NewServiceFailure("error encoding note").WithCause(err)
	}
	return b, nil
}

func decodeNote(b []byte) (*md.Note, error) {
	d := noteDoc{}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, ne.NewServiceFailure("error decoding note").WithCause(err)
	}
	n := &md.Note{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Title:     d.Title,
		Content:   d.Content,
		Category:  d.Category,
		Tags:      d.Tags,
		Status:    md.Status(d.Status),
		Pinned:    d.Pinned,
		CreatedAt: fromMillis(d.CreatedAt),
		UpdatedAt: fromMillis(d.UpdatedAt),
		ACL:       d.ACL,
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if d.DestructAt != nil {
		t := fromMillis(*d.DestructAt)
		n.DestructAt = &t
	}
	return n, nil
}

// NoteStore persists notes in a DocStore.
type NoteStore struct {
	DB DocStore
}

// Create persists a new note; it fails with Existed if the id is taken.
func (s *NoteStore) Create(ctx context.Context, n *md.Note) error {
	b, err := encodeNote(n)
	if err != nil {
		return err
	}
	return s.DB.Create(ctx, cst.CollNotes, n.ID, b)
}

func (s *NoteStore) Get(ctx context.Context, id string) (*md.Note, error) {
	b, err := s.DB.Get(ctx, cst.CollNotes, id)
	if err != nil {
		return nil, err
	}
	return decodeNote(b)
}

// Update atomically applies fn to the current version of note id. fn mutates the note it is given
// and reports whether the mutation should be written; it may be called more than once. Update
// returns the last version fn saw, mutated or not, and whether the write was applied.
func (s *NoteStore) Update(ctx context.Context, id string, fn func(n *md.Note) (bool, error)) (*md.Note, bool, error) {
	var last *md.Note
	applied, err := s.DB.ConditionalUpdate(ctx, cst.CollNotes, id, func(cur []byte) ([]byte, bool, error) {
		n, err := decodeNote(cur)
		if err != nil {
			return nil, false, err
		}
		last = n
		ok, err := fn(n)
		if err != nil || !ok {
			return nil, false, err
		}
		b, err := encodeNote(n)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return last, applied, nil
}

func (s *NoteStore) Query(ctx context.Context, filters ...Filter) ([]*md.Note, error) {
	bs, err := s.DB.Query(ctx, cst.CollNotes, filters...)
	if err != nil {
		return nil, err
	}
	ns := make([]*md.Note, 0, len(bs))
	for _, b := range bs {
		n, err := decodeNote(b)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	return ns, nil
}

// Readable returns the notes whose access list holds principal.
func (s *NoteStore) Readable(ctx context.Context, principal string) ([]*md.Note, error) {
	return s.Query(ctx, Contains(FieldACL, principal))
}

// Expired returns the notes whose destruct deadline is not after now.
func (s *NoteStore) Expired(ctx context.Context, now time.Time) ([]*md.Note, error) {
	return s.Query(ctx, Lte(FieldDestructAt, now))
}

func (s *NoteStore) Delete(ctx context.Context, id string) error {
	return s.DB.Delete(ctx, cst.CollNotes, id)
}

// DeleteIf atomically deletes note id if fn approves its current version; fn may be called more
// than once. It returns the last version fn saw and whether the note was deleted.
func (s *NoteStore) DeleteIf(ctx context.Context, id string, fn func(n *md.Note) (bool, error)) (*md.Note, bool, error) {
	var last *md.Note
	deleted, err := s.DB.ConditionalDelete(ctx, cst.CollNotes, id, func(cur []byte) (bool, error) {
		n, err := decodeNote(cur)
		if err != nil {
			return false, err
		}
		last = n
		return fn(n)
	})
	if err != nil {
		return nil, false, err
	}
	return last, deleted, nil
}

type shareTokenDoc struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	NoteID    string `json:"noteId"`
	IsUsed    bool   `json:"isUsed"`
	CreatedAt int64  `json:"createdAt"`
}

// ShareTokenStore persists share tokens in a DocStore. Tokens are never deleted.
type ShareTokenStore struct {
	DB DocStore
}

func (s *ShareTokenStore) Create(ctx context.Context, t *md.ShareToken) error {
	b, err := json.Marshal(shareTokenDoc{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		NoteID:    t.NoteID,
		IsUsed:    t.IsUsed,
		CreatedAt: t.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return ne.NewServiceFailure("error encoding share token").WithCause(err)
	}
	return s.DB.Create(ctx, cst.CollShareTokens, t.ID, b)
}

func decodeShareToken(b []byte) (*md.ShareToken, error) {
	d := shareTokenDoc{}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, ne.NewServiceFailure("error decoding share token").WithCause(err)
	}
	return &md.ShareToken{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		NoteID:    d.NoteID,
		IsUsed:    d.IsUsed,
		CreatedAt: fromMillis(d.CreatedAt),
	}, nil
}

func (s *ShareTokenStore) Get(ctx context.Context, id string) (*md.ShareToken, error) {
	b, err := s.DB.Get(ctx, cst.CollShareTokens, id)
	if err != nil {
		return nil, err
	}
	return decodeShareToken(b)
}

// MarkUsed flips token id from unused to used and reports whether this call made the flip. At most
// one call ever returns true for a given token.
func (s *ShareTokenStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	return s.DB.ConditionalUpdate(ctx, cst.CollShareTokens, id, func(cur []byte) ([]byte, bool, error) {
		d := shareTokenDoc{}
		if err := json.Unmarshal(cur, &d); err != nil {
			return nil, false, ne.NewServiceFailure("error decoding share token").WithCause(err)
		}
		if d.IsUsed {
			return nil, false, nil
		}
		d.IsUsed = true
		b, err := json.Marshal(d)
		if err != nil {
			return nil, false, ne.NewServiceFailure("error encoding share token").WithCause(err)
		}
		return b, true, nil
	})
}

// ByNote returns the tokens minted for note noteID.
func (s *ShareTokenStore) ByNote(ctx context.Context, noteID string) ([]*md.ShareToken, error) {
	bs, err := s.DB.Query(ctx, cst.CollShareTokens, Eq(FieldNoteID, noteID))
	if err != nil {
		return nil, err
	}
	ts := make([]*md.ShareToken, 0, len(bs))
	for _, b := range bs {
		t, err := decodeShareToken(b)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}
