package stores

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
)

func testNote(id string, destructAt *time.Time) *md.Note {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &md.Note{
		ID:         id,
		OwnerID:    "alice",
		Title:      "Mitosis",
		Content:    "<p>prophase</p>",
		Category:   "Biology",
		Tags:       []string{"cells"},
		Status:     md.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		DestructAt: destructAt,
		ACL:        []string{"alice"},
	}
}

func TestNoteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := NewMemStore()
	s := &NoteStore{DB: db}
	at := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	n := testNote("n1", &at)
	require.NoError(t, s.Create(ctx, n))
	assert.True(t, ne.Is(s.Create(ctx, n), ne.ErrCodeExisted))

	actual, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, n, actual)

	// no deadline is no field at all
	require.NoError(t, s.Create(ctx, testNote("n2", nil)))
	raw, err := db.Get(ctx, cst.CollNotes, "n2")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), FieldDestructAt)
	actual, err = s.Get(ctx, "n2")
	require.NoError(t, err)
	assert.Nil(t, actual.DestructAt)
}

func TestNoteStore_Queries(t *testing.T) {
	ctx := context.Background()
	s := &NoteStore{DB: NewMemStore()}
	early := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	n1, n2, n3 := testNote("n1", &early), testNote("n2", &late), testNote("n3", nil)
	n3.OwnerID, n3.ACL = "bob", []string{"bob", "alice"}
	for _, n := range []*md.Note{n1, n2, n3} {
		require.NoError(t, s.Create(ctx, n))
	}
	ns, err := s.Expired(ctx, early)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "n1", ns[0].ID)

	ns, err = s.Readable(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, ns, 3)
	ns, err = s.Readable(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "n3", ns[0].ID)
}

func TestNoteStore_Update(t *testing.T) {
	ctx := context.Background()
	s := &NoteStore{DB: NewMemStore()}
	require.NoError(t, s.Create(ctx, testNote("n1", nil)))

	n, applied, err := s.Update(ctx, "n1", func(n *md.Note) (bool, error) {
		n.Title = "Meiosis"
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "Meiosis", n.Title)

	n, applied, err = s.Update(ctx, "n1", func(n *md.Note) (bool, error) {
		n.Title = "ignored"
		return false, nil
	})
	require.NoError(t, err)
	assert.False(t, applied)
	stored, err := s.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Meiosis", stored.Title)

	_, _, err = s.Update(ctx, "nope", func(n *md.Note) (bool, error) { return true, nil })
	assert.True(t, ne.Is(err, ne.ErrCodeNotFound))
}

func TestShareTokenStore_MarkUsedOnce(t *testing.T) {
	for name, newStore := range docStoreFactories() {
		t.Run(name, func(t *testing.T) {
			const racers = 24
			ctx := context.Background()
			s := &ShareTokenStore{DB: newStore(t)}
			tok := &md.ShareToken{ID: "t1", OwnerID: "alice", NoteID: "n1", CreatedAt: time.UnixMilli(1000).UTC()}
			require.NoError(t, s.Create(ctx, tok))

			var wins int32
			var wg sync.WaitGroup
			wg.Add(racers)
			for i := 0; i < racers; i++ {
				go func() {
					defer wg.Done()
					ok, err := s.MarkUsed(ctx, "t1")
					assert.NoError(t, err)
					if ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins, "exactly one caller may flip a token")

			stored, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, stored.IsUsed)
			ok, err := s.MarkUsed(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, ok)

			ts, err := s.ByNote(ctx, "n1")
			require.NoError(t, err)
			assert.Len(t, ts, 1)
		})
	}
}

func TestCategoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := &CategoryStore{DB: NewMemStore()}
	cats, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, cats)

	_, err = s.Update(ctx, "alice", func(cats []*md.Category) ([]*md.Category, error) {
		return append(cats, &md.Category{ID: "c1", OwnerID: "alice", Name: "Biology"}), nil
	})
	require.NoError(t, err)
	_, err = s.Update(ctx, "alice", func(cats []*md.Category) ([]*md.Category, error) {
		return nil, ne.NewBadInput("nope")
	})
	assert.True(t, ne.Is(err, ne.ErrCodeBadInput))

	cats, err = s.Load(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Biology", cats[0].Name)
}

func TestTagStore(t *testing.T) {
	ctx := context.Background()
	s := &TagStore{DB: NewMemStore()}
	require.NoError(t, s.Upsert(ctx, "alice", []string{"Zoology", "cells"}))
	require.NoError(t, s.Upsert(ctx, "alice", []string{"CELLS"}))
	require.NoError(t, s.Upsert(ctx, "bob", []string{"cells"}))
	tags, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []*md.Tag{{Name: "cells", OwnerID: "alice"}, {Name: "Zoology", OwnerID: "alice"}}, tags)
}
