package stores

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
)

type categoryForestDoc struct {
	OwnerID    string         `json:"ownerId"`
	Categories []*md.Category `json:"categories"`
}

// CategoryStore keeps all categories of an owner in one document, so that every change to the
// forest is a single atomic update.
type CategoryStore struct {
	DB DocStore
}

func (s *CategoryStore) decode(b []byte) (*categoryForestDoc, error) {
	d := &categoryForestDoc{}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, ne.NewServiceFailure("error decoding category forest").WithCause(err)
	}
	if d.Categories == nil {
		d.Categories = []*md.Category{}
	}
	return d, nil
}

// Load returns the categories of owner; an owner who never created one has none.
func (s *CategoryStore) Load(ctx context.Context, owner string) ([]*md.Category, error) {
	b, err := s.DB.Get(ctx, cst.CollCategoryForests, owner)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return []*md.Category{}, nil
	} else if err != nil {
		return nil, err
	}
	d, err := s.decode(b)
	if err != nil {
		return nil, err
	}
	return d.Categories, nil
}

// Update atomically replaces the categories of owner with the output of fn. fn may be called more
// than once and must derive its result from its input only.
func (s *CategoryStore) Update(ctx context.Context, owner string, fn func(cats []*md.Category) ([]*md.Category, error)) ([]*md.Category, error) {
	empty, err := json.Marshal(categoryForestDoc{OwnerID: owner, Categories: []*md.Category{}})
	if err != nil {
		return nil, ne.NewServiceFailure("error encoding category forest").WithCause(err)
	}
	if err := s.DB.Create(ctx, cst.CollCategoryForests, owner, empty); err != nil && !ne.Is(err, ne.ErrCodeExisted) {
		return nil, err
	}
	var out []*md.Category
	_, err = s.DB.ConditionalUpdate(ctx, cst.CollCategoryForests, owner, func(cur []byte) ([]byte, bool, error) {
		d, err := s.decode(cur)
		if err != nil {
			return nil, false, err
		}
		next, err := fn(d.Categories)
		if err != nil {
			return nil, false, err
		}
		d.Categories = next
		b, err := json.Marshal(d)
		if err != nil {
			return nil, false, ne.NewServiceFailure("error encoding category forest").WithCause(err)
		}
		out = next
		return b, true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TagStore persists tags, one document per owner and case-folded name.
type TagStore struct {
	DB DocStore
}

// Upsert records names as tags of owner. Names already known are left alone.
func (s *TagStore) Upsert(ctx context.Context, owner string, names []string) error {
	for _, name := range md.NormalizeTags(names) {
		b, err := json.Marshal(md.Tag{Name: name, OwnerID: owner})
		if err != nil {
			return ne.NewServiceFailure("error encoding tag").WithCause(err)
		}
		if err := s.DB.Create(ctx, cst.CollTags, md.TagKey(owner, name), b); err != nil && !ne.Is(err, ne.ErrCodeExisted) {
			return err
		}
	}
	return nil
}

// List returns the tags of owner ordered by case-folded name.
func (s *TagStore) List(ctx context.Context, owner string) ([]*md.Tag, error) {
	bs, err := s.DB.Query(ctx, cst.CollTags, Eq(FieldOwnerID, owner))
	if err != nil {
		return nil, err
	}
	tags := make([]*md.Tag, 0, len(bs))
	for _, b := range bs {
		t := &md.Tag{}
		if err := json.Unmarshal(b, t); err != nil {
			return nil, ne.NewServiceFailure("error decoding tag").WithCause(err)
		}
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		return strings.ToLower(tags[i].Name) < strings.ToLower(tags[j].Name)
	})
	return tags, nil
}
