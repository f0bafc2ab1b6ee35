package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
	st "wuyrush.io/note/stores"
)

func setup() *Service {
	db := st.NewMemStore()
	return &Service{Categories: &st.CategoryStore{DB: db}, Tags: &st.TagStore{DB: db}}
}

func strPtr(s string) *string {
	return &s
}

// Biology <- Genetics; making Biology a child of Genetics must be rejected.
func TestScenario_CategoryCycleRejected(t *testing.T) {
	s := setup()
	ctx := context.Background()
	bio, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Biology"})
	require.NoError(t, err)
	assert.True(t, bio.Root())
	gen, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Genetics", ParentID: "Biology"})
	require.NoError(t, err)
	assert.Equal(t, bio.ID, gen.ParentID)

	_, err = s.UpdateCategory(ctx, "alice", "Biology", md.CategoryEdit{ParentID: strPtr("Genetics")})
	assert.True(t, ne.Is(err, ne.ErrCodeBadInput), "expected bad input, got %v", err)
	_, err = s.UpdateCategory(ctx, "alice", bio.ID, md.CategoryEdit{ParentID: strPtr(bio.ID)})
	assert.True(t, ne.Is(err, ne.ErrCodeBadInput), "a category cannot parent itself")

	stored, err := s.GetCategory(ctx, "alice", "biology")
	require.NoError(t, err)
	assert.True(t, stored.Root(), "a rejected update must not be persisted")
}

func TestCreateCategory(t *testing.T) {
	s := setup()
	ctx := context.Background()
	_, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Biology"})
	require.NoError(t, err)

	tcs := []struct {
		name  string
		owner string
		draft md.CategoryDraft
		code  ne.ErrCode
	}{
		{name: "DuplicateNameCaseInsensitive", owner: "alice", draft: md.CategoryDraft{Name: " biology "}, code: ne.ErrCodeExisted},
		{name: "BlankName", owner: "alice", draft: md.CategoryDraft{Name: "   "}, code: ne.ErrCodeBadInput},
		{name: "MissingName", owner: "alice", draft: md.CategoryDraft{}, code: ne.ErrCodeBadInput},
		{name: "UnknownParent", owner: "alice", draft: md.CategoryDraft{Name: "Genetics", ParentID: "Chemistry"}, code: ne.ErrCodeNotFound},
		{name: "OtherOwnersParent", owner: "bob", draft: md.CategoryDraft{Name: "Genetics", ParentID: "Biology"}, code: ne.ErrCodeNotFound},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.CreateCategory(ctx, c.owner, c.draft)
			assert.True(t, ne.Is(err, c.code), "expected %s, got %v", c.code, err)
		})
	}

	// names are scoped per owner
	_, err = s.CreateCategory(ctx, "bob", md.CategoryDraft{Name: "Biology"})
	assert.NoError(t, err)
}

func TestUpdateCategory(t *testing.T) {
	s := setup()
	ctx := context.Background()
	bio, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Biology"})
	require.NoError(t, err)
	chem, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Chemistry"})
	require.NoError(t, err)

	c, err := s.UpdateCategory(ctx, "alice", bio.ID, md.CategoryEdit{Name: strPtr("Life Sciences"), Description: strPtr("all things alive")})
	require.NoError(t, err)
	assert.Equal(t, "Life Sciences", c.Name)
	assert.Equal(t, "all things alive", c.Description)

	_, err = s.UpdateCategory(ctx, "alice", bio.ID, md.CategoryEdit{Name: strPtr("chemistry")})
	assert.True(t, ne.Is(err, ne.ErrCodeExisted))
	_, err = s.UpdateCategory(ctx, "alice", bio.ID, md.CategoryEdit{Name: strPtr(" ")})
	assert.True(t, ne.Is(err, ne.ErrCodeBadInput))

	c, err = s.UpdateCategory(ctx, "alice", chem.ID, md.CategoryEdit{ParentID: strPtr(bio.ID)})
	require.NoError(t, err)
	assert.Equal(t, bio.ID, c.ParentID)
	c, err = s.UpdateCategory(ctx, "alice", chem.ID, md.CategoryEdit{ParentID: strPtr("")})
	require.NoError(t, err)
	assert.True(t, c.Root())

	_, err = s.UpdateCategory(ctx, "alice", "Physics", md.CategoryEdit{})
	assert.True(t, ne.Is(err, ne.ErrCodeNotFound))
}

func TestDeleteCategory_ChildrenBecomeRoots(t *testing.T) {
	s := setup()
	ctx := context.Background()
	_, err := s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Biology"})
	require.NoError(t, err)
	_, err = s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Genetics", ParentID: "Biology"})
	require.NoError(t, err)
	_, err = s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Zoology", ParentID: "Biology"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCategory(ctx, "alice", "Biology"))
	assert.True(t, ne.Is(s.DeleteCategory(ctx, "alice", "Biology"), ne.ErrCodeNotFound))

	cats, err := s.ListCategories(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	for _, c := range cats {
		assert.True(t, c.Root(), "%s should be a root", c.Name)
	}
	assert.Equal(t, "Genetics", cats[0].Name)
	assert.Equal(t, "Zoology", cats[1].Name)
}

func TestBuildForest(t *testing.T) {
	cats := []*md.Category{
		{ID: "bio", Name: "Biology"},
		{ID: "zoo", Name: "Zoology", ParentID: "bio"},
		{ID: "gen", Name: "Genetics", ParentID: "bio"},
		{ID: "epi", Name: "Epigenetics", ParentID: "gen"},
		{ID: "orphan", Name: "Orphan", ParentID: "gone"},
		// a loop only corrupted data can hold
		{ID: "a", Name: "Alpha", ParentID: "b"},
		{ID: "b", Name: "Beta", ParentID: "a"},
		{ID: "self", Name: "Self", ParentID: "self"},
	}
	forest := BuildForest(cats)
	names := func(ns []*md.CategoryNode) []string {
		out := []string{}
		for _, n := range ns {
			out = append(out, n.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Biology", "Orphan", "Self", "Alpha"}, names(forest))
	bio := forest[0]
	assert.Equal(t, []string{"Genetics", "Zoology"}, names(bio.Children))
	assert.Equal(t, []string{"Epigenetics"}, names(bio.Children[0].Children))
	alpha := forest[3]
	assert.Equal(t, []string{"Beta"}, names(alpha.Children))
	assert.Empty(t, alpha.Children[0].Children, "a loop must be cut")
	for _, r := range forest {
		assert.True(t, r.Root())
	}
}

func TestBuildForest_DeepChain(t *testing.T) {
	const depth = 20000
	cats := make([]*md.Category, depth)
	for i := range cats {
		cats[i] = &md.Category{ID: fmt.Sprintf("c%05d", i), Name: fmt.Sprintf("c%05d", i)}
		if i > 0 {
			cats[i].ParentID = cats[i-1].ID
		}
	}
	forest := BuildForest(cats)
	require.Len(t, forest, 1)
	n, levels := forest[0], 1
	for len(n.Children) > 0 {
		require.Len(t, n.Children, 1)
		n = n.Children[0]
		levels++
	}
	assert.Equal(t, depth, levels)
}

func TestTree(t *testing.T) {
	s := setup()
	ctx := context.Background()
	forest, err := s.Tree(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, forest)

	_, err = s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Biology"})
	require.NoError(t, err)
	_, err = s.CreateCategory(ctx, "alice", md.CategoryDraft{Name: "Genetics", ParentID: "Biology"})
	require.NoError(t, err)
	forest, err = s.Tree(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, forest, 1)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, "Genetics", forest[0].Children[0].Name)
}

func TestTags(t *testing.T) {
	s := setup()
	ctx := context.Background()
	require.NoError(t, s.UpsertTags(ctx, "alice", []string{"cells", "Cells", "dna"}))
	tags, err := s.ListTags(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "cells", tags[0].Name)
	assert.Equal(t, "dna", tags[1].Name)
}
