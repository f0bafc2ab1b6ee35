// Package catalog manages the categories and tags notes are organized with. The categories of an
// owner form a forest: every category has at most one parent and parent chains never loop.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
	st "wuyrush.io/note/stores"
)

type Service struct {
	Categories *st.CategoryStore
	Tags       *st.TagStore
}

// find returns the category referenced by ref, an id or a case-insensitive name.
func find(cats []*md.Category, ref string) *md.Category {
	for _, c := range cats {
		if c.ID == ref {
			return c
		}
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, ref) {
			return c
		}
	}
	return nil
}

func errNoCategory(ref string) error {
	return ne.NewNotFound(fmt.Sprintf("category %s not found", ref))
}

func checkNameFree(cats []*md.Category, name, selfID string) error {
	for _, c := range cats {
		if c.ID != selfID && strings.EqualFold(c.Name, name) {
			return ne.NewExisted(fmt.Sprintf("category %s already exists", name))
		}
	}
	return nil
}

// createsCycle reports whether making parentID the parent of id would close a loop. The walk is
// bounded by the number of categories so corrupted data cannot trap it.
func createsCycle(cats []*md.Category, id, parentID string) bool {
	byID := make(map[string]*md.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}
	cur := parentID
	for steps := 0; cur != "" && steps <= len(cats); steps++ {
		if cur == id {
			return true
		}
		c, ok := byID[cur]
		if !ok {
			return false
		}
		cur = c.ParentID
	}
	return cur != ""
}

// CreateCategory adds a category for owner. ParentID may name the parent by id or by name.
func (s *Service) CreateCategory(ctx context.Context, owner string, d md.CategoryDraft) (*md.Category, error) {
	if err := md.Validate(d); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return nil, ne.NewBadInput("category name is required")
	}
	created := &md.Category{
		ID:          ksuid.New().String(),
		OwnerID:     owner,
		Name:        name,
		Description: d.Description,
	}
	_, err := s.Categories.Update(ctx, owner, func(cats []*md.Category) ([]*md.Category, error) {
		if err := checkNameFree(cats, name, ""); err != nil {
			return nil, err
		}
		created.ParentID = ""
		if d.ParentID != "" {
			p := find(cats, d.ParentID)
			if p == nil {
				return nil, errNoCategory(d.ParentID)
			}
			created.ParentID = p.ID
		}
		return append(cats, created), nil
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(log.Fields{"categoryID": created.ID, "parentID": created.ParentID}).Debug("category created")
	return created, nil
}

// UpdateCategory renames, describes or reparents category ref of owner. A reparenting that would
// make the category its own ancestor is rejected with BadInput.
func (s *Service) UpdateCategory(ctx context.Context, owner, ref string, e md.CategoryEdit) (*md.Category, error) {
	if err := md.Validate(e); err != nil {
		return nil, err
	}
	if e.Name != nil && strings.TrimSpace(*e.Name) == "" {
		return nil, ne.NewBadInput("category name cannot be empty")
	}
	var updated *md.Category
	_, err := s.Categories.Update(ctx, owner, func(cats []*md.Category) ([]*md.Category, error) {
		c := find(cats, ref)
		if c == nil {
			return nil, errNoCategory(ref)
		}
		if e.Name != nil {
			name := strings.TrimSpace(*e.Name)
			if err := checkNameFree(cats, name, c.ID); err != nil {
				return nil, err
			}
			c.Name = name
		}
		if e.Description != nil {
			c.Description = *e.Description
		}
		if e.ParentID != nil {
			parentID := ""
			if *e.ParentID != "" {
				p := find(cats, *e.ParentID)
				if p == nil {
					return nil, errNoCategory(*e.ParentID)
				}
				parentID = p.ID
			}
			if parentID == c.ID || createsCycle(cats, c.ID, parentID) {
				return nil, ne.NewBadInput(fmt.Sprintf("category %s cannot be nested under its own descendant", c.Name))
			}
			c.ParentID = parentID
		}
		updated = c
		return cats, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteCategory removes category ref of owner. Its children become roots.
func (s *Service) DeleteCategory(ctx context.Context, owner, ref string) error {
	_, err := s.Categories.Update(ctx, owner, func(cats []*md.Category) ([]*md.Category, error) {
		c := find(cats, ref)
		if c == nil {
			return nil, errNoCategory(ref)
		}
		kept := make([]*md.Category, 0, len(cats))
		for _, o := range cats {
			if o.ID == c.ID {
				continue
			}
			if o.ParentID == c.ID {
				o.ParentID = ""
			}
			kept = append(kept, o)
		}
		return kept, nil
	})
	return err
}

// ListCategories returns the categories of owner ordered by name.
func (s *Service) ListCategories(ctx context.Context, owner string) ([]*md.Category, error) {
	cats, err := s.Categories.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	sortByName(cats)
	return cats, nil
}

// GetCategory returns category ref of owner.
func (s *Service) GetCategory(ctx context.Context, owner, ref string) (*md.Category, error) {
	cats, err := s.Categories.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	c := find(cats, ref)
	if c == nil {
		return nil, errNoCategory(ref)
	}
	return c, nil
}

// Tree returns the categories of owner arranged as a forest.
func (s *Service) Tree(ctx context.Context, owner string) ([]*md.CategoryNode, error) {
	cats, err := s.Categories.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	return BuildForest(cats), nil
}

func sortByName(cats []*md.Category) {
	sort.Slice(cats, func(i, j int) bool {
		a, b := strings.ToLower(cats[i].Name), strings.ToLower(cats[j].Name)
		if a == b {
			return cats[i].ID < cats[j].ID
		}
		return a < b
	})
}

// BuildForest arranges cats into trees without recursion. Categories whose parent is unknown are
// roots; so is the first category, by name, of any loop left behind by corrupted data. Siblings
// are ordered by name.
func BuildForest(cats []*md.Category) []*md.CategoryNode {
	sorted := make([]*md.Category, len(cats))
	copy(sorted, cats)
	sortByName(sorted)
	nodes := make(map[string]*md.CategoryNode, len(sorted))
	for _, c := range sorted {
		nodes[c.ID] = &md.CategoryNode{Category: *c, Children: []*md.CategoryNode{}}
	}
	children := make(map[string][]*md.CategoryNode, len(sorted))
	for _, c := range sorted {
		if _, ok := nodes[c.ParentID]; ok && c.ParentID != c.ID {
			children[c.ParentID] = append(children[c.ParentID], nodes[c.ID])
		}
	}
	roots := []*md.CategoryNode{}
	placed := make(map[string]bool, len(sorted))
	attach := func(root *md.CategoryNode) {
		placed[root.ID] = true
		queue := []*md.CategoryNode{root}
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			for _, child := range children[n.ID] {
				if placed[child.ID] {
					continue
				}
				placed[child.ID] = true
				n.Children = append(n.Children, child)
				queue = append(queue, child)
			}
		}
	}
	for _, c := range sorted {
		if _, ok := nodes[c.ParentID]; !ok || c.ParentID == c.ID {
			n := nodes[c.ID]
			n.ParentID = ""
			roots = append(roots, n)
			attach(n)
		}
	}
	// whatever is left sits on a loop
	for _, c := range sorted {
		if !placed[c.ID] {
			n := nodes[c.ID]
			n.ParentID = ""
			roots = append(roots, n)
			attach(n)
		}
	}
	return roots
}

// UpsertTags records names as tags of owner.
func (s *Service) UpsertTags(ctx context.Context, owner string, names []string) error {
	return s.Tags.Upsert(ctx, owner, names)
}

// ListTags returns the tags of owner ordered by name.
func (s *Service) ListTags(ctx context.Context, owner string) ([]*md.Tag, error) {
	return s.Tags.List(ctx, owner)
}
