package notes

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	ne "wuyrush.io/note/errors"
	md "wuyrush.io/note/models"
	st "wuyrush.io/note/stores"
)

// UpdateCategory edits category ref of principal. A rename re-files the notes of principal filed
// under the old name.
func (s *Service) UpdateCategory(ctx context.Context, principal, ref string, e md.CategoryEdit) (*md.Category, error) {
	old, err := s.Catalog.GetCategory(ctx, principal, ref)
	if err != nil {
		return nil, err
	}
	from := old.Name
	c, err := s.Catalog.UpdateCategory(ctx, principal, ref, e)
	if err != nil {
		return nil, err
	}
	if c.Name != from {
		if err := s.refile(ctx, principal, from, c.Name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DeleteCategory deletes category ref of principal. Notes filed under it become uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, principal, ref string) error {
	old, err := s.Catalog.GetCategory(ctx, principal, ref)
	if err != nil {
		return err
	}
	from := old.Name
	if err := s.Catalog.DeleteCategory(ctx, principal, ref); err != nil {
		return err
	}
	return s.refile(ctx, principal, from, "")
}

// refile moves the notes of owner from category from to category to. UpdatedAt is left alone since
// the note itself was not edited.
func (s *Service) refile(ctx context.Context, owner, from, to string) error {
	ns, err := s.Notes.Query(ctx, st.Eq(st.FieldOwnerID, owner))
	if err != nil {
		return err
	}
	moved := 0
	for _, n := range ns {
		if !strings.EqualFold(n.Category, from) {
			continue
		}
		_, applied, err := s.Notes.Update(ctx, n.ID, func(n *md.Note) (bool, error) {
			if !strings.EqualFold(n.Category, from) {
				return false, nil
			}
			n.Category = to
			return true, nil
		})
		if ne.Is(err, ne.ErrCodeNotFound) {
			continue
		} else if err != nil {
			return err
		}
		if applied {
			moved++
		}
	}
	logging.FromContext(ctx).WithFields(log.Fields{"from": from, "to": to, "notes": moved}).Debug("notes refiled")
	return nil
}
