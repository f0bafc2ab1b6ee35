// Package notes serves the owner-facing note operations: authoring, listing, pinning, sharing and
// the trash. Status and deadline transitions are delegated to the lifecycle manager and share
// links to the share broker; this package decides who may ask for them.
package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/access"
	"wuyrush.io/note/catalog"
	"wuyrush.io/note/common/clock"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/retry"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/lifecycle"
	md "wuyrush.io/note/models"
	"wuyrush.io/note/share"
	st "wuyrush.io/note/stores"
)

const defaultTitle = "Untitled"

// errStaleEdit marks an edit based on an outdated version of a note
var errStaleEdit = errors.New("note changed since the edit began")

type Service struct {
	Notes     *st.NoteStore
	Lifecycle *lifecycle.Manager
	Broker    *share.Broker
	Catalog   *catalog.Service
	Clock     clock.Clock
}

func errNoNote(id string) error {
	return ne.NewNotFound(fmt.Sprintf("note %s not found", id))
}

// authorize returns the note id if principal may write it. Notes principal cannot read, or that
// are logically purged, are reported as absent. Trashed notes are only accepted if allowTrashed.
func (s *Service) authorize(ctx context.Context, principal, id string, allowTrashed bool) (*md.Note, error) {
	n, err := s.Notes.Get(ctx, id)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, errNoNote(id)
	} else if err != nil {
		return nil, err
	}
	if err := s.check(n, principal, s.Clock.Now(), allowTrashed); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) check(n *md.Note, principal string, now time.Time, allowTrashed bool) error {
	if !access.CanRead(principal, n) || lifecycle.Expired(n, now) {
		return errNoNote(n.ID)
	}
	if !access.CanWrite(principal, n) {
		if lifecycle.IsVisible(n, now) {
			return ne.NewForbidden("only the owner may change a note")
		}
		return errNoNote(n.ID)
	}
	if n.Status == md.StatusTrashed && !allowTrashed {
		return ne.NewBadInput("note is in the trash; restore it first")
	}
	return nil
}

// resolveCategory returns the canonical name of category ref of owner.
func (s *Service) resolveCategory(ctx context.Context, owner, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || s.Catalog == nil {
		return ref, nil
	}
	c, err := s.Catalog.GetCategory(ctx, owner, ref)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return "", ne.NewBadInput(fmt.Sprintf("unknown category %s", ref))
	} else if err != nil {
		return "", err
	}
	return c.Name, nil
}

func (s *Service) upsertTags(ctx context.Context, owner string, tags []string) {
	if s.Catalog == nil || len(tags) == 0 {
		return
	}
	if err := s.Catalog.UpsertTags(ctx, owner, tags); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("tags", tags).Warn("error recording note tags")
	}
}

// Create writes a new note owned by principal.
func (s *Service) Create(ctx context.Context, principal string, d md.NoteDraft) (*md.Note, error) {
	if principal == "" {
		return nil, ne.NewUnauthorized("authentication required")
	}
	if err := md.Validate(d); err != nil {
		return nil, err
	}
	offset, err := md.ParseDestructOffset(string(d.Destruct))
	if err != nil {
		return nil, err
	}
	category, err := s.resolveCategory(ctx, principal, d.Category)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = defaultTitle
	}
	now := s.Clock.Now()
	n := &md.Note{
		ID:         ksuid.New().String(),
		OwnerID:    principal,
		Title:      title,
		Content:    d.Content,
		Category:   category,
		Tags:       md.NormalizeTags(d.Tags),
		Status:     md.StatusActive,
		Pinned:     d.Pinned,
		CreatedAt:  now,
		UpdatedAt:  now,
		DestructAt: offset.Deadline(now),
		ACL:        []string{principal},
	}
	if err := s.Notes.Create(ctx, n); err != nil {
		logging.FromContext(ctx).WithError(err).Error("error creating note")
		return nil, err
	}
	s.upsertTags(ctx, principal, n.Tags)
	if n.DestructAt != nil {
		s.Lifecycle.SyncSchedule(ctx, n)
	}
	logging.FromContext(ctx).WithField(cst.LogFieldNoteID, n.ID).Debug("note created")
	return n, nil
}

// Get returns note id if principal may read it. Owners also see their trashed notes.
func (s *Service) Get(ctx context.Context, principal, id string) (*md.Note, error) {
	n, err := s.Notes.Get(ctx, id)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, errNoNote(id)
	} else if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	if !access.CanRead(principal, n) {
		return nil, errNoNote(id)
	}
	if lifecycle.IsVisible(n, now) || (access.CanWrite(principal, n) && lifecycle.InTrash(n, now)) {
		return n, nil
	}
	return nil, errNoNote(id)
}

// Edit applies e to note id. Only fields set in e change; UpdatedAt is bumped. When e carries
// BaseUpdatedAt, the edit fails with Conflict if the note was updated since.
func (s *Service) Edit(ctx context.Context, principal, id string, e md.NoteEdit) (*md.Note, error) {
	if err := md.Validate(e); err != nil {
		return nil, err
	}
	var offset *md.DestructOffset
	if e.Destruct != nil {
		o, err := md.ParseDestructOffset(string(*e.Destruct))
		if err != nil {
			return nil, err
		}
		offset = &o
	}
	var category *string
	if e.Category != nil {
		c, err := s.resolveCategory(ctx, principal, *e.Category)
		if err != nil {
			return nil, err
		}
		category = &c
	}
	var edited *md.Note
	err := retry.Retry(
		func() error {
			now := s.Clock.Now()
			n, _, err := s.Notes.Update(ctx, id, func(n *md.Note) (bool, error) {
				if err := s.check(n, principal, now, false); err != nil {
					return false, err
				}
				if e.BaseUpdatedAt != nil && e.BaseUpdatedAt.UnixMilli() != n.UpdatedAt.UnixMilli() {
					return false, ne.NewConflict("note was changed by someone else").WithCause(errStaleEdit)
				}
				if e.Title != nil {
					n.Title = strings.TrimSpace(*e.Title)
					if n.Title == "" {
						n.Title = defaultTitle
					}
				}
				if e.Content != nil {
					n.Content = *e.Content
				}
				if category != nil {
					n.Category = *category
				}
				if e.Tags != nil {
					n.Tags = md.NormalizeTags(*e.Tags)
				}
				if e.Pinned != nil {
					n.Pinned = *e.Pinned
				}
				if offset != nil {
					n.DestructAt = offset.Deadline(now)
				}
				n.UpdatedAt = now
				if n.UpdatedAt.Before(n.CreatedAt) {
					n.UpdatedAt = n.CreatedAt
				}
				return true, nil
			})
			edited = n
			return err
		},
		retry.WithRetryOn(func(err error) bool {
			return ne.Is(err, ne.ErrCodeConflict) && !errors.Is(err, errStaleEdit)
		}),
		retry.WithMaxAttempts(3),
		retry.WithBaseDelay(10*time.Millisecond),
		retry.WithExp(2),
	)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, errNoNote(id)
	} else if err != nil {
		return nil, err
	}
	if e.Tags != nil {
		s.upsertTags(ctx, principal, edited.Tags)
	}
	if offset != nil {
		s.Lifecycle.SyncSchedule(ctx, edited)
	}
	return edited, nil
}

// SetPinned pins or unpins note id.
func (s *Service) SetPinned(ctx context.Context, principal, id string, pinned bool) (*md.Note, error) {
	now := s.Clock.Now()
	n, _, err := s.Notes.Update(ctx, id, func(n *md.Note) (bool, error) {
		if err := s.check(n, principal, now, false); err != nil {
			return false, err
		}
		if n.Pinned == pinned {
			return false, nil
		}
		n.Pinned = pinned
		return true, nil
	})
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, errNoNote(id)
	}
	return n, err
}

func matches(n *md.Note, f md.ListFilter) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		if !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Content), q) {
			return false
		}
	}
	if f.Category != "" && !strings.EqualFold(n.Category, strings.TrimSpace(f.Category)) {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range n.Tags {
			if strings.EqualFold(t, strings.TrimSpace(f.Tag)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortNotes orders pinned notes first, then by most recent update.
func sortNotes(ns []*md.Note) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}

// List returns the visible notes principal may read that match f.
func (s *Service) List(ctx context.Context, principal string, f md.ListFilter) ([]*md.Note, error) {
	if principal == "" {
		return nil, ne.NewUnauthorized("authentication required")
	}
	ns, err := s.Notes.Readable(ctx, principal)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("error listing notes")
		return nil, err
	}
	now := s.Clock.Now()
	out := make([]*md.Note, 0, len(ns))
	for _, n := range ns {
		if lifecycle.IsVisible(n, now) && matches(n, f) {
			out = append(out, n)
		}
	}
	sortNotes(out)
	return out, nil
}

// ListTrash returns the trashed notes of principal whose deadline has not elapsed.
func (s *Service) ListTrash(ctx context.Context, principal string) ([]*md.Note, error) {
	if principal == "" {
		return nil, ne.NewUnauthorized("authentication required")
	}
	ns, err := s.Notes.Query(ctx, st.Eq(st.FieldOwnerID, principal), st.Eq(st.FieldStatus, md.StatusTrashed))
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("error listing trash")
		return nil, err
	}
	now := s.Clock.Now()
	out := make([]*md.Note, 0, len(ns))
	for _, n := range ns {
		if lifecycle.InTrash(n, now) {
			out = append(out, n)
		}
	}
	sortNotes(out)
	return out, nil
}

// Trash moves note id to the trash, optionally scheduling its destruction retention from now.
func (s *Service) Trash(ctx context.Context, principal, id string, retention time.Duration) (*md.Note, error) {
	if _, err := s.authorize(ctx, principal, id, true); err != nil {
		return nil, err
	}
	opts := []lifecycle.TrashOption{}
	if retention > 0 {
		opts = append(opts, lifecycle.WithRetention(retention))
	}
	return s.Lifecycle.SoftDelete(ctx, id, opts...)
}

func (s *Service) Restore(ctx context.Context, principal, id string) (*md.Note, error) {
	if _, err := s.authorize(ctx, principal, id, true); err != nil {
		return nil, err
	}
	return s.Lifecycle.Restore(ctx, id)
}

func (s *Service) SetDestructTimer(ctx context.Context, principal, id string, offset md.DestructOffset) (*md.Note, error) {
	if _, err := s.authorize(ctx, principal, id, true); err != nil {
		return nil, err
	}
	return s.Lifecycle.SetDestructTimer(ctx, id, offset)
}

// DeleteForever permanently deletes trashed note id.
func (s *Service) DeleteForever(ctx context.Context, principal, id string) error {
	if _, err := s.authorize(ctx, principal, id, true); err != nil {
		return err
	}
	return s.Lifecycle.DeleteForever(ctx, id)
}

// Share mints a one-time share link to note id.
func (s *Service) Share(ctx context.Context, principal, id string) (*md.ShareLink, error) {
	return s.Broker.CreateShareLink(ctx, principal, id)
}

// GrantRead adds reader to the access list of note id.
func (s *Service) GrantRead(ctx context.Context, principal, id, reader string) (*md.Note, error) {
	reader = strings.TrimSpace(reader)
	if reader == "" {
		return nil, ne.NewBadInput("reader is required")
	}
	return s.updateACL(ctx, principal, id, func(acl []string) ([]string, bool) {
		for _, p := range acl {
			if p == reader {
				return acl, false
			}
		}
		return append(acl, reader), true
	})
}

// RevokeRead removes reader from the access list of note id. The owner cannot be removed.
func (s *Service) RevokeRead(ctx context.Context, principal, id, reader string) (*md.Note, error) {
	if reader == principal {
		return nil, ne.NewBadInput("the owner cannot lose access to a note")
	}
	return s.updateACL(ctx, principal, id, func(acl []string) ([]string, bool) {
		out := make([]string, 0, len(acl))
		for _, p := range acl {
			if p != reader {
				out = append(out, p)
			}
		}
		return out, len(out) != len(acl)
	})
}

func (s *Service) updateACL(ctx context.Context, principal, id string, fn func(acl []string) ([]string, bool)) (*md.Note, error) {
	now := s.Clock.Now()
	n, applied, err := s.Notes.Update(ctx, id, func(n *md.Note) (bool, error) {
		if err := s.check(n, principal, now, true); err != nil {
			return false, err
		}
		acl, changed := fn(append([]string{}, n.ACL...))
		n.ACL = acl
		return changed, nil
	})
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, errNoNote(id)
	} else if err != nil {
		return nil, err
	}
	if applied {
		logging.FromContext(ctx).WithFields(log.Fields{cst.LogFieldNoteID: id, "acl": n.ACL}).Info("note access list changed")
	}
	return n, nil
}
