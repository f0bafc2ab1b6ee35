// Package lifecycle owns the status and destruct deadline transitions of notes:
//
//	ACTIVE --SoftDelete--> TRASHED --Restore--> ACTIVE
//
// A note whose destruct deadline has elapsed is logically purged whatever its status: it is
// filtered out of every read path and no longer accepts transitions, whether or not the purger
// has physically deleted it yet.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/clock"
	"wuyrush.io/note/common/logging"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/metrics"
	md "wuyrush.io/note/models"
	st "wuyrush.io/note/stores"
)

// IsVisible reports whether n shows up on regular read paths at now.
func IsVisible(n *md.Note, now time.Time) bool {
	return n.Status == md.StatusActive && !Expired(n, now)
}

// InTrash reports whether n shows up in its owner's trash at now.
func InTrash(n *md.Note, now time.Time) bool {
	return n.Status == md.StatusTrashed && !Expired(n, now)
}

// Expired reports whether the destruct deadline of n has elapsed at now.
func Expired(n *md.Note, now time.Time) bool {
	return n.DestructAt != nil && !now.Before(*n.DestructAt)
}

// Manager applies lifecycle transitions to stored notes. Each transition is a single conditional
// update of the note document.
type Manager struct {
	Notes *st.NoteStore
	Clock clock.Clock
	// Schedule, when set, is kept in sync with destruct deadlines for the purger
	Schedule st.DestructSchedule
	Metrics  *metrics.Metrics
}

func errGone(id string) error {
	return ne.NewNotFound(fmt.Sprintf("note %s not found", id))
}

// mutate applies fn to note id unless the note is logically purged. fn reports whether it changed
// the note.
func (m *Manager) mutate(ctx context.Context, id string, fn func(n *md.Note, now time.Time) (bool, error)) (*md.Note, bool, error) {
	now := m.Clock.Now()
	n, applied, err := m.Notes.Update(ctx, id, func(n *md.Note) (bool, error) {
		if Expired(n, now) {
			return false, errGone(id)
		}
		return fn(n, now)
	})
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, false, errGone(id)
	} else if err != nil {
		logging.FromContext(ctx).WithError(err).WithField(cst.LogFieldNoteID, id).Error("error updating note lifecycle")
		return nil, false, err
	}
	return n, applied, nil
}

// TrashOption customizes SoftDelete.
type TrashOption func(*trashConfig)

type trashConfig struct {
	retention time.Duration
}

// WithRetention makes SoftDelete also set the destruct deadline to d from now.
func WithRetention(d time.Duration) TrashOption {
	return func(c *trashConfig) {
		c.retention = d
	}
}

// SoftDelete moves note id to the trash and unpins it. The destruct deadline is left alone unless
// a retention is given. Trashing a trashed note changes nothing.
func (m *Manager) SoftDelete(ctx context.Context, id string, opts ...TrashOption) (*md.Note, error) {
	cfg := &trashConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	n, applied, err := m.mutate(ctx, id, func(n *md.Note, now time.Time) (bool, error) {
		if n.Status == md.StatusTrashed && cfg.retention <= 0 {
			return false, nil
		}
		n.Status = md.StatusTrashed
		n.Pinned = false
		if cfg.retention > 0 {
			at := now.Add(cfg.retention)
			n.DestructAt = &at
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		m.Metrics.LifecycleOp("trash")
		if cfg.retention > 0 {
			m.SyncSchedule(ctx, n)
		}
	}
	return n, nil
}

// Restore moves note id out of the trash. Restoring an active note changes nothing.
func (m *Manager) Restore(ctx context.Context, id string) (*md.Note, error) {
	n, applied, err := m.mutate(ctx, id, func(n *md.Note, now time.Time) (bool, error) {
		if n.Status == md.StatusActive {
			return false, nil
		}
		n.Status = md.StatusActive
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		m.Metrics.LifecycleOp("restore")
	}
	return n, nil
}

// SetDestructTimer sets the destruct deadline of note id to offset from the current time, or clears
// it for DestructNever.
func (m *Manager) SetDestructTimer(ctx context.Context, id string, offset md.DestructOffset) (*md.Note, error) {
	if _, ok := md.DestructOffsets[offset]; !ok {
		return nil, ne.NewBadInput(fmt.Sprintf("unknown destruct offset %q", offset))
	}
	n, _, err := m.mutate(ctx, id, func(n *md.Note, now time.Time) (bool, error) {
		n.DestructAt = offset.Deadline(now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.Metrics.LifecycleOp("destruct_timer")
	m.SyncSchedule(ctx, n)
	return n, nil
}

// SyncSchedule mirrors the deadline of n into the schedule. Failures are logged only: the deadline is
// enforced by IsVisible regardless, and the purger falls back to scanning notes.
func (m *Manager) SyncSchedule(ctx context.Context, n *md.Note) {
	if m.Schedule == nil {
		return
	}
	clog := logging.FromContext(ctx).WithField(cst.LogFieldNoteID, n.ID)
	var err error
	if n.DestructAt == nil {
		err = m.Schedule.Deregister(ctx, n.ID)
	} else {
		err = m.Schedule.Register(ctx, n.ID, *n.DestructAt)
	}
	if err != nil {
		clog.WithError(err).Warn("error syncing note deadline with destruct schedule")
	}
}

// PurgeIfExpired physically deletes n if its deadline has elapsed at now, and reports whether it
// did. The stored version of n is consulted at delete time, so a stale n whose deadline has since
// been moved is left alone.
func (m *Manager) PurgeIfExpired(ctx context.Context, n *md.Note, now time.Time) (bool, error) {
	if !Expired(n, now) {
		return false, nil
	}
	_, deleted, err := m.Notes.DeleteIf(ctx, n.ID, func(cur *md.Note) (bool, error) {
		return Expired(cur, now), nil
	})
	if ne.Is(err, ne.ErrCodeNotFound) {
		m.deregister(ctx, n.ID)
		return false, nil
	} else if err != nil {
		logging.FromContext(ctx).WithError(err).WithField(cst.LogFieldNoteID, n.ID).Error("error purging note")
		return false, err
	}
	if !deleted {
		return false, nil
	}
	m.purged(ctx, n.ID)
	m.Metrics.NotePurged()
	return true, nil
}

// DeleteForever permanently deletes note id, which must be in the trash. The check and the delete
// are one conditional delete, so a concurrent Restore either wins and keeps the note or loses and
// finds it gone.
func (m *Manager) DeleteForever(ctx context.Context, id string) error {
	now := m.Clock.Now()
	_, _, err := m.Notes.DeleteIf(ctx, id, func(n *md.Note) (bool, error) {
		if Expired(n, now) {
			return false, errGone(id)
		}
		if n.Status != md.StatusTrashed {
			return false, ne.NewBadInput("only trashed notes can be deleted forever")
		}
		return true, nil
	})
	if ne.Is(err, ne.ErrCodeNotFound) {
		return errGone(id)
	} else if err != nil {
		if !ne.Is(err, ne.ErrCodeBadInput) {
			logging.FromContext(ctx).WithError(err).WithField(cst.LogFieldNoteID, id).Error("error deleting note")
		}
		return err
	}
	m.purged(ctx, id)
	m.Metrics.LifecycleOp("delete_forever")
	return nil
}

func (m *Manager) purged(ctx context.Context, id string) {
	m.deregister(ctx, id)
	logging.FromContext(ctx).WithField(cst.LogFieldNoteID, id).WithFields(log.Fields{"purgedAt": m.Clock.Now()}).Info("note purged")
}

func (m *Manager) deregister(ctx context.Context, id string) {
	if m.Schedule == nil {
		return
	}
	if err := m.Schedule.Deregister(ctx, id); err != nil {
		logging.FromContext(ctx).WithError(err).WithField(cst.LogFieldNoteID, id).Warn("error deregistering purged note")
	}
}
