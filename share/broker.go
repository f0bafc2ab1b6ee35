// Package share mints and redeems one-time share links. A share token grants exactly one
// successful read of the note it references: the first resolution flips the token from unused to
// used through an atomic conditional update, and every later or concurrently losing resolution
// fails with the same InvalidLink error as a token that never existed.
package share

import (
	"context"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/access"
	"wuyrush.io/note/common/clock"
	"wuyrush.io/note/common/logging"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/lifecycle"
	"wuyrush.io/note/metrics"
	md "wuyrush.io/note/models"
	st "wuyrush.io/note/stores"
)

// PathPrefix is the path under BaseURL at which share links are served.
const PathPrefix = "/share/"

type Broker struct {
	Notes  *st.NoteStore
	Tokens *st.ShareTokenStore
	Clock  clock.Clock
	// BaseURL is the public URL of the share reader, e.g. https://notes.example.com
	BaseURL string
	Metrics *metrics.Metrics
}

// URL returns the link under which token is served.
func (b *Broker) URL(token string) string {
	return strings.TrimRight(b.BaseURL, "/") + PathPrefix + token
}

// CreateShareLink mints a fresh single-use token for note noteID on behalf of principal, who must
// own the note.
func (b *Broker) CreateShareLink(ctx context.Context, principal, noteID string) (*md.ShareLink, error) {
	clog := logging.FromContext(ctx).WithFields(log.Fields{cst.LogFieldNoteID: noteID, cst.LogFieldPrincipal: principal})
	n, err := b.Notes.Get(ctx, noteID)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, ne.NewNotFound("note not found")
	} else if err != nil {
		clog.WithError(err).Error("error loading note to share")
		return nil, ne.NewServiceFailure("error loading note").WithCause(err)
	}
	// notes the caller cannot see are reported as absent
	if !access.CanRead(principal, n) || !lifecycle.IsVisible(n, b.Clock.Now()) {
		return nil, ne.NewNotFound("note not found")
	}
	if !access.CanWrite(principal, n) {
		return nil, ne.NewForbidden("only the owner may share a note")
	}
	t := &md.ShareToken{
		ID:        uuid.New().String(),
		OwnerID:   n.OwnerID,
		NoteID:    n.ID,
		IsUsed:    false,
		CreatedAt: b.Clock.Now(),
	}
	// a single create-if-absent write: the token either exists completely or not at all
	if err := b.Tokens.Create(ctx, t); err != nil {
		clog.WithError(err).Error("error persisting share token")
		return nil, ne.NewServiceFailure("error creating share link").WithCause(err)
	}
	b.Metrics.ShareLink(metrics.ShareCreated)
	clog.Debug("share link created")
	return &md.ShareLink{Token: t.ID, URL: b.URL(t.ID)}, nil
}

// ResolveShareLink returns the note behind token and consumes the token. It succeeds at most once
// per token; every other outcome that concerns the token is an InvalidLink error. Storage failures
// are reported as ServiceFailure.
func (b *Broker) ResolveShareLink(ctx context.Context, token string) (*md.Note, error) {
	clog := logging.FromContext(ctx)
	n, err := b.resolve(ctx, token)
	if err != nil {
		if ne.Is(err, ne.ErrCodeInvalidLink) {
			b.Metrics.ShareLink(metrics.ShareRejected)
		} else {
			clog.WithError(err).Error("error resolving share link")
		}
		return nil, err
	}
	b.Metrics.ShareLink(metrics.ShareResolved)
	clog.WithField(cst.LogFieldNoteID, n.ID).Info("share link consumed")
	return n, nil
}

func (b *Broker) resolve(ctx context.Context, token string) (*md.Note, error) {
	// ids we never minted cannot exist; skip the lookup
	if _, err := uuid.Parse(token); err != nil {
		return nil, ne.NewInvalidLink()
	}
	t, err := b.Tokens.Get(ctx, token)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, ne.NewInvalidLink()
	} else if err != nil {
		return nil, ne.NewServiceFailure("error loading share token").WithCause(err)
	}
	if t.IsUsed {
		return nil, ne.NewInvalidLink()
	}
	n, err := b.Notes.Get(ctx, t.NoteID)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, ne.NewInvalidLink()
	} else if err != nil {
		return nil, ne.NewServiceFailure("error loading shared note").WithCause(err)
	}
	if !lifecycle.IsVisible(n, b.Clock.Now()) {
		return nil, ne.NewInvalidLink()
	}
	// the only step that decides who wins: losing the race is definitionally an invalid link
	applied, err := b.Tokens.MarkUsed(ctx, token)
	if ne.Is(err, ne.ErrCodeNotFound) {
		return nil, ne.NewInvalidLink()
	} else if err != nil {
		return nil, ne.NewServiceFailure("error consuming share token").WithCause(err)
	}
	if !applied {
		return nil, ne.NewInvalidLink()
	}
	return n, nil
}
