package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	ne "wuyrush.io/note/errors"
)

/*
 Application layer data models.
*/

type Status string

const (
	StatusActive  Status = "active"
	StatusTrashed Status = "trashed"
)

var StatusVals = map[Status]struct{}{
	StatusActive:  {},
	StatusTrashed: {},
}

// Note is a rich-text note. DestructAt is nil when the note has no destruct deadline; there is no
// "never" sentinel timestamp.
type Note struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Category   string     `json:"category,omitempty"`
	Tags       []string   `json:"tags"`
	Status     Status     `json:"status"`
	Pinned     bool       `json:"pinned"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DestructAt *time.Time `json:"destructAt,omitempty"`
	// ACL lists principals allowed to read the note. It always contains OwnerID.
	ACL []string `json:"acl"`
}

// Category is a node of its owner's category forest.
type Category struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
}

// Root reports whether c has no parent.
func (c *Category) Root() bool {
	return c.ParentID == ""
}

// CategoryNode is a Category placed in a tree.
type CategoryNode struct {
	Category
	Children []*CategoryNode `json:"children"`
}

// Tag is identified per owner by its case-folded name.
type Tag struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// TagKey returns the identity of tag name for owner.
func TagKey(ownerID, name string) string {
	return ownerID + ":" + strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTags trims tag names and drops empty and case-insensitive duplicate ones, keeping the
// first spelling seen.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ShareToken is a single-use reference to a note.
type ShareToken struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	NoteID    string    `json:"noteId"`
	IsUsed    bool      `json:"isUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// ShareLink vends a freshly minted share token to its owner
type ShareLink struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// DestructOffset is a relative destruct deadline chosen by a note owner.
type DestructOffset string

const (
	DestructNever   DestructOffset = "none"
	DestructOneHour DestructOffset = "1h"
	DestructOneDay  DestructOffset = "1d"
	DestructOneWeek DestructOffset = "7d"
)

// DestructOffsets maps each known offset to its length.
var DestructOffsets = map[DestructOffset]time.Duration{
	DestructNever:   0,
	DestructOneHour: time.Hour,
	DestructOneDay:  24 * time.Hour,
	DestructOneWeek: 7 * 24 * time.Hour,
}

// ParseDestructOffset accepts the offsets above plus the spellings "never", "1hour", "1day" and
// "7days".
func ParseDestructOffset(s string) (DestructOffset, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "never":
		return DestructNever, nil
	case "1h", "1hour":
		return DestructOneHour, nil
	case "1d", "1day", "24h":
		return DestructOneDay, nil
	case "7d", "7days", "1w":
		return DestructOneWeek, nil
	}
	return "", ne.NewBadInput("unknown destruct offset " + s)
}

// Duration returns the length of the offset; zero for DestructNever.
func (o DestructOffset) Duration() time.Duration {
	return DestructOffsets[o]
}

// Deadline returns now+o, or nil for DestructNever.
func (o DestructOffset) Deadline(now time.Time) *time.Time {
	d := o.Duration()
	if d <= 0 {
		return nil
	}
	t := now.Add(d)
	return &t
}

/*
 Per-operation inputs. Each lists only the fields its operation may touch.
*/

var validate = validator.New()

// Validate checks v against its validate struct tags, reporting violations as BadInput.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return ne.NewBadInput("invalid " + f.Field() + ": failed " + f.Tag() + " check").WithCause(err)
	}
	return ne.NewBadInput("invalid input").WithCause(err)
}

// NoteDraft carries the owner-chosen fields of a new note.
type NoteDraft struct {
	Title    string         `json:"title" validate:"max=256"`
	Content  string         `json:"content" validate:"max=262144"`
	Category string         `json:"category" validate:"max=100"`
	Tags     []string       `json:"tags" validate:"max=32,dive,max=64"`
	Pinned   bool           `json:"pinned"`
	Destruct DestructOffset `json:"destruct" validate:"omitempty,max=16"`
}

// NoteEdit carries the content and metadata fields an owner may change. Nil fields are left alone.
type NoteEdit struct {
	Title    *string         `json:"title" validate:"omitempty,max=256"`
	Content  *string         `json:"content" validate:"omitempty,max=262144"`
	Category *string         `json:"category" validate:"omitempty,max=100"`
	Tags     *[]string       `json:"tags" validate:"omitempty,max=32,dive,max=64"`
	Pinned   *bool           `json:"pinned"`
	Destruct *DestructOffset `json:"destruct" validate:"omitempty,max=16"`
	// BaseUpdatedAt, when set, rejects the edit with Conflict if the note changed since.
	BaseUpdatedAt *time.Time `json:"baseUpdatedAt"`
}

// ListFilter narrows a note listing. Empty fields match everything.
type ListFilter struct {
	Query    string
	Category string
	Tag      string
}

// CategoryDraft carries the fields of a new category.
type CategoryDraft struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=512"`
	ParentID    string `json:"parentId"`
}

// CategoryEdit carries the category fields an owner may change. A non-nil empty ParentID turns the
// category into a root; a non-nil empty Name is rejected.
type CategoryEdit struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=512"`
	ParentID    *string `json:"parentId"`
}
