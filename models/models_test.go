package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	ne "wuyrush.io/note/errors"
)

func TestModels_ParseDestructOffset(t *testing.T) {
	tcs := []struct {
		in       string
		expected DestructOffset
		failed   bool
	}{
		{in: "", expected: DestructNever},
		{in: "never", expected: DestructNever},
		{in: "none", expected: DestructNever},
		{in: "1hour", expected: DestructOneHour},
		{in: "1H", expected: DestructOneHour},
		{in: "1day", expected: DestructOneDay},
		{in: "7days", expected: DestructOneWeek},
		{in: " 7d ", expected: DestructOneWeek},
		{in: "30m", failed: true},
		{in: "junk", failed: true},
	}
	for _, c := range tcs {
		t.Run(c.in, func(t *testing.T) {
			actual, err := ParseDestructOffset(c.in)
			if c.failed {
				assert.True(t, ne.Is(err, ne.ErrCodeBadInput), "expected bad input, got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, c.expected, actual)
		})
	}
}

func TestModels_DestructOffsetDeadline(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, DestructNever.Deadline(now), "never must not produce a deadline")
	assert.Equal(t, now.Add(time.Hour), *DestructOneHour.Deadline(now))
	assert.Equal(t, now.Add(24*time.Hour), *DestructOneDay.Deadline(now))
	assert.Equal(t, now.Add(7*24*time.Hour), *DestructOneWeek.Deadline(now))
	assert.Nil(t, DestructOffset("bogus").Deadline(now))
}

func TestModels_NormalizeTags(t *testing.T) {
	tcs := []struct {
		name     string
		in       []string
		expected []string
	}{
		{
			name:     "Empty",
			in:       nil,
			expected: []string{},
		},
		{
			name:     "CaseFoldedDuplicates",
			in:       []string{"Go", "go", " GO ", "rust"},
			expected: []string{"Go", "rust"},
		},
		{
			name:     "Blanks",
			in:       []string{"", "  ", "a"},
			expected: []string{"a"},
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, NormalizeTags(c.in))
		})
	}
}

func TestModels_TagKey(t *testing.T) {
	assert.Equal(t, TagKey("u1", " Genetics"), TagKey("u1", "genetics"))
	assert.NotEqual(t, TagKey("u1", "genetics"), TagKey("u2", "genetics"))
}

func TestModels_CategoryRoot(t *testing.T) {
	assert.True(t, (&Category{Name: "Biology"}).Root())
	assert.False(t, (&Category{Name: "Genetics", ParentID: "c1"}).Root())
}

func TestModels_Validate(t *testing.T) {
	long := strings.Repeat("x", 101)
	tcs := []struct {
		name   string
		in     interface{}
		failed bool
	}{
		{name: "Draft", in: NoteDraft{Title: "t", Tags: []string{"a"}, Destruct: DestructOneDay}},
		{name: "DraftOffsetAlias", in: NoteDraft{Destruct: "7days"}},
		{name: "DraftLongOffset", in: NoteDraft{Destruct: DestructOffset(strings.Repeat("d", 17))}, failed: true},
		{name: "CategoryDraft", in: CategoryDraft{Name: "Biology"}},
		{name: "CategoryDraftNoName", in: CategoryDraft{}, failed: true},
		{name: "CategoryDraftLongName", in: CategoryDraft{Name: long}, failed: true},
		{name: "CategoryEditNothing", in: CategoryEdit{}},
		{name: "CategoryEditLongName", in: CategoryEdit{Name: &long}, failed: true},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(c.in)
			if c.failed {
				assert.True(t, ne.Is(err, ne.ErrCodeBadInput), "expected bad input, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
