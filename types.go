package changemaster

import (
	"slices"
	"time"
)

type (
	// ChangeID is the globally ordered identity assigned to a persisted
	// Change. Ids start at 1
	ChangeID int64

	// Change is a single version-control modification. Once numbered it is
	// never mutated; empty strings mark absent optional fields
	Change struct {
		When       time.Time `json:"when"`
		Author     string    `json:"author"`
		Comments   string    `json:"comments"`
		Branch     string    `json:"branch,omitempty"`
		Revision   string    `json:"revision"`
		Repository string    `json:"repository,omitempty"`
		Category   string    `json:"category,omitempty"`
		Project    string    `json:"project,omitempty"`
		Files      []string  `json:"files"`
		ID         ChangeID  `json:"id"`
	}

	// Filter selects changes for the EventGenerator and hub consumers. An
	// empty list or zero MinTime matches everything
	Filter struct {
		MinTime    time.Time
		Branches   []string
		Categories []string
		Committers []string
	}
)

// NoChange is returned by latest-id queries when no change matches
const NoChange ChangeID = 0

// Copy returns a deep copy of the change, so that callers can hand out
// changes without sharing the Files slice
func (c *Change) Copy() *Change {
	res := *c
	if c.Files != nil {
		res.Files = slices.Clone(c.Files)
	}
	return &res
}

// Numbered returns a copy of the change carrying the provided id
func (c *Change) Numbered(id ChangeID) *Change {
	res := c.Copy()
	res.ID = id
	return res
}

// Matches reports whether the change satisfies every populated criterion
func (f Filter) Matches(c *Change) bool {
	if len(f.Branches) > 0 && !slices.Contains(f.Branches, c.Branch) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, c.Category) {
		return false
	}
	if len(f.Committers) > 0 && !slices.Contains(f.Committers, c.Author) {
		return false
	}
	if !f.MinTime.IsZero() && c.When.Before(f.MinTime) {
		return false
	}
	return true
}

// IsEmpty reports whether the filter matches every change
func (f Filter) IsEmpty() bool {
	return len(f.Branches) == 0 && len(f.Categories) == 0 &&
		len(f.Committers) == 0 && f.MinTime.IsZero()
}
