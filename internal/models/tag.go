package models

import "time"

// TagState is a snapshot of a tag taken when it came back after a deletion.
// Message is only set when the message differed from the recreated tag.
type TagState struct {
	DeletedAt *time.Time `json:"deleted_at"`
	StoredAt  time.Time  `json:"stored_at"`
	Message   *string    `json:"message,omitempty"`
}

// TagRecord is a tag attached to a commit. Tags are unique by name and
// target commit.
type TagRecord struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CommitID       string     `json:"commit_id"`
	Message        string     `json:"message,omitempty"`
	Tagger         *Person    `json:"-"`
	TaggerID       string     `json:"tagger_id,omitempty"`
	Date           *time.Time `json:"date,omitempty"`
	Offset         int        `json:"offset,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	StoredAt       time.Time  `json:"stored_at"`
	PreviousStates []TagState `json:"previous_states,omitempty"`
}

// Key returns the identity of the tag within a repository.
func (t *TagRecord) Key() string {
	return t.CommitID + "/" + t.Name
}

// IsDeleted reports whether the tag has been soft-deleted.
func (t *TagRecord) IsDeleted() bool {
	return t.DeletedAt != nil
}
