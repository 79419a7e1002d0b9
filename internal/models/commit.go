package models

import "time"

// Person is an author, committer or tagger identity. Two people are the same
// when both name and email match exactly.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Key returns the deduplication key of the person.
func (p Person) Key() string {
	return p.Name + "\x1f" + p.Email
}

// CommitState is a snapshot of a commit's membership before it changed.
type CommitState struct {
	Branches  []string   `json:"branches"`
	Date      time.Time  `json:"date"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CommitRecord is a fully classified commit ready to be stored.
type CommitRecord struct {
	ID              string        `json:"id"`
	Parents         []string      `json:"parents"`
	Author          Person        `json:"author"`
	Committer       Person        `json:"committer"`
	AuthorDate      time.Time     `json:"author_date"`
	AuthorOffset    int           `json:"author_offset"`
	CommitterDate   time.Time     `json:"committer_date"`
	CommitterOffset int           `json:"committer_offset"`
	Message         string        `json:"message"`
	Branches        []string      `json:"branches,omitempty"`
	Tags            []*TagRecord  `json:"tags,omitempty"`
	FileActions     []*FileAction `json:"file_actions,omitempty"`
	DeletedAt       *time.Time    `json:"deleted_at,omitempty"`
	ModifiedAt      time.Time     `json:"modified_at"`
	PreviousStates  []CommitState `json:"previous_states,omitempty"`
}

// ShortID returns a shortened commit ID (first 7 characters)
func (c *CommitRecord) ShortID() string {
	if len(c.ID) > 7 {
		return c.ID[:7]
	}
	return c.ID
}

// IsMergeCommit returns true if this commit has more than one parent
func (c *CommitRecord) IsMergeCommit() bool {
	return len(c.Parents) > 1
}

// IsDeleted reports whether the commit has been soft-deleted.
func (c *CommitRecord) IsDeleted() bool {
	return c.DeletedAt != nil
}
