package models

// FileMode classifies how a path changed relative to one parent.
type FileMode string

const (
	ModeAdded      FileMode = "A"
	ModeDeleted    FileMode = "D"
	ModeModified   FileMode = "M"
	ModeRenamed    FileMode = "R"
	ModeCopied     FileMode = "C"
	ModeTypechange FileMode = "T"
	// ModeUnmerged is never produced from committed trees; it only exists
	// for stores that record index conflicts.
	ModeUnmerged FileMode = "U"
)

// String returns the long name of the mode.
func (m FileMode) String() string {
	switch m {
	case ModeAdded:
		return "added"
	case ModeDeleted:
		return "deleted"
	case ModeModified:
		return "modified"
	case ModeRenamed:
		return "renamed"
	case ModeCopied:
		return "copied"
	case ModeTypechange:
		return "typechange"
	case ModeUnmerged:
		return "unmerged"
	default:
		return string(m)
	}
}

// Hunk is one contiguous change region of a file diff. Content holds the
// unified diff body without file header or @@ line.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Content  string `json:"content"`
}

// FileAction is the change of one path between a commit and one of its parents.
type FileAction struct {
	Path               string   `json:"path"`
	OldPath            string   `json:"old_path,omitempty"`
	Size               int64    `json:"size"`
	LinesAdded         int      `json:"lines_added"`
	LinesDeleted       int      `json:"lines_deleted"`
	IsBinary           bool     `json:"is_binary"`
	Mode               FileMode `json:"mode"`
	ParentRevisionHash string   `json:"parent_revision_hash,omitempty"`
	Hunks              []Hunk   `json:"hunks,omitempty"`
}
