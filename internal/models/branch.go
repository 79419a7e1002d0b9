package models

import "time"

// BranchTip is a remote-tracking (or local) branch pointing at a commit.
type BranchTip struct {
	Name         string     `json:"name"`
	Target       string     `json:"target"`
	IsOriginHead bool       `json:"is_origin_head"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
