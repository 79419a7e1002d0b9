// Package versioning holds the rules that reconcile stored records with a
// freshly walked repository. Every rule mutates the stored record in place
// and reports whether it changed; nothing is ever hard-deleted.
package versioning

import (
	"slices"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/models"
)

// TagAction is the outcome of reconciling one stored tag.
type TagAction string

const (
	TagUnchanged TagAction = "unchanged"
	TagRestored  TagAction = "restored"
	TagDeleted   TagAction = "deleted"
)

// SameBranches compares two branch sets ignoring order. Nil and empty are equal.
func SameBranches(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// ApplyBranches replaces the commit's branch set with fresh. The old set is
// pushed onto the previous states with the time it was last modified.
func ApplyBranches(rec *models.CommitRecord, fresh []string, now time.Time) bool {
	if SameBranches(rec.Branches, fresh) {
		return false
	}
	rec.PreviousStates = append(rec.PreviousStates, models.CommitState{
		Branches: rec.Branches,
		Date:     rec.ModifiedAt,
	})
	rec.Branches = slices.Clone(fresh)
	rec.ModifiedAt = now
	return true
}

// Restore brings back a soft-deleted commit that is reachable again. The
// snapshot keeps the deletion time; the branch set becomes fresh.
func Restore(rec *models.CommitRecord, fresh []string, now time.Time) bool {
	if rec.DeletedAt == nil {
		return false
	}
	rec.PreviousStates = append(rec.PreviousStates, models.CommitState{
		Branches:  rec.Branches,
		Date:      rec.ModifiedAt,
		DeletedAt: rec.DeletedAt,
	})
	rec.DeletedAt = nil
	rec.Branches = slices.Clone(fresh)
	rec.ModifiedAt = now
	return true
}

// SoftDeleteCommit marks an unreachable commit. An already deleted commit
// keeps its original deletion time.
func SoftDeleteCommit(rec *models.CommitRecord, now time.Time) bool {
	if rec.DeletedAt != nil {
		return false
	}
	t := now
	rec.DeletedAt = &t
	return true
}

// ReconcileTag applies the live state of a tag to its stored record. live is
// the tag with the same name and target, or nil when there is none.
//
// A match on a deleted tag restores it and records the deleted state; the
// message is only part of that snapshot when it differs. A match on a live
// tag changes nothing, even if the message was edited.
func ReconcileTag(stored, live *models.TagRecord, now time.Time) TagAction {
	if live == nil {
		if stored.DeletedAt != nil {
			return TagUnchanged
		}
		t := now
		stored.DeletedAt = &t
		return TagDeleted
	}

	if stored.DeletedAt == nil {
		return TagUnchanged
	}

	state := models.TagState{DeletedAt: stored.DeletedAt, StoredAt: stored.StoredAt}
	if stored.Message != live.Message {
		old := stored.Message
		state.Message = &old
	}
	stored.PreviousStates = append(stored.PreviousStates, state)
	stored.DeletedAt = nil
	stored.StoredAt = now
	stored.Message = live.Message
	return TagRestored
}

// SoftDeleteBranch marks a branch tip that no longer exists.
func SoftDeleteBranch(tip *models.BranchTip, now time.Time) bool {
	if tip.DeletedAt != nil {
		return false
	}
	t := now
	tip.DeletedAt = &t
	tip.UpdatedAt = now
	return true
}
