package versioning

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func TestSameBranches(t *testing.T) {
	assert.True(t, SameBranches(nil, []string{}))
	assert.True(t, SameBranches([]string{"b", "a"}, []string{"a", "b"}))
	assert.False(t, SameBranches([]string{"a"}, []string{"a", "b"}))
	assert.False(t, SameBranches([]string{"a"}, nil))
}

func TestApplyBranches(t *testing.T) {
	rec := &models.CommitRecord{Branches: []string{"main"}, ModifiedAt: t0}

	assert.False(t, ApplyBranches(rec, []string{"main"}, t1))
	assert.Empty(t, rec.PreviousStates)
	assert.Equal(t, t0, rec.ModifiedAt)

	assert.True(t, ApplyBranches(rec, []string{"main", "feature"}, t1))
	require.Len(t, rec.PreviousStates, 1)
	assert.Equal(t, []string{"main"}, rec.PreviousStates[0].Branches)
	assert.Equal(t, t0, rec.PreviousStates[0].Date)
	assert.Nil(t, rec.PreviousStates[0].DeletedAt)
	assert.Equal(t, []string{"main", "feature"}, rec.Branches)
	assert.Equal(t, t1, rec.ModifiedAt)

	// reordering is not a change
	assert.False(t, ApplyBranches(rec, []string{"feature", "main"}, t2))
	assert.Len(t, rec.PreviousStates, 1)
}

func TestRestore(t *testing.T) {
	deleted := t1
	rec := &models.CommitRecord{Branches: []string{"main"}, ModifiedAt: t0, DeletedAt: &deleted}

	assert.True(t, Restore(rec, []string{"main"}, t2))
	assert.Nil(t, rec.DeletedAt)
	require.Len(t, rec.PreviousStates, 1)
	require.NotNil(t, rec.PreviousStates[0].DeletedAt)
	assert.Equal(t, t1, *rec.PreviousStates[0].DeletedAt)
	assert.Equal(t, t2, rec.ModifiedAt)

	assert.False(t, Restore(rec, []string{"main"}, t2))
}

func TestSoftDeleteCommit(t *testing.T) {
	rec := &models.CommitRecord{}
	assert.True(t, SoftDeleteCommit(rec, t1))
	require.NotNil(t, rec.DeletedAt)
	assert.Equal(t, t1, *rec.DeletedAt)

	assert.False(t, SoftDeleteCommit(rec, t2))
	assert.Equal(t, t1, *rec.DeletedAt)
}

func TestReconcileTag_DeleteAndRecreate(t *testing.T) {
	stored := &models.TagRecord{Name: "v1", CommitID: "a", Message: "release", StoredAt: t0}

	assert.Equal(t, TagDeleted, ReconcileTag(stored, nil, t1))
	require.NotNil(t, stored.DeletedAt)
	assert.Equal(t, "release", stored.Message)

	// still gone: deletion time is kept
	assert.Equal(t, TagUnchanged, ReconcileTag(stored, nil, t2))
	assert.Equal(t, t1, *stored.DeletedAt)

	live := &models.TagRecord{Name: "v1", CommitID: "a", Message: "release"}
	assert.Equal(t, TagRestored, ReconcileTag(stored, live, t2))
	assert.Nil(t, stored.DeletedAt)
	assert.Equal(t, t2, stored.StoredAt)
	require.Len(t, stored.PreviousStates, 1)
	assert.Equal(t, t0, stored.PreviousStates[0].StoredAt)
	assert.Equal(t, t1, *stored.PreviousStates[0].DeletedAt)
	assert.Nil(t, stored.PreviousStates[0].Message)

	data, err := json.Marshal(stored.PreviousStates[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "message")
}

func TestReconcileTag_RecreateWithNewMessage(t *testing.T) {
	deleted := t1
	stored := &models.TagRecord{Name: "v1", CommitID: "a", Message: "old", StoredAt: t0, DeletedAt: &deleted}
	live := &models.TagRecord{Name: "v1", CommitID: "a", Message: "new"}

	assert.Equal(t, TagRestored, ReconcileTag(stored, live, t2))
	require.Len(t, stored.PreviousStates, 1)
	require.NotNil(t, stored.PreviousStates[0].Message)
	assert.Equal(t, "old", *stored.PreviousStates[0].Message)
	assert.Equal(t, "new", stored.Message)
}

func TestReconcileTag_MessageEditInPlaceIgnored(t *testing.T) {
	stored := &models.TagRecord{Name: "v1", CommitID: "a", Message: "old", StoredAt: t0}
	live := &models.TagRecord{Name: "v1", CommitID: "a", Message: "edited"}

	assert.Equal(t, TagUnchanged, ReconcileTag(stored, live, t1))
	assert.Equal(t, "old", stored.Message)
	assert.Empty(t, stored.PreviousStates)
}

func TestSoftDeleteBranch(t *testing.T) {
	tip := &models.BranchTip{Name: "origin/main", UpdatedAt: t0}
	assert.True(t, SoftDeleteBranch(tip, t1))
	assert.Equal(t, t1, tip.UpdatedAt)
	assert.False(t, SoftDeleteBranch(tip, t2))
	assert.Equal(t, t1, *tip.DeletedAt)
}
