package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kilupskalvis/vcsmine/internal/gittest"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/kilupskalvis/vcsmine/internal/store"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"github.com/kilupskalvis/vcsmine/internal/vcs/gitvcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t1 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
	t3 = t2.Add(24 * time.Hour)
)

type harness struct {
	t      *testing.T
	fx     *gittest.Repo
	driver store.Driver
	opts   vcs.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d, err := store.OpenBolt(filepath.Join(t.TempDir(), "vcsmine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return &harness{t: t, fx: gittest.New(t), driver: d, opts: vcs.DefaultOptions()}
}

// sync runs one full sync as of the given time and returns the store it wrote.
func (h *harness) sync(at time.Time, workers int) (*SyncResult, *store.Store) {
	h.t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, h.driver, store.Options{
		Project:        "demo",
		URL:            "https://example.com/demo.git",
		RepositoryType: "git",
		Now:            func() time.Time { return at },
	})
	require.NoError(h.t, err)

	res, err := NewSyncer(st, SyncOptions{
		Backend: gitvcs.New(nil),
		Path:    h.fx.Dir,
		Options: h.opts,
		Workers: workers,
	}).Run(ctx)
	require.NoError(h.t, err)
	return res, st
}

func getCommit(t *testing.T, st *store.Store, id string) *models.CommitRecord {
	t.Helper()
	rec, err := st.GetCommit(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func findTag(t *testing.T, st *store.Store, name string) *models.TagRecord {
	t.Helper()
	tags, err := st.ListTags(context.Background())
	require.NoError(t, err)
	for _, tag := range tags {
		if tag.Name == name {
			return tag
		}
	}
	t.Fatalf("tag %s not stored", name)
	return nil
}

func TestSync_LinearHistory(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("f1.txt", "one\n")
	a := h.fx.Commit("A")
	h.fx.Write("f1.txt", "one\ntwo\n")
	h.fx.Write("f2.txt", "new\n")
	b := h.fx.Commit("B")

	res, st := h.sync(t1, 2)
	assert.Equal(t, 2, res.Commits)
	assert.Equal(t, 2, res.Classified)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 3, res.FileActions)
	assert.Equal(t, 1, res.Branches)

	recA := getCommit(t, st, a)
	assert.Equal(t, []string{"master"}, recA.Branches)
	require.Len(t, recA.FileActions, 1)
	assert.Equal(t, models.ModeAdded, recA.FileActions[0].Mode)

	recB := getCommit(t, st, b)
	assert.Equal(t, []string{a}, recB.Parents)
	assert.Equal(t, "Alice", recB.Author.Name)
	modes := map[string]models.FileMode{}
	for _, fa := range recB.FileActions {
		modes[fa.Path] = fa.Mode
		assert.Equal(t, a, fa.ParentRevisionHash)
	}
	assert.Equal(t, map[string]models.FileMode{"f1.txt": models.ModeModified, "f2.txt": models.ModeAdded}, modes)

	tips, err := st.ListBranches(context.Background())
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, "master", tips[0].Name)
	assert.Equal(t, b, tips[0].Target)
	assert.True(t, tips[0].IsOriginHead)
}

func TestSync_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Tag("v1", a, "first release")
	h.fx.Write("a.txt", "b\n")
	b := h.fx.Commit("B")

	h.sync(t1, 1)
	res, st := h.sync(t2, 1)

	assert.Equal(t, 0, res.Reconcile.Changes())
	assert.Equal(t, 0, res.Reconcile.Errors)
	for _, id := range []string{a, b} {
		rec := getCommit(t, st, id)
		assert.Empty(t, rec.PreviousStates)
		assert.Nil(t, rec.DeletedAt)
		assert.Equal(t, t1, rec.ModifiedAt)
	}
	tag := findTag(t, st, "v1")
	assert.Nil(t, tag.DeletedAt)
	assert.Equal(t, t1, tag.StoredAt)
	assert.Empty(t, tag.PreviousStates)
}

func TestSync_SoftDeleteAndRestoreCommit(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Write("a.txt", "b\n")
	b := h.fx.Commit("B")
	h.sync(t1, 1)

	h.fx.Reset(a)
	res, st := h.sync(t2, 1)
	assert.Equal(t, 1, res.Commits)
	assert.Equal(t, 1, res.Reconcile.CommitsDeleted)

	recB := getCommit(t, st, b)
	require.NotNil(t, recB.DeletedAt)
	assert.Equal(t, t2, *recB.DeletedAt)
	assert.Len(t, recB.FileActions, 1)
	assert.Nil(t, getCommit(t, st, a).DeletedAt)

	// still unreachable: the deletion time is kept
	_, st = h.sync(t3.Add(-time.Hour), 1)
	assert.Equal(t, t2, *getCommit(t, st, b).DeletedAt)

	h.fx.Reset(b)
	_, st = h.sync(t3, 1)
	recB = getCommit(t, st, b)
	assert.Nil(t, recB.DeletedAt)
	require.Len(t, recB.PreviousStates, 1)
	require.NotNil(t, recB.PreviousStates[0].DeletedAt)
	assert.Equal(t, t2, *recB.PreviousStates[0].DeletedAt)
	assert.Equal(t, []string{"master"}, recB.Branches)
}

func TestSync_BranchMembershipVersioned(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.sync(t1, 1)

	h.fx.Branch("feature", a)
	_, st := h.sync(t2, 1)

	rec := getCommit(t, st, a)
	assert.Equal(t, []string{"feature", "master"}, rec.Branches)
	assert.Equal(t, t2, rec.ModifiedAt)
	require.Len(t, rec.PreviousStates, 1)
	assert.Equal(t, []string{"master"}, rec.PreviousStates[0].Branches)
	assert.Equal(t, t1, rec.PreviousStates[0].Date)
}

func TestSync_TagDeletedAndRecreated(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Tag("v1", a, "release")
	h.sync(t1, 1)

	h.fx.DeleteTag("v1")
	res, st := h.sync(t2, 1)
	assert.Equal(t, 1, res.Reconcile.TagsDeleted)
	tag := findTag(t, st, "v1")
	require.NotNil(t, tag.DeletedAt)
	assert.Equal(t, t2, *tag.DeletedAt)

	h.fx.Tag("v1", a, "release")
	res, st = h.sync(t3, 1)
	assert.Equal(t, 1, res.Reconcile.TagsRestored)

	tag = findTag(t, st, "v1")
	assert.Nil(t, tag.DeletedAt)
	assert.Equal(t, t3, tag.StoredAt)
	require.Len(t, tag.PreviousStates, 1)
	assert.Equal(t, t2, *tag.PreviousStates[0].DeletedAt)
	assert.Equal(t, t1, tag.PreviousStates[0].StoredAt)
	assert.Nil(t, tag.PreviousStates[0].Message)
}

func TestSync_TagRecreatedWithNewMessage(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Tag("v1", a, "old message")
	h.sync(t1, 1)

	h.fx.DeleteTag("v1")
	h.sync(t2, 1)
	h.fx.Tag("v1", a, "new message")
	_, st := h.sync(t3, 1)

	tag := findTag(t, st, "v1")
	assert.Equal(t, "new message", strings.TrimSpace(tag.Message))
	require.Len(t, tag.PreviousStates, 1)
	require.NotNil(t, tag.PreviousStates[0].Message)
	assert.Equal(t, "old message", strings.TrimSpace(*tag.PreviousStates[0].Message))
}

func TestSync_SkipsStoredCommits(t *testing.T) {
	h := newHarness(t)
	h.opts.NoBranchInfo = true
	h.opts.NoHunks = true
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Write("a.txt", "b\n")
	h.fx.Commit("B")

	res, _ := h.sync(t1, 2)
	assert.Equal(t, 2, res.Classified)

	// a tag added to a stored commit is created by reconciliation
	h.fx.Tag("v1", a, "")
	res, st := h.sync(t2, 2)
	assert.Equal(t, 0, res.Classified)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Reconcile.TagsCreated)
	assert.Equal(t, a, findTag(t, st, "v1").CommitID)

	rec := getCommit(t, st, a)
	assert.Empty(t, rec.Branches)
	assert.Empty(t, rec.FileActions[0].Hunks)
	assert.Equal(t, 1, rec.FileActions[0].LinesAdded)
}

func TestSync_BranchSoftDeleted(t *testing.T) {
	h := newHarness(t)
	h.fx.Write("a.txt", "a\n")
	a := h.fx.Commit("A")
	h.fx.Branch("feature", a)
	h.sync(t1, 1)

	h.fx.DeleteRef("refs/heads/feature")
	res, st := h.sync(t2, 1)
	assert.Equal(t, 1, res.Reconcile.BranchesDeleted)

	tips, err := st.ListBranches(context.Background())
	require.NoError(t, err)
	byName := map[string]*models.BranchTip{}
	for _, tip := range tips {
		byName[tip.Name] = tip
	}
	require.NotNil(t, byName["feature"].DeletedAt)
	assert.Equal(t, t2, *byName["feature"].DeletedAt)
	assert.Nil(t, byName["master"].DeletedAt)

	h.fx.Branch("feature", a)
	_, st = h.sync(t3, 1)
	tips, err = st.ListBranches(context.Background())
	require.NoError(t, err)
	for _, tip := range tips {
		assert.Nil(t, tip.DeletedAt, tip.Name)
	}
}

func TestSync_ManyWorkers(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 20; i++ {
		h.fx.Write(fmt.Sprintf("f%02d.txt", i%5), fmt.Sprintf("line %d\n", i))
		ids = append(ids, h.fx.Commit(fmt.Sprintf("commit %d", i)))
	}

	res, st := h.sync(t1, 4)
	assert.Equal(t, 20, res.Classified)
	for _, id := range ids {
		ok, err := st.ContainsCommit(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}

type failingBackend struct{ vcs.Backend }

func (failingBackend) Open(string, vcs.Options) (vcs.Repository, error) {
	return failingRepo{}, nil
}

type failingRepo struct{ vcs.Repository }

func (failingRepo) Classify(context.Context, string) (*models.CommitRecord, error) {
	return nil, errors.New("broken object")
}

func (failingRepo) Close() error { return nil }

type nopSink struct{ Sink }

func (nopSink) ContainsCommit(context.Context, string) (bool, error) { return false, nil }

func TestDispatch_ClassifyFailureFailsRun(t *testing.T) {
	g, err := vcs.NewGraph(vcs.GraphInput{
		Nodes:    []vcs.Node{{ID: "c1", Time: t1}},
		Branches: []vcs.Ref{{Name: "master", Target: "c1"}},
	})
	require.NoError(t, err)

	d := NewDispatcher(nopSink{}, nil, DispatchOptions{Backend: failingBackend{}, Workers: 2})
	_, err = d.Dispatch(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify commit c1")
	assert.Contains(t, err.Error(), "broken object")
}
