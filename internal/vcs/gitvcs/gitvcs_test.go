package gitvcs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/kilupskalvis/vcsmine/internal/gittest"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRepo(t *testing.T, fx *gittest.Repo, mutate ...func(*vcs.Options)) *Repository {
	t.Helper()
	opts := vcs.DefaultOptions()
	for _, m := range mutate {
		m(&opts)
	}
	repo, err := New(nil).Open(fx.Dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo.(*Repository)
}

func classify(t *testing.T, repo *Repository, id string) *models.CommitRecord {
	t.Helper()
	rec, err := repo.Classify(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func actionFor(rec *models.CommitRecord, path, parent string) *models.FileAction {
	for _, fa := range rec.FileActions {
		if fa.Path == path && fa.ParentRevisionHash == parent {
			return fa
		}
	}
	return nil
}

func TestBackend_Discover(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	fx.Commit("init")

	nested := filepath.Join(fx.Dir, "sub", "deeper")
	require.NoError(t, os.MkdirAll(nested, 0755))

	b := New(nil)
	root, err := b.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, fx.Dir, root)
	assert.True(t, b.Detect(nested))

	_, err = b.Discover(t.TempDir())
	assert.ErrorIs(t, err, vcs.ErrRepositoryNotFound)
	assert.False(t, b.Detect(t.TempDir()))
}

func TestInitialize_LinearHistory(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("f1.txt", "one\n")
	a := fx.Commit("A")
	fx.Write("f1.txt", "one\ntwo\n")
	fx.Write("f2.txt", "new\n")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	g, err := repo.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{b, a}, g.Commits())
	assert.Equal(t, []string{"master"}, g.Branches(a))
	assert.Equal(t, []string{"master"}, g.Branches(b))

	tips := g.Tips()
	require.Len(t, tips, 1)
	assert.Equal(t, "master", tips[0].Name)
	assert.Equal(t, b, tips[0].Target)
	assert.True(t, tips[0].IsOriginHead)

	rec := classify(t, repo, b)
	assert.Equal(t, []string{a}, rec.Parents)
	require.Len(t, rec.FileActions, 2)

	f1 := actionFor(rec, "f1.txt", a)
	require.NotNil(t, f1)
	assert.Equal(t, models.ModeModified, f1.Mode)
	assert.Equal(t, 1, f1.LinesAdded)
	assert.Equal(t, 0, f1.LinesDeleted)

	f2 := actionFor(rec, "f2.txt", a)
	require.NotNil(t, f2)
	assert.Equal(t, models.ModeAdded, f2.Mode)
	assert.Empty(t, f2.OldPath)
	assert.Equal(t, int64(4), f2.Size)
}

func TestInitialize_RemoteTips(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	a := fx.Commit("A")
	fx.Write("a.txt", "b\n")
	b := fx.Commit("B")
	fx.RemoteBranch("origin", "main", b)
	fx.RemoteBranch("origin", "feature", a)
	fx.RemoteHead("origin", "main")
	fx.RemoteBranch("upstream", "other", a)

	repo := openRepo(t, fx)
	g, err := repo.Initialize(context.Background())
	require.NoError(t, err)

	tips := map[string]models.BranchTip{}
	for _, tip := range g.Tips() {
		tips[tip.Name] = tip
	}
	require.Len(t, tips, 2)
	assert.True(t, tips["origin/main"].IsOriginHead)
	assert.Equal(t, b, tips["origin/main"].Target)
	assert.False(t, tips["origin/feature"].IsOriginHead)

	assert.Equal(t, []string{"master", "origin/feature", "origin/main", "upstream/other"}, g.Branches(a))
	assert.Equal(t, []string{"master", "origin/main"}, g.Branches(b))
}

func TestInitialize_NoBranchInfo(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	a := fx.Commit("A")

	repo := openRepo(t, fx, func(o *vcs.Options) { o.NoBranchInfo = true })
	g, err := repo.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, g.Contains(a))
	assert.Nil(t, g.Branches(a))
}

func TestInitialize_Tags(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	a := fx.Commit("A")
	fx.Write("a.txt", "b\n")
	b := fx.Commit("B")
	fx.Tag("v1", a, "release")
	fx.Tag("release/1.0", b, "")
	fx.BlobTag("blob", "not a commit")

	// x is reachable only through a tag
	fx.Write("x.txt", "x\n")
	x := fx.Commit("X")
	fx.Tag("only-tag", x, "")
	fx.Reset(b)

	repo := openRepo(t, fx)
	g, err := repo.Initialize(context.Background())
	require.NoError(t, err)

	live := g.LiveTags()
	names := make([]string, 0, len(live))
	for _, tag := range live {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"v1", "release/1.0", "only-tag"}, names)

	tags := g.Tags(a)
	require.Len(t, tags, 1)
	v1 := tags[0]
	assert.Equal(t, a, v1.CommitID)
	assert.Equal(t, "release", strings.TrimSpace(v1.Message))
	require.NotNil(t, v1.Tagger)
	assert.Equal(t, "Alice", v1.Tagger.Name)
	require.NotNil(t, v1.Date)
	assert.Equal(t, 120, v1.Offset)

	light := g.Tags(b)
	require.Len(t, light, 1)
	assert.Nil(t, light[0].Tagger)
	assert.Nil(t, light[0].Date)

	assert.True(t, g.Contains(x))
	assert.Nil(t, g.Branches(x))
	assert.Equal(t, []string{"master"}, g.Branches(b))
}

func TestClassify_RootCommit(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("f1.txt", "a\nb\n")
	fx.Write("dir/f2.txt", "c\n")
	a := fx.Commit("root")

	repo := openRepo(t, fx)
	rec := classify(t, repo, a)

	assert.Empty(t, rec.Parents)
	assert.Equal(t, "Alice", rec.Author.Name)
	assert.Equal(t, "alice@example.com", rec.Committer.Email)
	assert.Equal(t, 120, rec.AuthorOffset)
	assert.Equal(t, gittest.Start.UTC(), rec.AuthorDate)
	assert.Equal(t, "root", strings.TrimSpace(rec.Message))

	require.Len(t, rec.FileActions, 2)
	for _, fa := range rec.FileActions {
		assert.Equal(t, models.ModeAdded, fa.Mode)
		assert.Empty(t, fa.ParentRevisionHash)
		for _, h := range fa.Hunks {
			assert.Equal(t, 0, h.OldStart)
			assert.Equal(t, 0, h.OldLines)
		}
	}

	f1 := actionFor(rec, "f1.txt", "")
	require.NotNil(t, f1)
	require.Len(t, f1.Hunks, 1)
	assert.Equal(t, models.Hunk{OldStart: 0, OldLines: 0, NewStart: 1, NewLines: 2, Content: "+a\n+b\n"}, f1.Hunks[0])
	assert.Equal(t, 2, f1.LinesAdded)
}

func TestClassify_MergeCommit(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("f1.txt", "base\n")
	fx.Write("f2.txt", "base\n")
	a := fx.Commit("A")

	fx.Write("f1.txt", "main\n")
	c := fx.Commit("C")

	fx.Reset(a)
	fx.Write("f2.txt", "side\n")
	b := fx.Commit("B")

	fx.Reset(c)
	fx.Write("f2.txt", "side\n")
	fx.Write("f3.txt", "merged\n")
	m := fx.Commit("merge", c, b)

	repo := openRepo(t, fx)
	rec := classify(t, repo, m)
	assert.Equal(t, []string{c, b}, rec.Parents)
	assert.True(t, rec.IsMergeCommit())

	// vs c: f2 modified, f3 added; vs b: f1 modified, f3 added
	require.Len(t, rec.FileActions, 4)
	assert.NotNil(t, actionFor(rec, "f2.txt", c))
	assert.NotNil(t, actionFor(rec, "f1.txt", b))
	assert.Nil(t, actionFor(rec, "f1.txt", c))
	assert.Nil(t, actionFor(rec, "f2.txt", b))

	f3c := actionFor(rec, "f3.txt", c)
	f3b := actionFor(rec, "f3.txt", b)
	require.NotNil(t, f3c)
	require.NotNil(t, f3b)
	assert.Equal(t, models.ModeAdded, f3c.Mode)
	assert.Equal(t, models.ModeAdded, f3b.Mode)
}

const tenLines = "line 1\nline 2\nline 3\nline 4\nline 5\nline 6\nline 7\nline 8\nline 9\nline 10\n"

func TestClassify_Rename(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("old.txt", tenLines)
	a := fx.Commit("A")
	fx.Move("old.txt", "new.txt")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)
	require.Len(t, rec.FileActions, 1)
	fa := rec.FileActions[0]
	assert.Equal(t, models.ModeRenamed, fa.Mode)
	assert.Equal(t, "new.txt", fa.Path)
	assert.Equal(t, "old.txt", fa.OldPath)
	assert.Equal(t, a, fa.ParentRevisionHash)
	assert.Equal(t, 0, fa.LinesAdded)
	assert.Equal(t, 0, fa.LinesDeleted)
	assert.Empty(t, fa.Hunks)
}

func TestClassify_BelowThresholdIsAddAndDelete(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("old.txt", tenLines)
	fx.Commit("A")
	fx.Remove("old.txt")
	fx.Write("new.txt", "completely\ndifferent\ncontent\n")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)
	require.Len(t, rec.FileActions, 2)

	modes := map[string]models.FileMode{}
	for _, fa := range rec.FileActions {
		modes[fa.Path] = fa.Mode
		assert.Empty(t, fa.OldPath)
	}
	assert.Equal(t, models.ModeAdded, modes["new.txt"])
	assert.Equal(t, models.ModeDeleted, modes["old.txt"])
}

func TestClassify_Copy(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("src.txt", tenLines)
	a := fx.Commit("A")
	fx.Write("src.txt", strings.Replace(tenLines, "line 5\n", "line five\n", 1))
	fx.Write("copy.txt", tenLines)
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)
	require.Len(t, rec.FileActions, 2)

	cp := actionFor(rec, "copy.txt", a)
	require.NotNil(t, cp)
	assert.Equal(t, models.ModeCopied, cp.Mode)
	assert.Equal(t, "src.txt", cp.OldPath)
	assert.Equal(t, 0, cp.LinesAdded)

	src := actionFor(rec, "src.txt", a)
	require.NotNil(t, src)
	assert.Equal(t, models.ModeModified, src.Mode)
	assert.Empty(t, src.OldPath)

	// a higher threshold than the shared content turns the copy into an add
	fx.Write("copy2.txt", tenLines+"extra\n")
	fx.Write("src.txt", tenLines+"more\n")
	c := fx.Commit("C")
	strict := openRepo(t, fx, func(o *vcs.Options) { o.SimilarityThreshold = 100 })
	rec = classify(t, strict, c)
	cp2 := actionFor(rec, "copy2.txt", b)
	require.NotNil(t, cp2)
	assert.Equal(t, models.ModeAdded, cp2.Mode)
}

func TestClassify_SmallAddNextToModifyIsAdd(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("f1.txt", "one\n")
	fx.Commit("A")
	fx.Write("f1.txt", "uno\n")
	fx.Write("f2.txt", "two\n")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)
	require.Len(t, rec.FileActions, 2)

	modes := map[string]models.FileMode{}
	for _, fa := range rec.FileActions {
		modes[fa.Path] = fa.Mode
		assert.Empty(t, fa.OldPath)
	}
	assert.Equal(t, map[string]models.FileMode{
		"f1.txt": models.ModeModified,
		"f2.txt": models.ModeAdded,
	}, modes)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"one\n"}, splitLines("one\n"))
	assert.Equal(t, []string{"a\n", "b"}, splitLines("a\nb"))
	assert.Empty(t, splitLines(""))
}

func TestClassify_Typechange(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("target.txt", "t\n")
	fx.Write("link", "plain file\n")
	a := fx.Commit("A")
	fx.Symlink("link", "target.txt")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)
	fa := actionFor(rec, "link", a)
	require.NotNil(t, fa)
	assert.Equal(t, models.ModeTypechange, fa.Mode)
}

func TestClassify_Binary(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("img.bin", "\x00\x01\x02binary\x00")
	a := fx.Commit("A")

	repo := openRepo(t, fx)
	rec := classify(t, repo, a)
	require.Len(t, rec.FileActions, 1)
	assert.True(t, rec.FileActions[0].IsBinary)
	assert.Empty(t, rec.FileActions[0].Hunks)
}

func TestClassify_NoHunksKeepsStats(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "one\ntwo\nthree\n")
	fx.Commit("A")
	fx.Write("a.txt", "one\n2\nthree\nfour\n")
	b := fx.Commit("B")

	repo := openRepo(t, fx, func(o *vcs.Options) { o.NoHunks = true })
	rec := classify(t, repo, b)
	require.Len(t, rec.FileActions, 1)
	fa := rec.FileActions[0]
	assert.Empty(t, fa.Hunks)
	assert.Equal(t, 2, fa.LinesAdded)
	assert.Equal(t, 1, fa.LinesDeleted)
}

func TestClassify_Hunks(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "one\ntwo\nthree\n")
	fx.Write("b.txt", "a\nb\nc\n")
	fx.Write("c.txt", "x")
	a := fx.Commit("A")
	fx.Write("a.txt", "one\n2\nthree\n")
	fx.Write("b.txt", "a\nc\n")
	fx.Write("c.txt", "y")
	b := fx.Commit("B")

	repo := openRepo(t, fx)
	rec := classify(t, repo, b)

	fa := actionFor(rec, "a.txt", a)
	require.NotNil(t, fa)
	assert.Equal(t, []models.Hunk{{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1, Content: "-two\n+2\n"}}, fa.Hunks)

	fb := actionFor(rec, "b.txt", a)
	require.NotNil(t, fb)
	assert.Equal(t, []models.Hunk{{OldStart: 2, OldLines: 1, NewStart: 1, NewLines: 0, Content: "-b\n"}}, fb.Hunks)

	fc := actionFor(rec, "c.txt", a)
	require.NotNil(t, fc)
	require.Len(t, fc.Hunks, 1)
	assert.Equal(t, "-x\n\\ No newline at end of file\n+y\n\\ No newline at end of file\n", fc.Hunks[0].Content)
}

func TestProjectURL(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	fx.Commit("A")

	repo := openRepo(t, fx)
	local := repo.ProjectURL()
	assert.True(t, strings.HasPrefix(local, "local/"))
	assert.Equal(t, local, openRepo(t, fx).ProjectURL())

	fx.AddRemote("origin", "https://example.com/acme/widgets.git")
	assert.Equal(t, "https://example.com/acme/widgets.git", openRepo(t, fx).ProjectURL())
}

func TestResolve(t *testing.T) {
	fx := gittest.New(t)
	fx.Write("a.txt", "a\n")
	a := fx.Commit("A")
	fx.Write("a.txt", "b\n")
	b := fx.Commit("B")
	fx.Tag("v1", a, "annotated")

	repo := openRepo(t, fx)
	for rev, want := range map[string]string{"HEAD": b, "master": b, "v1": a, a[:10]: a} {
		got, err := repo.Resolve(rev)
		require.NoError(t, err, rev)
		assert.Equal(t, want, got, rev)
	}

	_, err := repo.Resolve("nope")
	assert.Error(t, err)
}

func TestShortName(t *testing.T) {
	cases := map[string]string{
		"refs/heads/main":          "main",
		"refs/remotes/origin/main": "origin/main",
		"refs/tags/release/1.0":    "release/1.0",
		"refs/notes/commits":       "notes/commits",
		"HEAD":                     "HEAD",
	}
	for in, want := range cases {
		assert.Equal(t, want, shortName(plumbing.ReferenceName(in)), in)
	}
}
