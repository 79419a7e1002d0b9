// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Zone is the timezone of every signature written by a Repo, two hours east of UTC.
var Zone = time.FixedZone("CEST", 2*60*60)

// Start is the time of the first signature. Each later signature is one minute newer.
var Start = time.Date(2024, 1, 1, 12, 0, 0, 0, Zone)

// Repo is a non-bare repository in a temporary directory.
type Repo struct {
	t     testing.TB
	Dir   string
	Repo  *git.Repository
	wt    *git.Worktree
	clock time.Time
}

// New initializes an empty repository removed at the end of the test.
func New(t testing.TB) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &Repo{t: t, Dir: dir, Repo: repo, wt: wt, clock: Start.Add(-time.Minute)}
}

func (r *Repo) signature() *object.Signature {
	r.clock = r.clock.Add(time.Minute)
	return &object.Signature{Name: "Alice", Email: "alice@example.com", When: r.clock}
}

// Write creates or overwrites path and stages it.
func (r *Repo) Write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0644))
	_, err := r.wt.Add(path)
	require.NoError(r.t, err)
}

// Symlink replaces path with a symbolic link to target and stages it.
func (r *Repo) Symlink(path, target string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	_ = os.Remove(full)
	require.NoError(r.t, os.Symlink(target, full))
	_, err := r.wt.Add(path)
	require.NoError(r.t, err)
}

// Remove deletes path from the worktree and the index.
func (r *Repo) Remove(path string) {
	r.t.Helper()
	_, err := r.wt.Remove(path)
	require.NoError(r.t, err)
}

// Move renames a staged file.
func (r *Repo) Move(from, to string) {
	r.t.Helper()
	_, err := r.wt.Move(from, to)
	require.NoError(r.t, err)
}

// Commit records the index on the current branch and returns the commit
// hash. Without parents, HEAD is the parent.
func (r *Repo) Commit(msg string, parents ...string) string {
	r.t.Helper()
	sig := r.signature()
	opts := &git.CommitOptions{Author: sig, Committer: sig, AllowEmptyCommits: true}
	for _, p := range parents {
		opts.Parents = append(opts.Parents, plumbing.NewHash(p))
	}
	h, err := r.wt.Commit(msg, opts)
	require.NoError(r.t, err)
	return h.String()
}

// Reset moves the current branch, index and worktree to hash.
func (r *Repo) Reset(hash string) {
	r.t.Helper()
	require.NoError(r.t, r.wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(hash), Mode: git.HardReset}))
}

// Branch points refs/heads/name at hash.
func (r *Repo) Branch(name, hash string) {
	r.setRef(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(hash)))
}

// RemoteBranch points refs/remotes/remote/name at hash.
func (r *Repo) RemoteBranch(remote, name, hash string) {
	r.setRef(plumbing.NewHashReference(plumbing.NewRemoteReferenceName(remote, name), plumbing.NewHash(hash)))
}

// RemoteHead makes refs/remotes/remote/HEAD a symbolic ref to the remote branch name.
func (r *Repo) RemoteHead(remote, name string) {
	r.setRef(plumbing.NewSymbolicReference(plumbing.NewRemoteHEADReferenceName(remote), plumbing.NewRemoteReferenceName(remote, name)))
}

// DeleteRef removes a reference by its full name.
func (r *Repo) DeleteRef(name string) {
	r.t.Helper()
	require.NoError(r.t, r.Repo.Storer.RemoveReference(plumbing.ReferenceName(name)))
}

// AddRemote configures a remote with a single URL.
func (r *Repo) AddRemote(name, url string) {
	r.t.Helper()
	_, err := r.Repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	require.NoError(r.t, err)
}

// Tag creates a tag on hash. An empty message creates a lightweight tag.
func (r *Repo) Tag(name, hash, message string) {
	r.t.Helper()
	var opts *git.CreateTagOptions
	if message != "" {
		opts = &git.CreateTagOptions{Tagger: r.signature(), Message: message}
	}
	_, err := r.Repo.CreateTag(name, plumbing.NewHash(hash), opts)
	require.NoError(r.t, err)
}

// DeleteTag removes a tag.
func (r *Repo) DeleteTag(name string) {
	r.t.Helper()
	require.NoError(r.t, r.Repo.DeleteTag(name))
}

// BlobTag stores content as a blob and points a lightweight tag at it.
func (r *Repo) BlobTag(name, content string) {
	r.t.Helper()
	obj := r.Repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(r.t, err)
	_, err = w.Write([]byte(content))
	require.NoError(r.t, err)
	require.NoError(r.t, w.Close())
	h, err := r.Repo.Storer.SetEncodedObject(obj)
	require.NoError(r.t, err)
	r.setRef(plumbing.NewHashReference(plumbing.NewTagReferenceName(name), h))
}

func (r *Repo) setRef(ref *plumbing.Reference) {
	r.t.Helper()
	require.NoError(r.t, r.Repo.Storer.SetReference(ref))
}
