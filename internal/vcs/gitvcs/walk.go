package gitvcs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/kilupskalvis/vcsmine/internal/vcs"
)

// Initialize enumerates every reference of the repository, loads all commits
// reachable from branches and tags, and builds the commit graph.
func (r *Repository) Initialize(ctx context.Context) (*vcs.Graph, error) {
	iter, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}

	var branchRefs, tagRefs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		switch {
		case ref.Name() == plumbing.HEAD:
		case ref.Name().IsTag():
			tagRefs = append(tagRefs, ref)
		default:
			branchRefs = append(branchRefs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}

	var roots []plumbing.Hash
	var heads []vcs.Ref
	targets := make(map[plumbing.ReferenceName]plumbing.Hash)
	for _, ref := range branchRefs {
		// symbolic refs alias another branch
		if ref.Type() == plumbing.SymbolicReference {
			continue
		}
		h, err := r.peelCommit(ref.Hash())
		if errors.Is(err, vcs.ErrNotCommit) {
			r.logger.Warn("skipping reference that does not point to a commit",
				"ref", ref.Name().String(), "target", ref.Hash().String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref.Name(), err)
		}
		targets[ref.Name()] = h
		heads = append(heads, vcs.Ref{Name: shortName(ref.Name()), Target: h.String()})
		roots = append(roots, h)
	}

	var tags []*models.TagRecord
	for _, ref := range tagRefs {
		tag, err := r.resolveTag(ref)
		if errors.Is(err, vcs.ErrNotCommit) {
			r.logger.Warn("skipping tag that does not point to a commit",
				"tag", shortName(ref.Name()), "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve tag %s: %w", ref.Name(), err)
		}
		tags = append(tags, tag)
		roots = append(roots, plumbing.NewHash(tag.CommitID))
	}

	nodes, err := r.loadCommits(ctx, roots)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("repository initialized",
		"commits", len(nodes), "branches", len(heads), "tags", len(tags))

	return vcs.NewGraph(vcs.GraphInput{
		Nodes:         nodes,
		Branches:      heads,
		Tags:          tags,
		Tips:          r.branchTips(branchRefs, targets),
		TrackBranches: !r.opts.NoBranchInfo,
	})
}

// branchTips reports the remote-tracking branches of the configured remote.
// Repositories without any fall back to their local branches.
func (r *Repository) branchTips(refs []*plumbing.Reference, targets map[plumbing.ReferenceName]plumbing.Hash) []models.BranchTip {
	prefix := "refs/remotes/" + r.opts.Remote + "/"
	tips, head := r.collectTips(refs, targets, prefix, plumbing.ReferenceName(prefix+"HEAD"))
	if len(tips) == 0 {
		tips, head = r.collectTips(refs, targets, "refs/heads/", "")
		if ref, err := r.repo.Reference(plumbing.HEAD, false); err == nil && ref.Type() == plumbing.SymbolicReference {
			head = ref.Target()
		}
	}
	for i := range tips {
		if plumbing.ReferenceName("refs/remotes/"+tips[i].Name) == head || plumbing.NewBranchReferenceName(tips[i].Name) == head {
			tips[i].IsOriginHead = true
		}
	}
	return tips
}

func (r *Repository) collectTips(refs []*plumbing.Reference, targets map[plumbing.ReferenceName]plumbing.Hash, prefix string, headName plumbing.ReferenceName) ([]models.BranchTip, plumbing.ReferenceName) {
	var tips []models.BranchTip
	var head plumbing.ReferenceName
	for _, ref := range refs {
		if !strings.HasPrefix(ref.Name().String(), prefix) {
			continue
		}
		if ref.Name() == headName {
			if ref.Type() == plumbing.SymbolicReference {
				head = ref.Target()
			}
			continue
		}
		h, ok := targets[ref.Name()]
		if !ok {
			continue
		}
		tips = append(tips, models.BranchTip{Name: shortName(ref.Name()), Target: h.String()})
	}
	return tips, head
}

// peelCommit follows annotated tags until it reaches a commit.
func (r *Repository) peelCommit(h plumbing.Hash) (plumbing.Hash, error) {
	for {
		obj, err := r.repo.Object(plumbing.AnyObject, h)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("read object %s: %w", h, err)
		}
		switch o := obj.(type) {
		case *object.Commit:
			return o.Hash, nil
		case *object.Tag:
			h = o.Target
		default:
			return plumbing.ZeroHash, fmt.Errorf("%w: %s is a %s", vcs.ErrNotCommit, h, obj.Type())
		}
	}
}

func (r *Repository) resolveTag(ref *plumbing.Reference) (*models.TagRecord, error) {
	rec := &models.TagRecord{Name: shortName(ref.Name())}

	obj, err := r.repo.Object(plumbing.AnyObject, ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", ref.Hash(), err)
	}
	if at, ok := obj.(*object.Tag); ok {
		tagger := person(at.Tagger)
		when := at.Tagger.When
		rec.Tagger = &tagger
		rec.Message = validText(at.Message)
		utc := when.UTC()
		rec.Date = &utc
		rec.Offset = offsetMinutes(when)
	}

	target, err := r.peelCommit(ref.Hash())
	if err != nil {
		return nil, err
	}
	rec.CommitID = target.String()
	return rec, nil
}

// loadCommits walks parent links breadth-first from roots. Parents missing
// from the object store (shallow clones) end the walk on that line.
func (r *Repository) loadCommits(ctx context.Context, roots []plumbing.Hash) ([]vcs.Node, error) {
	seen := make(map[plumbing.Hash]bool, len(roots))
	queue := append([]plumbing.Hash(nil), roots...)
	var nodes []vcs.Node

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true

		c, err := r.repo.CommitObject(h)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			r.logger.Debug("commit not in object store", "commit", h.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", h, err)
		}

		n := vcs.Node{ID: h.String(), Time: c.Committer.When}
		for _, p := range c.ParentHashes {
			n.Parents = append(n.Parents, p.String())
			if !seen[p] {
				queue = append(queue, p)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// shortName strips the well-known ref namespaces: refs/heads/main is main,
// refs/remotes/origin/main is origin/main and refs/tags/release/1.0 is release/1.0.
func shortName(name plumbing.ReferenceName) string {
	s := name.String()
	for _, prefix := range []string{"refs/heads/", "refs/remotes/", "refs/tags/", "refs/"} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimPrefix(s, prefix)
		}
	}
	return s
}
