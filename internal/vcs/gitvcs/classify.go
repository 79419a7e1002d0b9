package gitvcs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"github.com/kilupskalvis/vcsmine/internal/models"
)

// Classify reads commit id and diffs it against every parent. Root commits
// are diffed against the empty tree.
func (r *Repository) Classify(ctx context.Context, id string) (*models.CommitRecord, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		return nil, fmt.Errorf("read commit: %w", err)
	}

	rec := &models.CommitRecord{
		ID:              c.Hash.String(),
		Author:          person(c.Author),
		Committer:       person(c.Committer),
		AuthorDate:      c.Author.When.UTC(),
		AuthorOffset:    offsetMinutes(c.Author.When),
		CommitterDate:   c.Committer.When.UTC(),
		CommitterOffset: offsetMinutes(c.Committer.When),
		Message:         validText(c.Message),
	}

	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	if len(c.ParentHashes) == 0 {
		rec.FileActions, err = r.diff(ctx, nil, tree, "")
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	for _, ph := range c.ParentHashes {
		rec.Parents = append(rec.Parents, ph.String())

		parent, err := r.repo.CommitObject(ph)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			r.logger.Warn("parent commit missing, not diffing against it",
				"commit", rec.ID, "parent", ph.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read parent %s: %w", ph, err)
		}
		ptree, err := parent.Tree()
		if err != nil {
			return nil, fmt.Errorf("read parent tree %s: %w", ph, err)
		}

		actions, err := r.diff(ctx, ptree, tree, ph.String())
		if err != nil {
			return nil, fmt.Errorf("diff against %s: %w", ph, err)
		}
		rec.FileActions = append(rec.FileActions, actions...)
	}
	return rec, nil
}

// classified is a change with its decided mode. For copies, change is a
// synthetic modification from the copy source to the new path.
type classified struct {
	change *object.Change
	mode   models.FileMode
}

// diff classifies the changes between two trees. A path appears at most once.
func (r *Repository) diff(ctx context.Context, from, to *object.Tree, parent string) ([]*models.FileAction, error) {
	changes, err := object.DiffTreeWithOptions(ctx, from, to, &object.DiffTreeOptions{
		DetectRenames: true,
		RenameScore:   uint(r.opts.SimilarityThreshold),
		RenameLimit:   uint(r.opts.RenameLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	var out []classified
	var inserts, sources []*object.Change
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		switch action {
		case merkletrie.Insert:
			inserts = append(inserts, ch)
		case merkletrie.Delete:
			out = append(out, classified{ch, models.ModeDeleted})
		case merkletrie.Modify:
			switch {
			case ch.From.Name != ch.To.Name:
				out = append(out, classified{ch, models.ModeRenamed})
			case kind(ch.From.TreeEntry.Mode) != kind(ch.To.TreeEntry.Mode):
				out = append(out, classified{ch, models.ModeTypechange})
			default:
				out = append(out, classified{ch, models.ModeModified})
				sources = append(sources, ch)
			}
		}
	}

	copies, err := r.detectCopies(inserts, sources)
	if err != nil {
		return nil, err
	}
	for _, ch := range inserts {
		if src, ok := copies[ch]; ok {
			out = append(out, classified{&object.Change{From: src.From, To: ch.To}, models.ModeCopied})
			continue
		}
		out = append(out, classified{ch, models.ModeAdded})
	}

	seen := make(map[string]bool, len(out))
	actions := make([]*models.FileAction, 0, len(out))
	for _, c := range out {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fa, err := r.fileAction(ctx, c.change, c.mode, parent)
		if err != nil {
			return nil, err
		}
		if seen[fa.Path] {
			continue
		}
		seen[fa.Path] = true
		actions = append(actions, fa)
	}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Path < actions[j].Path })
	return actions, nil
}

func (r *Repository) fileAction(ctx context.Context, ch *object.Change, mode models.FileMode, parent string) (*models.FileAction, error) {
	fa := &models.FileAction{Mode: mode, ParentRevisionHash: parent}
	if mode == models.ModeDeleted {
		fa.Path = ch.From.Name
	} else {
		fa.Path = ch.To.Name
	}
	if mode == models.ModeRenamed || mode == models.ModeCopied {
		fa.OldPath = ch.From.Name
	}

	fromFile, err := entryFile(ch.From)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ch.From.Name, err)
	}
	toFile, err := entryFile(ch.To)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ch.To.Name, err)
	}
	if toFile != nil {
		fa.Size = toFile.Size
	}

	// submodules carry no content
	if (ch.From.Name != "" && fromFile == nil) || (ch.To.Name != "" && toFile == nil) {
		return fa, nil
	}

	for _, f := range []*object.File{fromFile, toFile} {
		if f == nil {
			continue
		}
		bin, err := f.IsBinary()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if bin {
			fa.IsBinary = true
			return fa, nil
		}
	}

	patch, err := ch.PatchContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", fa.Path, err)
	}
	var lines []diffLine
	for _, fp := range patch.FilePatches() {
		lines = append(lines, flatten(fp.Chunks())...)
	}
	fa.LinesAdded, fa.LinesDeleted = countLines(lines)
	if !r.opts.NoHunks {
		fa.Hunks = buildHunks(lines, r.opts.ContextLines, r.opts.InterhunkLines)
	}
	return fa, nil
}

// entryFile returns the blob of a change side, or nil when the side is
// absent or is not a file.
func entryFile(e object.ChangeEntry) (*object.File, error) {
	if e.Name == "" || e.Tree == nil || !e.TreeEntry.Mode.IsFile() {
		return nil, nil
	}
	return e.Tree.TreeEntryFile(&e.TreeEntry)
}

// kind groups file modes by object type: executable and regular files are
// the same kind, symlinks and submodules are not.
func kind(m filemode.FileMode) filemode.FileMode {
	switch m {
	case filemode.Symlink, filemode.Submodule, filemode.Dir:
		return m
	default:
		return filemode.Regular
	}
}
