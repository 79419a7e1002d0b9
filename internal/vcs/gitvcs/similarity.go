package gitvcs

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pmezard/go-difflib/difflib"
)

// detectCopies pairs added files with modified files whose previous content
// is similar enough. Only modified files are considered as sources, as git
// does without --find-copies-harder.
func (r *Repository) detectCopies(inserts, sources []*object.Change) (map[*object.Change]*object.Change, error) {
	copies := make(map[*object.Change]*object.Change)
	if len(inserts) == 0 || len(sources) == 0 {
		return copies, nil
	}

	threshold := float64(r.opts.SimilarityThreshold) / 100
	srcLines := make([][]string, len(sources))
	for i, src := range sources {
		lines, ok, err := textLines(src.From)
		if err != nil {
			return nil, err
		}
		if ok {
			srcLines[i] = lines
		}
	}

	for _, ins := range inserts {
		lines, ok, err := textLines(ins.To)
		if err != nil {
			return nil, err
		}
		if !ok || len(lines) == 0 {
			continue
		}

		best, bestScore := -1, threshold
		for i, sl := range srcLines {
			if sl == nil || upperBound(sl, lines) < bestScore {
				continue
			}
			if score := difflib.NewMatcher(sl, lines).Ratio(); score >= bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			copies[ins] = sources[best]
		}
	}
	return copies, nil
}

// textLines returns the lines of a non-empty text file. ok is false for
// binary files and non-file entries.
func textLines(e object.ChangeEntry) ([]string, bool, error) {
	f, err := entryFile(e)
	if err != nil || f == nil {
		return nil, false, err
	}
	bin, err := f.IsBinary()
	if err != nil || bin {
		return nil, false, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, false, err
	}
	return splitLines(content), true, nil
}

// splitLines splits content after each newline. Unlike difflib.SplitLines it
// appends no empty line.
func splitLines(content string) []string {
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// upperBound is the best ratio two sequences of these lengths can reach.
func upperBound(a, b []string) float64 {
	short, total := len(a), len(a)+len(b)
	if len(b) < short {
		short = len(b)
	}
	return 2 * float64(short) / float64(total)
}
