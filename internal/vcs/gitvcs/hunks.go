package gitvcs

import (
	"strings"

	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/kilupskalvis/vcsmine/internal/models"
)

const noNewline = "\n\\ No newline at end of file\n"

type diffLine struct {
	op   fdiff.Operation
	text string
}

// flatten splits diff chunks into lines. A line keeps its trailing newline
// when it has one.
func flatten(chunks []fdiff.Chunk) []diffLine {
	var lines []diffLine
	for _, c := range chunks {
		content := c.Content()
		for len(content) > 0 {
			i := strings.IndexByte(content, '\n')
			if i < 0 {
				lines = append(lines, diffLine{c.Type(), content})
				break
			}
			lines = append(lines, diffLine{c.Type(), content[:i+1]})
			content = content[i+1:]
		}
	}
	return lines
}

func countLines(lines []diffLine) (added, deleted int) {
	for _, l := range lines {
		switch l.op {
		case fdiff.Add:
			added++
		case fdiff.Delete:
			deleted++
		}
	}
	return added, deleted
}

// buildHunks groups changed lines into hunks. Changes separated by at most
// 2*context+interhunk unchanged lines share a hunk.
func buildHunks(lines []diffLine, context, interhunk int) []models.Hunk {
	oldBefore := make([]int, len(lines)+1)
	newBefore := make([]int, len(lines)+1)
	var changes []int
	for i, l := range lines {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if l.op != fdiff.Add {
			oldBefore[i+1]++
		}
		if l.op != fdiff.Delete {
			newBefore[i+1]++
		}
		if l.op != fdiff.Equal {
			changes = append(changes, i)
		}
	}

	var hunks []models.Hunk
	for s := 0; s < len(changes); {
		e := s
		for e+1 < len(changes) && changes[e+1]-changes[e]-1 <= 2*context+interhunk {
			e++
		}
		start := max(changes[s]-context, 0)
		end := min(changes[e]+context, len(lines)-1)
		hunks = append(hunks, newHunk(lines[start:end+1], oldBefore[start], newBefore[start]))
		s = e + 1
	}
	return hunks
}

// newHunk renders one hunk. An empty side starts at the line before the
// change, as in unified diffs.
func newHunk(lines []diffLine, oldBefore, newBefore int) models.Hunk {
	var b strings.Builder
	h := models.Hunk{}
	for _, l := range lines {
		switch l.op {
		case fdiff.Equal:
			b.WriteByte(' ')
			h.OldLines++
			h.NewLines++
		case fdiff.Delete:
			b.WriteByte('-')
			h.OldLines++
		case fdiff.Add:
			b.WriteByte('+')
			h.NewLines++
		}
		b.WriteString(l.text)
		if !strings.HasSuffix(l.text, "\n") {
			b.WriteString(noNewline)
		}
	}
	h.Content = b.String()

	h.OldStart = oldBefore + 1
	if h.OldLines == 0 {
		h.OldStart = oldBefore
	}
	h.NewStart = newBefore + 1
	if h.NewLines == 0 {
		h.NewStart = newBefore
	}
	return h
}
