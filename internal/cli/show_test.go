package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestFileDiff_Names(t *testing.T) {
	tests := []struct {
		fa         models.FileAction
		orig, next string
	}{
		{models.FileAction{Path: "a.txt", Mode: models.ModeModified}, "a/a.txt", "b/a.txt"},
		{models.FileAction{Path: "a.txt", Mode: models.ModeAdded}, "/dev/null", "b/a.txt"},
		{models.FileAction{Path: "a.txt", Mode: models.ModeDeleted}, "a/a.txt", "/dev/null"},
		{models.FileAction{Path: "new.txt", OldPath: "old.txt", Mode: models.ModeRenamed}, "a/old.txt", "b/new.txt"},
	}
	for _, tt := range tests {
		fd := fileDiff(&tt.fa)
		assert.Equal(t, tt.orig, fd.OrigName, tt.fa.Mode)
		assert.Equal(t, tt.next, fd.NewName, tt.fa.Mode)
	}
}

func TestPrintFileAction_ParsesBack(t *testing.T) {
	fa := &models.FileAction{
		Path: "f.txt",
		Mode: models.ModeModified,
		Hunks: []models.Hunk{
			{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 2, Content: "-old\n+new\n+newer\n"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, printFileAction(&buf, fa))

	parsed, err := diff.ParseFileDiff(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "a/f.txt", parsed.OrigName)
	assert.Equal(t, "b/f.txt", parsed.NewName)
	require.Len(t, parsed.Hunks, 1)
	assert.Equal(t, int32(2), parsed.Hunks[0].NewLines)
	assert.Equal(t, "-old\n+new\n+newer\n", string(parsed.Hunks[0].Body))
}

func TestPrintFileAction_Binary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printFileAction(&buf, &models.FileAction{Path: "img.png", Mode: models.ModeAdded, IsBinary: true}))
	assert.Equal(t, "A img.png (binary)\n", buf.String())
}

func TestPrintCommit_Stat(t *testing.T) {
	rec := &models.CommitRecord{
		ID:         "0123456789abcdef",
		Parents:    []string{"aaaaaaaaaaaa"},
		Author:     models.Person{Name: "Alice", Email: "alice@example.com"},
		AuthorDate: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Message:    "subject\n\nbody\n",
		FileActions: []*models.FileAction{
			{Path: "b.txt", OldPath: "a.txt", Mode: models.ModeRenamed, LinesAdded: 1, LinesDeleted: 1},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, printCommit(&buf, rec, true))

	out := buf.String()
	assert.Contains(t, out, "commit 0123456789abcdef\n")
	assert.Contains(t, out, "Author: Alice <alice@example.com>\n")
	assert.Contains(t, out, "    subject\n    \n    body\n")
	assert.Contains(t, out, "R b.txt (from a.txt) +1 -1\n")
	assert.NotContains(t, out, "Merge:")
}
