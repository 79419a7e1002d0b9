package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/vcsmine/internal/models"
	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/cobra"
)

var showStat bool

var showCmd = &cobra.Command{
	Use:   "show <revision> [path]",
	Short: "Classify one commit and print its file actions",
	Long: `Classify a single commit straight from the repository, without touching
the store, and print what sync would record for it: metadata, the mode of
every file action and its hunks as a unified diff.`,
	Args: cobra.RangeArgs(1, 2),
	Run:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showStat, "stat", false, "Only list file actions with line counts")
}

func runShow(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	path := cfg.Path
	if len(args) > 1 {
		path = args[1]
	}

	logger := newLogger(cfg.Log)
	backend, root := discover(path, logger)
	repo, err := backend.Open(root, cfg.VCSOptions())
	if err != nil {
		exitError("failed to open repository: %v", err)
	}
	defer repo.Close()

	id, err := repo.Resolve(args[0])
	if err != nil {
		exitError("%v", err)
	}
	rec, err := repo.Classify(context.Background(), id)
	if err != nil {
		exitError("classify commit %s: %v", id, err)
	}

	if err := printCommit(os.Stdout, rec, showStat); err != nil {
		exitError("%v", err)
	}
}

func printCommit(w io.Writer, rec *models.CommitRecord, stat bool) error {
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	yellow.Fprintf(w, "commit %s\n", rec.ID)
	if rec.IsMergeCommit() {
		parents := make([]string, len(rec.Parents))
		for i, p := range rec.Parents {
			parents[i] = shortID(p)
		}
		fmt.Fprintf(w, "Merge:  %s\n", strings.Join(parents, " "))
	}
	fmt.Fprintf(w, "Author: %s <%s>\n", rec.Author.Name, rec.Author.Email)
	fmt.Fprintf(w, "Date:   %s\n", rec.AuthorDate.Format("Mon Jan 2 15:04:05 2006 -0700"))
	fmt.Fprintln(w)
	for _, line := range strings.Split(strings.TrimRight(rec.Message, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
	fmt.Fprintln(w)

	for _, fa := range rec.FileActions {
		if stat || len(rec.Parents) > 1 {
			cyan.Fprintf(w, "%s ", string(fa.Mode))
			fmt.Fprintf(w, "%s", fa.Path)
			if fa.OldPath != "" {
				fmt.Fprintf(w, " (from %s)", fa.OldPath)
			}
			if fa.ParentRevisionHash != "" && len(rec.Parents) > 1 {
				fmt.Fprintf(w, " [%s]", shortID(fa.ParentRevisionHash))
			}
			fmt.Fprintf(w, " +%d -%d\n", fa.LinesAdded, fa.LinesDeleted)
			if stat {
				continue
			}
		}
		if err := printFileAction(w, fa); err != nil {
			return err
		}
	}
	return nil
}

// fileDiff renders a file action as a unified diff.
func fileDiff(fa *models.FileAction) *diff.FileDiff {
	orig := "a/" + fa.Path
	if fa.OldPath != "" {
		orig = "a/" + fa.OldPath
	}
	next := "b/" + fa.Path
	switch fa.Mode {
	case models.ModeAdded:
		orig = "/dev/null"
	case models.ModeDeleted:
		next = "/dev/null"
	}

	fd := &diff.FileDiff{OrigName: orig, NewName: next}
	for _, h := range fa.Hunks {
		fd.Hunks = append(fd.Hunks, &diff.Hunk{
			OrigStartLine: int32(h.OldStart),
			OrigLines:     int32(h.OldLines),
			NewStartLine:  int32(h.NewStart),
			NewLines:      int32(h.NewLines),
			Body:          []byte(h.Content),
		})
	}
	return fd
}

func printFileAction(w io.Writer, fa *models.FileAction) error {
	bold := color.New(color.Bold)
	if fa.IsBinary || len(fa.Hunks) == 0 {
		bold.Fprintf(w, "%s %s", string(fa.Mode), fa.Path)
		if fa.IsBinary {
			fmt.Fprint(w, " (binary)")
		}
		fmt.Fprintln(w)
		return nil
	}

	out, err := diff.PrintFileDiff(fileDiff(fa))
	if err != nil {
		return fmt.Errorf("render %s: %w", fa.Path, err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), len(out)+1)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			bold.Fprintln(w, line)
		case strings.HasPrefix(line, "@@"):
			cyan.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			green.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			red.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
	return sc.Err()
}
