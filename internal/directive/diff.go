package directive

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// CountLineChanges computes the number of added and removed lines between the
// old and new content of a proposed file edit. Counts default to zero when
// either side is unknown; the grammar alone only carries the file path.
func CountLineChanges(oldContent, newContent string) (added, removed int) {
	if oldContent == newContent {
		return 0, 0
	}

	dmp := diffmatchpatch.New()
	oldLines, newLines, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldLines, newLines, false), lineArray)

	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

// WithLineCounts returns a copy of the edit with old/new content attached and
// added/removed recomputed.
func (f FileEdit) WithLineCounts(oldContent, newContent string) FileEdit {
	f.OldContent = oldContent
	f.NewContent = newContent
	f.Added, f.Removed = CountLineChanges(oldContent, newContent)
	return f
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
