package history

import (
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/Someblueman/codexdoc/internal/extract"
)

const diffTimeout = 2 * time.Second

// lineChanges holds 1-based line numbers touched by a diff on each side.
type lineChanges struct {
	removed map[int]struct{} // lines of the old blob
	added   map[int]struct{} // lines of the new blob
}

// diffLines runs a line-mode diff and records which lines were deleted from
// before and inserted into after.
func diffLines(before, after []byte) lineChanges {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout
	src, dst, _ := dmp.DiffLinesToRunes(string(before), string(after))
	diffs := dmp.DiffMainRunes(src, dst, false)

	lc := lineChanges{removed: make(map[int]struct{}), added: make(map[int]struct{})}
	var oldLine, newLine int
	for _, edit := range diffs {
		size := utf8.RuneCountInString(edit.Text)
		switch edit.Type {
		case diffmatchpatch.DiffDelete:
			for l := oldLine; l < oldLine+size; l++ {
				lc.removed[l+1] = struct{}{}
			}
			oldLine += size
		case diffmatchpatch.DiffInsert:
			for l := newLine; l < newLine+size; l++ {
				lc.added[l+1] = struct{}{}
			}
			newLine += size
		case diffmatchpatch.DiffEqual:
			oldLine += size
			newLine += size
		}
	}
	return lc
}

func spanTouched(d extract.Declaration, lines map[int]struct{}) bool {
	for l := d.StartLine; l <= d.EndLine; l++ {
		if _, ok := lines[l]; ok {
			return true
		}
	}
	return false
}

// touchedNames returns the names declared in after whose span overlaps an
// inserted line, plus names whose old span lost a line and that still exist.
func touchedNames(before, after []extract.Declaration, lc lineChanges) map[string]struct{} {
	present := make(map[string]struct{}, len(after))
	for _, d := range after {
		present[d.Record.Name] = struct{}{}
	}

	touched := make(map[string]struct{})
	for _, d := range after {
		if spanTouched(d, lc.added) {
			touched[d.Record.Name] = struct{}{}
		}
	}
	for _, d := range before {
		if _, ok := present[d.Record.Name]; !ok {
			continue
		}
		if spanTouched(d, lc.removed) {
			touched[d.Record.Name] = struct{}{}
		}
	}
	return touched
}
