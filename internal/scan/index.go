package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/Someblueman/codexdoc/internal/classify"
)

// FileRecord describes a discovered file in the project tree.
type FileRecord struct {
	AbsPath string
	RelPath string // slash-separated, relative to the index root
	Size    int64
}

// FileIndex is a deterministic snapshot of files under a project root.
// Entries that could not be read are listed in Errors and left out of Files.
type FileIndex struct {
	Root   string
	Files  []FileRecord
	Errors []FileError
}

// BuildFileIndex walks root once, pruning directories the classifier ignores.
// Files are not classified here; that needs their content. Only an unreadable
// root or cancellation fails the walk.
func BuildFileIndex(ctx context.Context, root string, classifier *classify.Classifier) (*FileIndex, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if classifier == nil {
		classifier = classify.New(classify.Options{})
	}

	idx := &FileIndex{Root: absRoot}
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == absRoot {
				return err
			}
			idx.Errors = append(idx.Errors, FileError{Path: relSlash(absRoot, path), Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != absRoot && classifier.IsIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath := relSlash(absRoot, path)
		info, err := d.Info()
		if err != nil {
			idx.Errors = append(idx.Errors, FileError{Path: relPath, Err: err})
			return nil
		}
		idx.Files = append(idx.Files, FileRecord{
			AbsPath: path,
			RelPath: relPath,
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sort.Slice(idx.Files, func(i, j int) bool {
		return idx.Files[i].RelPath < idx.Files[j].RelPath
	})
	return idx, nil
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
