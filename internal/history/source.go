package history

import (
	"context"
	"errors"
	"time"
)

// ErrNoRepository is returned when the project directory is not inside a git
// work tree.
var ErrNoRepository = errors.New("not a git repository")

// ErrFileNotFound is returned by Source.FileAt when path does not exist at hash.
var ErrFileNotFound = errors.New("file not found at revision")

// Commit is one entry of the history as git log reports it.
type Commit struct {
	Hash      string
	Parents   []string
	Timestamp time.Time
	Message   string   // subject line
	Files     []string // changed paths, slash-separated; empty for merges
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool { return len(c.Parents) > 1 }

// Source gives the analyzer read access to a repository's history.
type Source interface {
	// TrackedFiles lists every file at HEAD, slash-separated and repo-relative.
	TrackedFiles(ctx context.Context) ([]string, error)
	// Commits lists reachable commits newest-first.
	Commits(ctx context.Context) ([]Commit, error)
	// FileAt returns the blob contents of path at commit hash.
	FileAt(ctx context.Context, hash, path string) ([]byte, error)
}
