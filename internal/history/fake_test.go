package history

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// fakeSource replays a scripted history. Each step lists the full tree after
// the commit; changed files are derived by comparing with the previous step.
type fakeSource struct {
	commits []Commit                     // newest-first
	trees   map[string]map[string]string // hash -> path -> content
	fail    map[string]bool              // "hash:path" -> FileAt error
}

type fakeStep struct {
	message string
	at      time.Time
	tree    map[string]string
	merge   bool
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFakeSource(steps ...fakeStep) *fakeSource {
	src := &fakeSource{trees: make(map[string]map[string]string), fail: make(map[string]bool)}
	var prev map[string]string
	var prevHash string
	var oldestFirst []Commit
	for i, step := range steps {
		hash := fmt.Sprintf("%040x", i+1)
		c := Commit{Hash: hash, Timestamp: step.at, Message: step.message}
		if prevHash != "" {
			c.Parents = []string{prevHash}
		}
		if step.merge {
			c.Parents = append(c.Parents, fmt.Sprintf("%040x", 1000+i))
		} else {
			c.Files = diffTrees(prev, step.tree)
		}
		src.trees[hash] = step.tree
		oldestFirst = append(oldestFirst, c)
		prev, prevHash = step.tree, hash
	}
	for i := len(oldestFirst) - 1; i >= 0; i-- {
		src.commits = append(src.commits, oldestFirst[i])
	}
	return src
}

func diffTrees(before, after map[string]string) []string {
	var files []string
	for path, content := range after {
		if old, ok := before[path]; !ok || old != content {
			files = append(files, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files
}

func (s *fakeSource) TrackedFiles(ctx context.Context) ([]string, error) {
	if len(s.commits) == 0 {
		return nil, nil
	}
	var files []string
	for path := range s.trees[s.commits[0].Hash] {
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

func (s *fakeSource) Commits(ctx context.Context) ([]Commit, error) {
	return append([]Commit(nil), s.commits...), nil
}

func (s *fakeSource) FileAt(ctx context.Context, hash, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.fail[hash+":"+path] {
		return nil, fmt.Errorf("simulated read failure")
	}
	content, ok := s.trees[hash][path]
	if !ok {
		return nil, ErrFileNotFound
	}
	return []byte(content), nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
