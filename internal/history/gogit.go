package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GoGitSource reads history in-process with go-git.
type GoGitSource struct {
	repo *git.Repository
}

// OpenGoGit opens the repository containing dir.
func OpenGoGit(dir string) (*GoGitSource, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoRepository)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return &GoGitSource{repo: repo}, nil
}

// NewGoGitSource wraps an already opened repository, typically an in-memory one.
func NewGoGitSource(repo *git.Repository) *GoGitSource {
	return &GoGitSource{repo: repo}
}

func (s *GoGitSource) head() (*object.Commit, error) {
	ref, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	return commit, nil
}

func (s *GoGitSource) TrackedFiles(ctx context.Context) ([]string, error) {
	head, err := s.head()
	if err != nil || head == nil {
		return nil, err
	}
	tree, err := head.Tree()
	if err != nil {
		return nil, fmt.Errorf("load HEAD tree: %w", err)
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *GoGitSource) Commits(ctx context.Context) ([]Commit, error) {
	head, err := s.head()
	if err != nil || head == nil {
		return nil, err
	}

	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("walk log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commit := Commit{
			Hash:      c.Hash.String(),
			Timestamp: c.Author.When.UTC(),
			Message:   subjectLine(c.Message),
		}
		for _, p := range c.ParentHashes {
			commit.Parents = append(commit.Parents, p.String())
		}
		if !commit.IsMerge() {
			files, err := changedFiles(c)
			if err != nil {
				return fmt.Errorf("diff %s: %w", c.Hash, err)
			}
			commit.Files = files
		}
		commits = append(commits, commit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// changedFiles diffs c against its single parent, or lists the whole tree
// for a root commit.
func changedFiles(c *object.Commit) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}

	var parentTree *object.Tree
	if c.NumParents() == 1 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, err
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, err
		}
	}

	if parentTree == nil {
		var files []string
		err := tree.Files().ForEach(func(f *object.File) error {
			files = append(files, f.Name)
			return nil
		})
		sort.Strings(files)
		return files, err
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(changes))
	var files []string
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *GoGitSource) FileAt(ctx context.Context, hash, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	commit, err := s.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	file, err := commit.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s@%s: %w", path, shortHash(hash), ErrFileNotFound)
		}
		return nil, fmt.Errorf("read %s@%s: %w", path, shortHash(hash), err)
	}
	r, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s@%s: %w", path, shortHash(hash), err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func subjectLine(message string) string {
	message = strings.TrimSpace(message)
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return strings.TrimSpace(message)
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
