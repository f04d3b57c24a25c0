package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
	logFormat = "--pretty=format:" + "%x1e%H%x1f%P%x1f%at%x1f%s"
)

// CLISource reads history by running the git binary in Dir.
type CLISource struct {
	Dir string
	Git string // binary name; "git" when empty
}

// NewCLISource checks that dir is inside a work tree.
func NewCLISource(ctx context.Context, dir string) (*CLISource, error) {
	s := &CLISource{Dir: dir}
	out, err := s.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoRepository)
	}
	return s, nil
}

func (s *CLISource) run(ctx context.Context, args ...string) ([]byte, error) {
	bin := s.Git
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = s.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// TrackedFiles lists files at HEAD relative to the repository root, even when
// Dir is a subdirectory.
func (s *CLISource) TrackedFiles(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "ls-files", "--full-name", "-z", ":/")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(string(out), "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *CLISource) Commits(ctx context.Context) ([]Commit, error) {
	if _, err := s.run(ctx, "rev-parse", "--verify", "-q", "HEAD"); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Unborn branch: no history yet.
		return nil, nil
	}
	out, err := s.run(ctx, "-c", "core.quotepath=off", "log", "--name-status", "--no-renames", logFormat)
	if err != nil {
		return nil, err
	}
	return parseLog(string(out))
}

func (s *CLISource) FileAt(ctx context.Context, hash, path string) ([]byte, error) {
	out, err := s.run(ctx, "show", hash+":"+path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s@%s: %w", path, shortHash(hash), ErrFileNotFound)
		}
		return nil, err
	}
	return out, nil
}

// parseLog reads the output of git log --name-status with logFormat.
// Merge commits list no files there, which is kept as-is.
func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.Trim(record, "\n")
		if record == "" {
			continue
		}
		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSep)
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed log header %q", lines[0])
		}

		secs, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("commit %s: bad timestamp %q: %w", fields[0], fields[2], err)
		}
		c := Commit{
			Hash:      fields[0],
			Parents:   strings.Fields(fields[1]),
			Timestamp: time.Unix(secs, 0).UTC(),
			Message:   fields[3],
		}

		seen := make(map[string]struct{})
		for _, line := range lines[1:] {
			parts := strings.Split(line, "\t")
			if len(parts) < 2 {
				continue
			}
			for _, name := range parts[1:] {
				if _, ok := seen[name]; ok || name == "" {
					continue
				}
				seen[name] = struct{}{}
				c.Files = append(c.Files, name)
			}
		}
		sort.Strings(c.Files)
		commits = append(commits, c)
	}
	return commits, nil
}
