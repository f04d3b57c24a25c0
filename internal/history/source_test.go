package history

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	t    *testing.T
	repo *git.Repository
	fs   billy.Filesystem
	wt   *git.Worktree
}

func newMemRepo(t *testing.T) *memRepo {
	t.Helper()
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &memRepo{t: t, repo: repo, fs: fs, wt: wt}
}

func (m *memRepo) write(path, content string) {
	m.t.Helper()
	f, err := m.fs.Create(path)
	require.NoError(m.t, err)
	_, err = f.Write([]byte(content))
	require.NoError(m.t, err)
	require.NoError(m.t, f.Close())
	_, err = m.wt.Add(path)
	require.NoError(m.t, err)
}

func (m *memRepo) remove(path string) {
	m.t.Helper()
	_, err := m.wt.Remove(path)
	require.NoError(m.t, err)
}

func (m *memRepo) commit(msg string, when time.Time) string {
	m.t.Helper()
	sig := &object.Signature{Name: "Dev", Email: "dev@example.com", When: when}
	hash, err := m.wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(m.t, err)
	return hash.String()
}

func TestGoGitTwoCommitScenario(t *testing.T) {
	m := newMemRepo(t)
	m.write("a.ts", fooV1)
	m.commit("add foo", epoch)
	m.write("a.ts", fooV2)
	m.write("b.ts", barV1)
	newest := m.commit("change foo, add bar\n\nlonger body", epoch.Add(time.Hour))

	src := NewGoGitSource(m.repo)
	res, err := NewAnalyzer(src, WithClock(fixedClock(epoch.Add(48*time.Hour)))).Analyze(context.Background())
	require.NoError(t, err)

	assertTwoCommitScenario(t, res, newest)
	assert.Equal(t, "change foo, add bar", res.Timeline[0].CommitMessage)
}

func TestGoGitSourceCommits(t *testing.T) {
	m := newMemRepo(t)
	m.write("a.go", "package a\n")
	m.write("b.go", "package a\n")
	first := m.commit("init", epoch)
	m.write("a.go", "package a\n\nfunc A() {}\n")
	m.remove("b.go")
	second := m.commit("edit", epoch.Add(time.Minute))

	src := NewGoGitSource(m.repo)
	commits, err := src.Commits(context.Background())
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, second, commits[0].Hash)
	assert.Equal(t, []string{first}, commits[0].Parents)
	assert.Equal(t, []string{"a.go", "b.go"}, commits[0].Files)
	assert.True(t, commits[0].Timestamp.Equal(epoch.Add(time.Minute)))

	assert.Equal(t, first, commits[1].Hash)
	assert.Empty(t, commits[1].Parents)
	assert.Equal(t, []string{"a.go", "b.go"}, commits[1].Files)

	files, err := src.TrackedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, files)

	content, err := src.FileAt(context.Background(), first, "b.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))

	_, err = src.FileAt(context.Background(), second, "b.go")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestGoGitEmptyRepository(t *testing.T) {
	m := newMemRepo(t)
	src := NewGoGitSource(m.repo)

	commits, err := src.Commits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, commits)

	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Functions)
}

func TestOpenGoGitOutsideRepository(t *testing.T) {
	_, err := OpenGoGit(t.TempDir())
	assert.ErrorIs(t, err, ErrNoRepository)
}

func TestParseLog(t *testing.T) {
	out := "\x1eaaaa\x1fbbbb\x1f1700000000\x1fsecond commit\n\nM\tsrc/a.ts\nA\tsrc/b.ts\nD\told.ts\n" +
		"\x1ecccc\x1fdddd eeee\x1f1699990000\x1fMerge branch 'x'\n" +
		"\x1ebbbb\x1f\x1f1699900000\x1ffirst | with \"quotes\"\n\nA\tsrc/a.ts\n"

	commits, err := parseLog(out)
	require.NoError(t, err)
	require.Len(t, commits, 3)

	assert.Equal(t, Commit{
		Hash:      "aaaa",
		Parents:   []string{"bbbb"},
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Message:   "second commit",
		Files:     []string{"old.ts", "src/a.ts", "src/b.ts"},
	}, commits[0])

	assert.True(t, commits[1].IsMerge())
	assert.Empty(t, commits[1].Files)

	assert.Empty(t, commits[2].Parents)
	assert.Equal(t, `first | with "quotes"`, commits[2].Message)
	assert.Equal(t, []string{"src/a.ts"}, commits[2].Files)
}

func TestParseLogRejectsMalformedHeader(t *testing.T) {
	_, err := parseLog("\x1eonly\x1ftwo\n")
	assert.Error(t, err)
}

func TestDiffLines(t *testing.T) {
	lc := diffLines([]byte("a\nb\nc\n"), []byte("a\nB\nc\nd\n"))
	assert.Equal(t, map[int]struct{}{2: {}}, lc.removed)
	assert.Equal(t, map[int]struct{}{2: {}, 4: {}}, lc.added)
}

func TestCLISourceTrackedFilesFromSubdirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "x.go"), []byte("package sub\n\nfunc X() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.go"), []byte("package top\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("sub/x.go")
	require.NoError(t, err)
	_, err = wt.Add("top.go")
	require.NoError(t, err)
	sig := &object.Signature{Name: "Dev", Email: "dev@example.com", When: epoch}
	hash, err := wt.Commit("init", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	ctx := context.Background()
	src, err := NewCLISource(ctx, filepath.Join(dir, "sub"))
	require.NoError(t, err)

	files, err := src.TrackedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/x.go", "top.go"}, files)

	content, err := src.FileAt(ctx, hash.String(), files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "func X()")
}
