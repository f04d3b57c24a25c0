package scan

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Someblueman/codexdoc/internal/cache"
	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/function"
)

func writeFile(t testing.TB, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// recordNames lists the name of every record, duplicates included.
func recordNames(records []function.Record) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.go", `package main

// main starts the program.
func main() {
	helper(1)
}

func helper(n int) int {
	return n + 1
}
`)
	writeFile(t, root, "pkg/util.go", `package pkg

// helper doubles n.
func helper(n int) int { return n * 2 }
`)
	writeFile(t, root, "scripts/deploy.sh", `#!/bin/sh
# Deploys the build.
deploy() {
  local target="$1"
  echo "$target"
}
`)
	writeFile(t, root, "node_modules/lib/index.go", "package lib\n\nfunc Hidden() {}\n")
	writeFile(t, root, "pkg/util_test.go", "package pkg\n\nfunc TestHelper() {}\n")
	writeFile(t, root, "pkg/gen.go", "// Code generated by tool. DO NOT EDIT.\npackage pkg\n\nfunc Generated() {}\n")
	writeFile(t, root, "README.md", "# readme\n")
	return root
}

func TestBuildFileIndexPrunesIgnoredDirs(t *testing.T) {
	root := fixtureTree(t)
	idx, err := BuildFileIndex(context.Background(), root, nil)
	require.NoError(t, err)

	var rel []string
	for _, f := range idx.Files {
		rel = append(rel, f.RelPath)
	}
	assert.Equal(t, []string{"README.md", "main.go", "pkg/gen.go", "pkg/util.go", "pkg/util_test.go", "scripts/deploy.sh"}, rel)
}

func TestScanExtractsEligibleFiles(t *testing.T) {
	root := fixtureTree(t)
	res, err := New(WithWorkers(2)).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"deploy", "helper", "helper", "main"}, recordNames(res.Functions))
	assert.Equal(t, 3, res.Files)
	// README.md, util_test.go and the generated file.
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Errors)

	helpers := res.Functions[1:3]
	assert.Equal(t, "main.go", helpers[0].FilePath)
	assert.Equal(t, "pkg/util.go", helpers[1].FilePath)
	assert.Equal(t, "helper doubles n.", helpers[1].Description)

	require.Contains(t, res.Declarations, "main.go")
	mainDecl := res.Declarations["main.go"][0]
	assert.Equal(t, []string{"helper"}, mainDecl.Calls)
}

func TestScanIsIdempotent(t *testing.T) {
	root := fixtureTree(t)
	s := New()

	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, first.Functions, second.Functions)
}

func TestScanOrderIndependent(t *testing.T) {
	root := fixtureTree(t)
	s := New(WithWorkers(4))

	idx, err := BuildFileIndex(context.Background(), root, s.Classifier())
	require.NoError(t, err)
	want, err := s.scanIndex(context.Background(), idx)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		shuffled := &FileIndex{Root: idx.Root, Files: append([]FileRecord(nil), idx.Files...)}
		rng.Shuffle(len(shuffled.Files), func(a, b int) {
			shuffled.Files[a], shuffled.Files[b] = shuffled.Files[b], shuffled.Files[a]
		})
		got, err := s.scanIndex(context.Background(), shuffled)
		require.NoError(t, err)
		assert.Equal(t, want.Functions, got.Functions)
	}
}

type panicExtractor struct{}

func (panicExtractor) Language() string { return "boom" }
func (panicExtractor) Extensions() []string {
	return []string{".boom"}
}
func (panicExtractor) CanHandle(path string) bool { return strings.HasSuffix(path, ".boom") }
func (panicExtractor) Extract(string, []byte) extract.Result {
	panic("kaboom")
}

func TestScanIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.go", "package ok\n\nfunc Fine() {}\n")
	writeFile(t, root, "bad.boom", "anything")
	writeFile(t, root, "broken.go", "package broken\n\nfunc Good() {}\n\nfunc Bad( {\n")

	reg := extract.NewRegistry(extract.GoExtractor{}, panicExtractor{})
	res, err := New(WithRegistry(reg)).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Errors, 2)
	assert.Equal(t, "bad.boom", res.Errors[0].Path)
	assert.Contains(t, res.Errors[0].Error(), "kaboom")
	assert.Equal(t, "broken.go", res.Errors[1].Path)

	names := function.Names(res.Functions)
	assert.Contains(t, names, "Fine")
	assert.Contains(t, names, "Good")
}

func TestScanEmptyTree(t *testing.T) {
	res, err := New().Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, res.Functions)
	assert.Zero(t, res.Files)
}

func TestScanCancelled(t *testing.T) {
	root := fixtureTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Scan(ctx, root)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestScanUsesCache(t *testing.T) {
	root := fixtureTree(t)
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer c.Close()

	s := New(WithCache(c))
	cold, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Zero(t, cold.CacheHits)

	warm, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, warm.Files, warm.CacheHits)
	assert.Equal(t, cold.Functions, warm.Functions)

	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n\nfunc extra() {}\n")
	changed, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, warm.Files-1, changed.CacheHits)
	assert.Contains(t, function.Names(changed.Functions), "extra")
}

func TestScanReportsProgress(t *testing.T) {
	root := fixtureTree(t)
	var calls, lastTotal atomic.Int64
	s := New(WithProgress(func(done, total int) {
		calls.Add(1)
		lastTotal.Store(int64(total))
	}))
	_, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	// Path-eligible candidates: main.go, pkg/gen.go, pkg/util.go, scripts/deploy.sh.
	assert.Equal(t, int64(4), calls.Load())
	assert.Equal(t, int64(4), lastTotal.Load())
}

func TestScanWarmCacheKeepsIdenticalFilesApart(t *testing.T) {
	root := t.TempDir()
	src := "package x\n\n// Shared is declared twice.\nfunc Shared() {}\n"
	writeFile(t, root, "a/x.go", src)
	writeFile(t, root, "b/x.go", src)

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer c.Close()
	s := New(WithCache(c), WithWorkers(1))

	cold, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, cold.Functions, 2)
	assert.Equal(t, "a/x.go", cold.Functions[0].FilePath)
	assert.Equal(t, "b/x.go", cold.Functions[1].FilePath)

	warm, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, warm.CacheHits)
	assert.Equal(t, cold.Functions, warm.Functions)
	assert.Equal(t, "a/x.go", warm.Declarations["a/x.go"][0].Record.FilePath)
}

func TestScanSkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := fixtureTree(t)
	locked := filepath.Join(root, "locked")
	writeFile(t, root, "locked/hidden.go", "package locked\n\nfunc Hidden() {}\n")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := New().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "helper", "helper", "main"}, recordNames(res.Functions))

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "locked", res.Errors[0].Path)
	assert.ErrorIs(t, res.Errors[0], os.ErrPermission)
}
