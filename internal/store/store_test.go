package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Someblueman/codexdoc/internal/function"
	"github.com/Someblueman/codexdoc/internal/history"
)

func testRecords() []function.Record {
	return []function.Record{
		{
			Name: "foo", Language: "typescript", FilePath: "a.ts", SourceText: "function foo(x) {}",
			Parameters: []function.Parameter{{Name: "x", Type: "any"}},
		},
		{Name: "bar", Language: "typescript", FilePath: "b.ts", SourceText: "function bar() { foo(1) }"},
	}
}

func testResult() *history.Result {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &history.Result{
		Functions: map[string]*history.ChangeRecord{
			"foo": {Name: "foo", ChangeCount: 2, LastModified: at},
			"bar": {Name: "bar", ChangeCount: 1, LastModified: at},
		},
		Dependencies: []history.DependencyLink{{Source: "bar", Target: "foo", ChangeCount: 1, Confidence: 1}},
		Timeline: []history.TimelineEntry{
			{Timestamp: at, CommitHash: "c2", CommitMessage: "second", Functions: []string{"bar", "foo"}},
			{Timestamp: at.Add(-time.Hour), CommitHash: "c1", CommitMessage: "first", Functions: []string{"foo"}},
		},
		Hotspots: []history.Hotspot{{Name: "foo", ChangeCount: 2, CoChangeDegree: 1, Score: 10}},
		Graph:    history.DependencyGraph{"bar": {"foo"}, "foo": {}},
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codexdoc.db")

	require.NoError(t, Export(ctx, path, testRecords(), testResult()))

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	functions, calls, links, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), functions)
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, int64(1), links)

	callers, err := db.Callers(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar"}, callers)

	recs, err := db.Functions(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Equal(testRecords()[0]))

	var touched int
	require.NoError(t, db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commit_functions WHERE name = 'foo'`).Scan(&touched))
	assert.Equal(t, 2, touched)
}

func TestExportReplacesPreviousContents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codexdoc.db")

	require.NoError(t, Export(ctx, path, testRecords(), testResult()))
	require.NoError(t, Export(ctx, path, testRecords()[:1], nil))

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	functions, calls, links, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), functions)
	assert.Zero(t, calls)
	assert.Zero(t, links)

	recs, err := db.Functions(ctx, "bar")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "codexdoc.db"))
	require.NoError(t, err)
	defer db.Close()

	first, err := db.Conn().Conn(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := db.Conn().Conn(ctx)
	require.NoError(t, err)
	defer second.Close()

	for _, c := range []*sql.Conn{first, second} {
		var on int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&on))
		assert.Equal(t, 1, on)
	}
}

func TestCommitDeleteCascades(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codexdoc.db")
	require.NoError(t, Export(ctx, path, testRecords(), testResult()))

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().ExecContext(ctx, "DELETE FROM commits WHERE hash = 'c2'")
	require.NoError(t, err)

	var left int
	require.NoError(t, db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM commit_functions").Scan(&left))
	assert.Equal(t, 1, left)
}
