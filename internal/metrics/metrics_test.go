package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.FileScanned()
	r.FileSkipped("binary")
	r.CacheHit()
	r.BlobSkipped()
	r.SetFunctions(3)
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.FileScanned()
	r.FileScanned()
	r.FileSkipped("generated")
	r.CacheHit()
	r.CacheMiss()
	r.CacheMiss()
	r.CommitReplayed()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.filesScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.filesSkipped.WithLabelValues("generated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commits))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.FileScanned()
	r.SetFunctions(7)

	path := filepath.Join(t.TempDir(), "codexdoc.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, "codexdoc_scan_files_total 1"), text)
	assert.True(t, strings.Contains(text, "codexdoc_scan_functions 7"), text)
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	assert.NoError(t, New().WriteTextfile(""))
}
