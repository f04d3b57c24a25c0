package history

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fooV1 = `/** Returns one. */
export function foo(): number {
  return 1;
}
`
	fooV2 = `/** Returns two. */
export function foo(): number {
  return 2;
}
`
	barV1 = `export function bar(x: number): number {
  return foo() + x;
}
`
)

func twoCommitScenario() *fakeSource {
	return newFakeSource(
		fakeStep{message: "add foo", at: epoch, tree: map[string]string{"a.ts": fooV1}},
		fakeStep{message: "change foo, add bar", at: epoch.Add(time.Hour), tree: map[string]string{"a.ts": fooV2, "b.ts": barV1}},
	)
}

func assertTwoCommitScenario(t *testing.T, res *Result, newestHash string) {
	t.Helper()

	require.Contains(t, res.Functions, "foo")
	require.Contains(t, res.Functions, "bar")
	assert.Equal(t, 2, res.Functions["foo"].ChangeCount)
	assert.Equal(t, 1, res.Functions["bar"].ChangeCount)
	assert.Equal(t, 2, res.TotalFunctions)

	assert.Equal(t, []string{"foo"}, res.Graph["bar"])
	assert.Empty(t, res.Graph["foo"])

	require.Len(t, res.Timeline, 2)
	assert.Equal(t, newestHash, res.Timeline[0].CommitHash)
	assert.True(t, res.Timeline[0].Timestamp.After(res.Timeline[1].Timestamp))
	assert.Equal(t, []string{"bar", "foo"}, res.Timeline[0].Functions)
	assert.Equal(t, []string{"foo"}, res.Timeline[1].Functions)

	// foo changed twice and co-changed with bar once: 0.5 is not material.
	require.Len(t, res.Dependencies, 1)
	assert.Equal(t, DependencyLink{Source: "bar", Target: "foo", ChangeCount: 1, Confidence: 1}, res.Dependencies[0])

	foo := res.Functions["foo"]
	assert.Equal(t, res.Timeline[0].Timestamp, foo.LastModified, "last modified is the newest commit")
	assert.Equal(t, []string{"a.ts"}, foo.FilePaths)
	require.Len(t, foo.Commits, 2)
	assert.Equal(t, newestHash, foo.Commits[1].Hash, "commits are kept in replay order")
}

func TestAnalyzeTwoCommitScenario(t *testing.T) {
	src := twoCommitScenario()
	res, err := NewAnalyzer(src, WithClock(fixedClock(epoch.Add(48*time.Hour)))).Analyze(context.Background())
	require.NoError(t, err)

	assertTwoCommitScenario(t, res, src.commits[0].Hash)
	assert.Equal(t, 2, res.Stats.CommitsProcessed)
	assert.Equal(t, 2, res.Stats.TrackedFiles)
	assert.Zero(t, res.Stats.SkippedFiles)
}

func TestAnalyzeEmptyHistory(t *testing.T) {
	res, err := NewAnalyzer(newFakeSource()).Analyze(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Functions)
	assert.Empty(t, res.Timeline)
	assert.Empty(t, res.Dependencies)
	assert.NotNil(t, res.Graph)
}

func goFile(funcs ...string) string {
	src := "package p\n"
	for _, f := range funcs {
		src += "\n" + f + "\n"
	}
	return src
}

func TestConfidenceBoundAndMateriality(t *testing.T) {
	a1 := "func A() int { return 1 }"
	a2 := "func A() int { return 2 }"
	a3 := "func A() int { return 3 }"
	b1 := "func B() int { return 1 }"
	b2 := "func B() int { return 2 }"
	c1 := "func C() int { return 1 }"

	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"a.go": goFile(a1)}},
		fakeStep{message: "2", at: epoch.Add(1 * time.Hour), tree: map[string]string{"a.go": goFile(a2), "b.go": goFile(b1)}},
		fakeStep{message: "3", at: epoch.Add(2 * time.Hour), tree: map[string]string{"a.go": goFile(a3), "b.go": goFile(b2), "c.go": goFile(c1)}},
	)
	res, err := NewAnalyzer(src, WithThreshold(DefaultThreshold)).Analyze(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, res.Functions["A"].ChangeCount)
	require.Equal(t, 2, res.Functions["B"].ChangeCount)
	require.Equal(t, 1, res.Functions["C"].ChangeCount)

	require.NotEmpty(t, res.Dependencies)
	for _, link := range res.Dependencies {
		source := res.Functions[link.Source]
		assert.Greater(t, link.Confidence, 0.0)
		assert.LessOrEqual(t, link.Confidence, 1.0)
		assert.Greater(t, link.Confidence, DefaultThreshold, "%s -> %s", link.Source, link.Target)
		assert.Equal(t, float64(link.ChangeCount)/float64(source.ChangeCount), link.Confidence)
	}

	// A co-changed with B twice out of 3 (0.67) and with C once (0.33).
	assert.Contains(t, res.Dependencies, DependencyLink{Source: "A", Target: "B", ChangeCount: 2, Confidence: 2.0 / 3.0})
	assert.NotContains(t, res.Dependencies, DependencyLink{Source: "A", Target: "C", ChangeCount: 1, Confidence: 1.0 / 3.0})
	// Ordering: confidence 1.0 links first, then by change count.
	assert.Equal(t, DependencyLink{Source: "B", Target: "A", ChangeCount: 2, Confidence: 1}, res.Dependencies[0])
	assert.Equal(t, 1.0, res.Dependencies[1].Confidence)
	last := res.Dependencies[len(res.Dependencies)-1]
	assert.Equal(t, "A", last.Source)
}

func TestCoChangeIsDirectional(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"x.go": goFile("func X() {}", "func Y() {}")}},
		fakeStep{message: "2", at: epoch.Add(time.Hour), tree: map[string]string{"x.go": goFile("func X() { X() }", "func Y() {}")}},
	)
	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)

	// Non-precise mode attributes a file change to every function in it.
	assert.Equal(t, 2, res.Functions["X"].CoChanges["Y"].Count)
	assert.Equal(t, 2, res.Functions["Y"].CoChanges["X"].Count)
	assert.Len(t, res.Functions["X"].CoChanges["Y"].Commits, 2)
	assert.NotContains(t, res.Functions["X"].CoChanges, "X")
}

func TestPreciseModeUsesDiffHunks(t *testing.T) {
	before := goFile("func X() int {\n\treturn 1\n}", "func Y() int {\n\treturn 1\n}")
	after := goFile("func X() int {\n\treturn 2\n}", "func Y() int {\n\treturn 1\n}")
	src := newFakeSource(
		fakeStep{message: "add", at: epoch, tree: map[string]string{"x.go": before}},
		fakeStep{message: "edit X", at: epoch.Add(time.Hour), tree: map[string]string{"x.go": after}},
	)

	res, err := NewAnalyzer(src, WithPrecise(true)).Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Functions["X"].ChangeCount)
	assert.Equal(t, 1, res.Functions["Y"].ChangeCount, "Y was only touched when the file was created")
	require.Len(t, res.Timeline, 2)
	assert.Equal(t, []string{"X"}, res.Timeline[0].Functions)
}

func TestTrackedOnlyDropsRemovedFunctions(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"a.go": goFile("func Old() {}", "func Keep() {}")}},
		fakeStep{message: "2", at: epoch.Add(time.Hour), tree: map[string]string{"a.go": goFile("func Keep() { println() }")}},
	)

	all, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)
	assert.Contains(t, all.Functions, "Old")

	tracked, err := NewAnalyzer(src, WithTrackedOnly(true)).Analyze(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, tracked.Functions, "Old")
	assert.Equal(t, 2, tracked.Functions["Keep"].ChangeCount)
}

func TestNameCollisionMergesGraphNodes(t *testing.T) {
	src := newFakeSource(fakeStep{message: "1", at: epoch, tree: map[string]string{
		"a/util.go": goFile("func helper() { alpha() }", "func alpha() {}"),
		"b/util.go": goFile("func helper() { beta() }", "func beta() {}"),
	}})
	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)

	// Two unrelated helpers share one node and one change record.
	assert.Equal(t, []string{"alpha", "beta"}, res.Graph["helper"])
	assert.Equal(t, 1, res.Functions["helper"].ChangeCount)
	assert.Equal(t, []string{"a/util.go", "b/util.go"}, res.Functions["helper"].FilePaths)
	assert.Contains(t, res.Graph, "alpha")
	assert.Empty(t, res.Graph["alpha"])
}

func TestMissingBlobSkipsOnlyThatFile(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"a.go": goFile("func A() {}"), "b.go": goFile("func B() {}")}},
	)
	src.fail[src.commits[0].Hash+":b.go"] = true

	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Functions, "A")
	assert.NotContains(t, res.Functions, "B")
	assert.Equal(t, 1, res.Stats.SkippedFiles)
}

func TestDeletedFileCountsAsSkipped(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"a.go": goFile("func A() {}"), "b.go": goFile("func B() {}")}},
		fakeStep{message: "2", at: epoch.Add(time.Hour), tree: map[string]string{"a.go": goFile("func A() {}")}},
	)
	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Functions["B"].ChangeCount)
	assert.Equal(t, 1, res.Stats.SkippedFiles)
	assert.Len(t, res.Timeline, 1)
}

func TestMergeCommitsCarryNoChanges(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "1", at: epoch, tree: map[string]string{"a.go": goFile("func A() {}")}},
		fakeStep{message: "merge", at: epoch.Add(time.Hour), tree: map[string]string{"a.go": goFile("func A() { A() }")}, merge: true},
	)
	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Functions["A"].ChangeCount)
	assert.Equal(t, 1, res.Stats.MergeCommits)
	assert.Equal(t, 2, res.Stats.CommitsProcessed)
}

func TestBatchSizeDoesNotChangeResults(t *testing.T) {
	var steps []fakeStep
	body := []string{"func A() {}", "func B() { A() }", "func C() { B() }"}
	for i := 0; i < 9; i++ {
		tree := map[string]string{}
		for j := 0; j <= i%3; j++ {
			tree[string(rune('a'+j))+".go"] = goFile(body[j], "// rev "+string(rune('0'+i)))
		}
		steps = append(steps, fakeStep{message: "rev", at: epoch.Add(time.Duration(i) * time.Hour), tree: tree})
	}
	src := newFakeSource(steps...)
	clock := WithClock(fixedClock(epoch.Add(100 * time.Hour)))

	want, err := NewAnalyzer(src, clock, WithBatchSize(100)).Analyze(context.Background())
	require.NoError(t, err)
	for _, size := range []int{1, 2, 4} {
		got, err := NewAnalyzer(src, clock, WithBatchSize(size), WithWorkers(3)).Analyze(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got, "batch size %d", size)
	}
}

func TestMaxCommitsKeepsNewest(t *testing.T) {
	src := twoCommitScenario()
	res, err := NewAnalyzer(src, WithMaxCommits(1)).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.CommitsProcessed)
	assert.Equal(t, 1, res.Functions["foo"].ChangeCount)
	assert.Equal(t, 1, res.Functions["bar"].ChangeCount)
}

func TestHotspotsRankChurnAndCoupling(t *testing.T) {
	now := epoch.Add(10 * 24 * time.Hour)
	src := twoCommitScenario()
	res, err := NewAnalyzer(src, WithClock(fixedClock(now))).Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Hotspots, 2)
	assert.Equal(t, "foo", res.Hotspots[0].Name)
	assert.Equal(t, 1, res.Hotspots[0].CoChangeDegree)

	elapsed := now.Sub(epoch.Add(time.Hour)).Seconds()
	assert.InDelta(t, 2*2*math.Log1p(elapsed), res.Hotspots[0].Score, 1e-9)
}

func TestHotspotScoreClampsFutureTimestamps(t *testing.T) {
	assert.Equal(t, 0.0, hotspotScore(3, 2, epoch.Add(time.Hour), epoch))
	assert.Greater(t, hotspotScore(1, 0, epoch, epoch.Add(time.Minute)), 0.0)
}

func TestImpactfulAndFrequentlyChanged(t *testing.T) {
	src := twoCommitScenario()
	res, err := NewAnalyzer(src, WithTop(1)).Analyze(context.Background())
	require.NoError(t, err)

	require.Len(t, res.FrequentlyChanged, 1)
	assert.Equal(t, "foo", res.FrequentlyChanged[0].Name)

	require.Len(t, res.Impactful, 1)
	top := res.Impactful[0]
	// Both have one dependency; foo wins on change count.
	assert.Equal(t, "foo", top.Name)
	assert.Equal(t, []string{"bar"}, top.CalledBy)
	assert.Equal(t, 1, top.DependencyCount)
	require.Len(t, top.CoChanges, 1)
	assert.Equal(t, "bar", top.CoChanges[0].Name)
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAnalyzer(twoCommitScenario()).Analyze(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratedContentIsIgnoredDuringReplay(t *testing.T) {
	src := newFakeSource(
		fakeStep{message: "add sources", at: epoch, tree: map[string]string{
			"a.go":   "package a\n\nfunc Hand() {}\n",
			"gen.go": "// Code generated by tool. DO NOT EDIT.\npackage a\n\nfunc Generated() {}\n",
		}},
		fakeStep{message: "regenerate", at: epoch.Add(time.Hour), tree: map[string]string{
			"a.go":   "package a\n\nfunc Hand() {}\n",
			"gen.go": "// Code generated by tool. DO NOT EDIT.\npackage a\n\nfunc Generated() { _ = 1 }\n",
		}},
	)
	res, err := NewAnalyzer(src).Analyze(context.Background())
	require.NoError(t, err)

	assert.Contains(t, res.Functions, "Hand")
	assert.NotContains(t, res.Functions, "Generated")
	assert.NotContains(t, res.Graph, "Generated")
	require.Len(t, res.Timeline, 1)
	assert.Equal(t, []string{"Hand"}, res.Timeline[0].Functions)
	assert.Equal(t, 2, res.Stats.CommitsProcessed)
}
