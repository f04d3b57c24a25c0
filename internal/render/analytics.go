package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Someblueman/codexdoc/internal/history"
)

// Analytics page file names.
const (
	PageIndex           = "index.md"
	PageChangeFrequency = "change-frequency.md"
	PageDependencies    = "dependencies.md"
	PageChangePatterns  = "change-patterns.md"
	PageTimeline        = "timeline.md"
	PageHotspots        = "hotspots.md"
)

const indexTemplate = `# Code Analytics

Generated {{ago .Result.GeneratedAt}}.

| Metric | Value |
|--------|-------|
| Functions with history | {{comma .Result.TotalFunctions}} |
| Commits analyzed | {{comma .Result.Stats.CommitsProcessed}} |
| Merge commits | {{comma .Result.Stats.MergeCommits}} |
| Tracked source files | {{comma .Result.Stats.TrackedFiles}} |
| Files skipped | {{comma .Result.Stats.SkippedFiles}} |
| Co-change links | {{comma (len .Result.Dependencies)}} |
| Call graph edges | {{comma .Result.Graph.Edges}} |

## Pages

- [Change frequency](./change-frequency.md)
- [Dependencies](./dependencies.md)
- [Change patterns](./change-patterns.md)
- [Timeline](./timeline.md)
- [Hotspots](./hotspots.md)
{{if .Result.Hotspots}}
## Top hotspots
{{range $i, $h := top .Result.Hotspots 5}}
{{inc $i}}. ` + "`{{$h.Name}}`" + ` ({{$h.ChangeCount}} changes, last {{ago $h.LastModified}})
{{- end}}
{{end}}`

const changeFrequencyTemplate = `# Change Frequency

Functions changed most often.
{{if .Result.FrequentlyChanged}}
| Function | Changes | Last modified | Files |
|----------|---------|---------------|-------|
{{- range .Result.FrequentlyChanged}}
| ` + "`{{.Name}}`" + ` | {{.ChangeCount}} | {{ago .LastModified}} | {{files .FilePaths}} |
{{- end}}
{{else}}
No function changes recorded.
{{end}}`

const dependenciesTemplate = `# Dependencies

## Co-change links

A link A → B means B changed in more than {{percent .Threshold}} of the commits that changed A.
{{if .Result.Dependencies}}
| Source | Target | Shared commits | Confidence |
|--------|--------|----------------|------------|
{{- range .Result.Dependencies}}
| ` + "`{{.Source}}`" + ` | ` + "`{{.Target}}`" + ` | {{.ChangeCount}} | {{percent .Confidence}} |
{{- end}}
{{else}}
No links above the threshold.
{{end}}
## Call graph

Calls are matched by name only.
{{if .Callers}}
| Function | Calls |
|----------|-------|
{{- range .Callers}}
| ` + "`{{.}}`" + ` | {{names (index $.Result.Graph .)}} |
{{- end}}
{{else}}
No calls between known functions.
{{end}}`

const changePatternsTemplate = `# Change Patterns
{{if .Result.Impactful}}
{{- range .Result.Impactful}}

## ` + "`{{.Name}}`" + `

- Changes: {{.ChangeCount}}, last {{ago .LastModified}}
- Calls: {{names .Calls}}
- Called by: {{names .CalledBy}}
- Dependency count: {{.DependencyCount}}
{{- if .CoChanges}}

| Changed with | Times | Latest commit |
|--------------|-------|---------------|
{{- range .CoChanges}}
| ` + "`{{.Name}}`" + ` | {{.Count}} | {{latest .Commits}} |
{{- end}}
{{- end}}
{{- end}}
{{else}}
No change patterns recorded.
{{end}}`

const timelineTemplate = `# Timeline
{{if .Result.Timeline}}
| When | Commit | Message | Functions |
|------|--------|---------|-----------|
{{- range .Result.Timeline}}
| {{date .Timestamp}} | ` + "`{{short .CommitHash}}`" + ` | {{cell (truncate .CommitMessage 72)}} | {{names .Functions}} |
{{- end}}
{{else}}
No commits touched tracked functions.
{{end}}`

const hotspotsTemplate = `# Hotspots

Score = changes × (co-change degree + 1) × ln(1 + seconds since last change).
{{if .Result.Hotspots}}
| # | Function | Score | Changes | Co-change degree | Last modified |
|---|----------|-------|---------|------------------|---------------|
{{- range $i, $h := .Result.Hotspots}}
| {{inc $i}} | ` + "`{{$h.Name}}`" + ` | {{score $h.Score}} | {{$h.ChangeCount}} | {{$h.CoChangeDegree}} | {{ago $h.LastModified}} |
{{- end}}
{{else}}
No hotspots.
{{end}}`

type analyticsData struct {
	Result    *history.Result
	Threshold float64
	Callers   []string
}

// AnalyticsPages renders every analytics page, keyed by file name. now anchors
// relative times.
func AnalyticsPages(res *history.Result, threshold float64, now time.Time) (map[string]string, error) {
	funcs := template.FuncMap{
		"truncate": truncate,
		"cell":     cell,
		"ago":      func(t time.Time) string { return humanize.RelTime(t, now, "ago", "from now") },
		"date":     func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
		"comma":    func(n int) string { return humanize.Comma(int64(n)) },
		"percent":  func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
		"score":    func(f float64) string { return humanize.FormatFloat("#,###.##", f) },
		"inc":      func(i int) int { return i + 1 },
		"short":    shortHash,
		"files":    func(paths []string) string { return joinCode(paths) },
		"names":    func(names []string) string { return joinCode(names) },
		"top":      topHotspots,
		"latest":   latestCommit,
	}

	data := analyticsData{Result: res, Threshold: threshold}
	for name, callees := range res.Graph {
		if len(callees) > 0 {
			data.Callers = append(data.Callers, name)
		}
	}
	sort.Strings(data.Callers)

	sources := map[string]string{
		PageIndex:           indexTemplate,
		PageChangeFrequency: changeFrequencyTemplate,
		PageDependencies:    dependenciesTemplate,
		PageChangePatterns:  changePatternsTemplate,
		PageTimeline:        timelineTemplate,
		PageHotspots:        hotspotsTemplate,
	}

	pages := make(map[string]string, len(sources))
	for name, src := range sources {
		tmpl, err := template.New(name).Funcs(funcs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, data); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		pages[name] = sb.String()
	}
	return pages, nil
}

// WriteAnalyticsPages renders and writes the analytics pages into dir.
func WriteAnalyticsPages(dir string, res *history.Result, threshold float64, now time.Time) error {
	pages, err := AnalyticsPages(res, threshold, now)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	names := make([]string, 0, len(pages))
	for name := range pages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeFileAtomic(filepath.Join(dir, name), []byte(pages[name])); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func joinCode(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "`" + cell(s) + "`"
	}
	return strings.Join(quoted, ", ")
}

func topHotspots(hs []history.Hotspot, n int) []history.Hotspot {
	if len(hs) > n {
		return hs[:n]
	}
	return hs
}

func latestCommit(commits []history.CommitRef) string {
	if len(commits) == 0 {
		return "-"
	}
	c := commits[len(commits)-1]
	return "`" + shortHash(c.Hash) + "` " + cell(truncate(c.Message, 48))
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
