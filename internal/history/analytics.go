package history

import (
	"math"
	"sort"
	"time"
)

// DefaultThreshold is the materiality threshold for dependency links.
const DefaultThreshold = 0.5

// CommitRef identifies the commit behind a change.
type CommitRef struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// CoChange counts the commits in which two functions changed together.
type CoChange struct {
	Count   int         `json:"count"`
	Commits []CommitRef `json:"commits"`
}

// ChangeRecord is the change history of one function name.
type ChangeRecord struct {
	Name         string               `json:"name"`
	ChangeCount  int                  `json:"changeCount"`
	LastModified time.Time            `json:"lastModified"`
	FilePaths    []string             `json:"filePaths"`
	Commits      []CommitRef          `json:"commits"`
	CoChanges    map[string]*CoChange `json:"coChanges"`
}

func (r *ChangeRecord) addFile(path string) {
	i := sort.SearchStrings(r.FilePaths, path)
	if i < len(r.FilePaths) && r.FilePaths[i] == path {
		return
	}
	r.FilePaths = append(r.FilePaths, "")
	copy(r.FilePaths[i+1:], r.FilePaths[i:])
	r.FilePaths[i] = path
}

// DependencyLink is a co-change relation strong enough to report.
// Confidence is ChangeCount divided by the source's own change count.
type DependencyLink struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	ChangeCount int     `json:"changeCount"`
	Confidence  float64 `json:"confidence"`
}

// TimelineEntry lists the tracked functions touched by one commit.
type TimelineEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	CommitHash    string    `json:"commitHash"`
	CommitMessage string    `json:"commitMessage"`
	Functions     []string  `json:"functions"`
}

// Hotspot ranks a function by churn, coupling and age.
type Hotspot struct {
	Name           string    `json:"name"`
	ChangeCount    int       `json:"changeCount"`
	CoChangeDegree int       `json:"coChangeDegree"`
	LastModified   time.Time `json:"lastModified"`
	Score          float64   `json:"score"`
}

// NamedCoChange is a CoChange with its partner's name, for ordered output.
type NamedCoChange struct {
	Name string `json:"name"`
	CoChange
}

// Impact summarizes how connected a changed function is.
type Impact struct {
	Name            string          `json:"name"`
	ChangeCount     int             `json:"changeCount"`
	LastModified    time.Time       `json:"lastModified"`
	Calls           []string        `json:"calls"`
	CalledBy        []string        `json:"calledBy"`
	DependencyCount int             `json:"dependencyCount"`
	CoChanges       []NamedCoChange `json:"coChanges"`
}

// Stats counts what the replay did.
type Stats struct {
	CommitsTotal     int `json:"commitsTotal"`
	CommitsProcessed int `json:"commitsProcessed"`
	MergeCommits     int `json:"mergeCommits"`
	FilesExtracted   int `json:"filesExtracted"`
	SkippedFiles     int `json:"skippedFiles"`
	TrackedFiles     int `json:"trackedFiles"`
}

// Result is the full analytics output.
type Result struct {
	Functions         map[string]*ChangeRecord `json:"functions"`
	Dependencies      []DependencyLink         `json:"dependencies"`
	Timeline          []TimelineEntry          `json:"timeline"`
	Hotspots          []Hotspot                `json:"hotspots"`
	FrequentlyChanged []*ChangeRecord          `json:"frequentlyChanged"`
	Impactful         []Impact                 `json:"impactful"`
	Graph             DependencyGraph          `json:"graph"`
	TotalFunctions    int                      `json:"totalFunctions"`
	Stats             Stats                    `json:"stats"`
	GeneratedAt       time.Time                `json:"generatedAt"`
}

// Records returns the change records sorted by name.
func (r *Result) Records() []*ChangeRecord {
	out := make([]*ChangeRecord, 0, len(r.Functions))
	for _, rec := range r.Functions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func deriveLinks(records map[string]*ChangeRecord, threshold float64) []DependencyLink {
	links := make([]DependencyLink, 0)
	for name, rec := range records {
		if rec.ChangeCount == 0 {
			continue
		}
		for other, co := range rec.CoChanges {
			confidence := float64(co.Count) / float64(rec.ChangeCount)
			if confidence <= threshold {
				continue
			}
			links = append(links, DependencyLink{
				Source:      name,
				Target:      other,
				ChangeCount: co.Count,
				Confidence:  confidence,
			})
		}
	}
	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.ChangeCount != b.ChangeCount {
			return a.ChangeCount > b.ChangeCount
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
	return links
}

func deriveTimeline(records map[string]*ChangeRecord) []TimelineEntry {
	byHash := make(map[string]*TimelineEntry)
	for name, rec := range records {
		for _, c := range rec.Commits {
			entry, ok := byHash[c.Hash]
			if !ok {
				entry = &TimelineEntry{Timestamp: c.Timestamp, CommitHash: c.Hash, CommitMessage: c.Message}
				byHash[c.Hash] = entry
			}
			entry.Functions = append(entry.Functions, name)
		}
	}

	timeline := make([]TimelineEntry, 0, len(byHash))
	for _, entry := range byHash {
		sort.Strings(entry.Functions)
		timeline = append(timeline, *entry)
	}
	sort.Slice(timeline, func(i, j int) bool {
		a, b := timeline[i], timeline[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.CommitHash < b.CommitHash
	})
	return timeline
}

// hotspotScore is changeCount × (degree+1) × ln(1+elapsed seconds).
func hotspotScore(changeCount, degree int, lastModified, now time.Time) float64 {
	elapsed := now.Sub(lastModified).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return float64(changeCount) * float64(degree+1) * math.Log1p(elapsed)
}

func deriveHotspots(records map[string]*ChangeRecord, now time.Time) []Hotspot {
	hotspots := make([]Hotspot, 0, len(records))
	for name, rec := range records {
		degree := len(rec.CoChanges)
		hotspots = append(hotspots, Hotspot{
			Name:           name,
			ChangeCount:    rec.ChangeCount,
			CoChangeDegree: degree,
			LastModified:   rec.LastModified,
			Score:          hotspotScore(rec.ChangeCount, degree, rec.LastModified, now),
		})
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Score != hotspots[j].Score {
			return hotspots[i].Score > hotspots[j].Score
		}
		return hotspots[i].Name < hotspots[j].Name
	})
	return hotspots
}

func frequentlyChanged(records map[string]*ChangeRecord, top int) []*ChangeRecord {
	out := make([]*ChangeRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChangeCount != b.ChangeCount {
			return a.ChangeCount > b.ChangeCount
		}
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		return a.Name < b.Name
	})
	return truncate(out, top)
}

func impactful(records map[string]*ChangeRecord, graph DependencyGraph, top int) []Impact {
	calledBy := graph.CalledBy()
	out := make([]Impact, 0, len(records))
	for name, rec := range records {
		calls := append([]string{}, graph[name]...)
		callers := append([]string{}, calledBy[name]...)

		co := make([]NamedCoChange, 0, len(rec.CoChanges))
		for other, c := range rec.CoChanges {
			co = append(co, NamedCoChange{Name: other, CoChange: *c})
		}
		sort.Slice(co, func(i, j int) bool {
			if co[i].Count != co[j].Count {
				return co[i].Count > co[j].Count
			}
			return co[i].Name < co[j].Name
		})

		out = append(out, Impact{
			Name:            name,
			ChangeCount:     rec.ChangeCount,
			LastModified:    rec.LastModified,
			Calls:           calls,
			CalledBy:        callers,
			DependencyCount: len(calls) + len(callers),
			CoChanges:       co,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DependencyCount != b.DependencyCount {
			return a.DependencyCount > b.DependencyCount
		}
		if a.ChangeCount != b.ChangeCount {
			return a.ChangeCount > b.ChangeCount
		}
		return a.Name < b.Name
	})
	return truncate(out, top)
}

func truncate[T any](items []T, top int) []T {
	if top > 0 && len(items) > top {
		return items[:top]
	}
	return items
}
