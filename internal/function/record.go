// Package function holds the normalized function record produced by every
// language extractor, plus the value-keyed set used to deduplicate them.
package function

import (
	"sort"
	"strings"
)

// Parameter is one declared parameter of a function.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Record represents one named function or method found in source.
type Record struct {
	Name        string      `json:"name"`
	SourceText  string      `json:"sourceText"`
	Language    string      `json:"language"`
	FilePath    string      `json:"filePath"` // repo-relative, forward slashes
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters"`
	ReturnType  string      `json:"returnType,omitempty"`
}

// Equal reports structural equality over every field, description included.
func (r Record) Equal(other Record) bool {
	if r.Name != other.Name ||
		r.SourceText != other.SourceText ||
		r.Language != other.Language ||
		r.FilePath != other.FilePath ||
		r.Description != other.Description ||
		r.ReturnType != other.ReturnType ||
		len(r.Parameters) != len(other.Parameters) {
		return false
	}
	for i := range r.Parameters {
		if r.Parameters[i] != other.Parameters[i] {
			return false
		}
	}
	return true
}

// key encodes every field so that equal records map to equal keys.
func (r Record) key() string {
	var b strings.Builder
	b.Grow(len(r.Name) + len(r.SourceText) + len(r.FilePath) + 64)
	field := func(s string) {
		b.WriteString(s)
		b.WriteByte(0)
	}
	field(r.Name)
	field(r.SourceText)
	field(r.Language)
	field(r.FilePath)
	field(r.Description)
	field(r.ReturnType)
	for _, p := range r.Parameters {
		b.WriteByte(1)
		field(p.Name)
		field(p.Type)
		field(p.Description)
	}
	return b.String()
}

// Set accumulates records, collapsing structurally identical ones.
// It is not safe for concurrent use; callers merge from a single goroutine.
type Set struct {
	seen    map[string]struct{}
	records []Record
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add inserts rec unless an equal record is already present and reports
// whether it was inserted.
func (s *Set) Add(rec Record) bool {
	k := rec.key()
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	s.records = append(s.records, rec)
	return true
}

// Len returns the number of distinct records.
func (s *Set) Len() int { return len(s.records) }

// Sorted returns the distinct records ordered for reproducible output.
func (s *Set) Sorted() []Record {
	out := append([]Record(nil), s.records...)
	Sort(out)
	return out
}

// Sort orders records by name, then file path, then source text.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.SourceText != b.SourceText {
			return a.SourceText < b.SourceText
		}
		return a.key() < b.key()
	})
}

// Names returns the sorted unique names in records.
func Names(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	names := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Name]; ok {
			continue
		}
		seen[rec.Name] = struct{}{}
		names = append(names, rec.Name)
	}
	sort.Strings(names)
	return names
}
