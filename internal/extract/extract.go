// Package extract turns source files into function records.
//
// Each supported language is a LanguageExtractor. A Registry holds them in
// order and dispatches a path to the first extractor that can handle it.
package extract

import (
	"errors"

	"github.com/Someblueman/codexdoc/internal/function"
)

// ErrUnsupported is returned when no extractor handles a path.
var ErrUnsupported = errors.New("no extractor for path")

// LanguageExtractor parses one language's files into declarations.
//
// Extract must not panic on malformed input. Syntax problems are reported in
// Result.Errors alongside whatever declarations could still be recovered.
type LanguageExtractor interface {
	Language() string
	Extensions() []string
	CanHandle(path string) bool
	Extract(path string, content []byte) Result
}

// Declaration is one extracted function with its position and call sites.
type Declaration struct {
	Record    function.Record `json:"record"`
	StartLine int             `json:"startLine"` // 1-based, inclusive
	EndLine   int             `json:"endLine"`
	Calls     []string        `json:"calls,omitempty"` // callee names, unique, in source order
}

// Result is the outcome of extracting one file.
type Result struct {
	Path         string        `json:"path"`
	Language     string        `json:"language"`
	Declarations []Declaration `json:"declarations"`
	Errors       []string      `json:"errors,omitempty"`
}

// Records returns the function records in declaration order.
func (r Result) Records() []function.Record {
	out := make([]function.Record, 0, len(r.Declarations))
	for _, d := range r.Declarations {
		out = append(out, d.Record)
	}
	return out
}

// Names returns the declared function names in declaration order, without duplicates.
func (r Result) Names() []string {
	seen := make(map[string]struct{}, len(r.Declarations))
	out := make([]string, 0, len(r.Declarations))
	for _, d := range r.Declarations {
		if _, ok := seen[d.Record.Name]; ok {
			continue
		}
		seen[d.Record.Name] = struct{}{}
		out = append(out, d.Record.Name)
	}
	return out
}

// callSet collects unique callee names preserving first-seen order.
type callSet struct {
	seen  map[string]struct{}
	names []string
}

func (c *callSet) add(name string) {
	if name == "" {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.names = append(c.names, name)
}
