package extract

import (
	"fmt"
	"sort"
)

// Registry holds extractors in priority order.
// Register is for construction only; Resolve and Extract are safe for concurrent use afterwards.
type Registry struct {
	extractors []LanguageExtractor
}

// NewRegistry constructs a registry from extractors in the given order.
func NewRegistry(extractors ...LanguageExtractor) *Registry {
	r := &Registry{}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Register appends an extractor. Earlier registrations win on overlap.
func (r *Registry) Register(e LanguageExtractor) {
	if r == nil || e == nil {
		return
	}
	r.extractors = append(r.extractors, e)
}

// DefaultRegistry returns every built-in extractor.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ScriptExtractor{},
		PythonExtractor{},
		JavaExtractor{},
		PHPExtractor{},
		CppExtractor{},
		RustExtractor{},
		GoExtractor{},
		ShellExtractor{},
	)
}

// Only returns a registry restricted to the given languages, keeping order.
// Aliases are accepted. Unknown languages are an error.
func (r *Registry) Only(languages []string) (*Registry, error) {
	if len(languages) == 0 {
		return r, nil
	}
	wanted := make(map[string]struct{}, len(languages))
	for _, raw := range languages {
		id := CanonicalLanguage(raw)
		if !r.hasLanguage(id) {
			return nil, fmt.Errorf("unsupported language: %s", raw)
		}
		wanted[id] = struct{}{}
	}
	out := &Registry{}
	for _, e := range r.extractors {
		for _, id := range languagesOf(e) {
			if _, ok := wanted[id]; ok {
				out.Register(e)
				break
			}
		}
	}
	return out, nil
}

// Resolve returns the first extractor whose CanHandle accepts path.
func (r *Registry) Resolve(path string) (LanguageExtractor, bool) {
	if r == nil {
		return nil, false
	}
	for _, e := range r.extractors {
		if e.CanHandle(path) {
			return e, true
		}
	}
	return nil, false
}

// Extract dispatches path to its extractor. A panicking extractor is
// converted into a per-file error.
func (r *Registry) Extract(path string, content []byte) (res Result, err error) {
	e, ok := r.Resolve(path)
	if !ok {
		return Result{Path: path}, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	defer func() {
		if p := recover(); p != nil {
			res = Result{
				Path:     path,
				Language: e.Language(),
				Errors:   []string{fmt.Sprintf("extractor panic: %v", p)},
			}
		}
	}()
	res = e.Extract(path, content)
	res.Path = path
	if res.Language == "" {
		res.Language = e.Language()
	}
	return res, nil
}

// Extensions returns the sorted union of supported extensions.
func (r *Registry) Extensions() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, 16)
	for _, e := range r.extractors {
		for _, ext := range e.Extensions() {
			if _, ok := seen[ext]; ok {
				continue
			}
			seen[ext] = struct{}{}
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// Languages returns the sorted union of language IDs.
func (r *Registry) Languages() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0, len(r.extractors))
	for _, e := range r.extractors {
		for _, id := range languagesOf(e) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) hasLanguage(id string) bool {
	for _, e := range r.extractors {
		for _, candidate := range languagesOf(e) {
			if candidate == id {
				return true
			}
		}
	}
	return false
}

// multiLanguage is implemented by extractors that report more than one language ID.
type multiLanguage interface {
	Languages() []string
}

func languagesOf(e LanguageExtractor) []string {
	if m, ok := e.(multiLanguage); ok {
		return m.Languages()
	}
	return []string{e.Language()}
}
