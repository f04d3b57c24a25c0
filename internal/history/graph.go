package history

import (
	"sort"

	"github.com/Someblueman/codexdoc/internal/extract"
)

// DependencyGraph maps a function name to the sorted, unique names it calls.
// Names are matched textually, so two functions sharing a name share a node.
type DependencyGraph map[string][]string

// CalledBy inverts the graph.
func (g DependencyGraph) CalledBy() map[string][]string {
	rev := make(map[string][]string)
	for caller, callees := range g {
		for _, callee := range callees {
			rev[callee] = append(rev[callee], caller)
		}
	}
	for name := range rev {
		sort.Strings(rev[name])
	}
	return rev
}

// Edges returns the number of caller/callee pairs.
func (g DependencyGraph) Edges() int {
	n := 0
	for _, callees := range g {
		n += len(callees)
	}
	return n
}

// snapshot is the function index of the newest commit.
type snapshot struct {
	files map[string][]string // name -> sorted files declaring it
	graph DependencyGraph
}

func (s *snapshot) has(name string) bool {
	_, ok := s.files[name]
	return ok
}

// buildSnapshot indexes declarations per file and links calls to declared names.
func buildSnapshot(decls map[string][]extract.Declaration) *snapshot {
	snap := &snapshot{
		files: make(map[string][]string),
		graph: make(DependencyGraph),
	}
	calls := make(map[string]map[string]struct{})

	paths := make([]string, 0, len(decls))
	for p := range decls {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		for _, d := range decls[path] {
			name := d.Record.Name
			files := snap.files[name]
			if len(files) == 0 || files[len(files)-1] != path {
				snap.files[name] = append(files, path)
			}
			set, ok := calls[name]
			if !ok {
				set = make(map[string]struct{})
				calls[name] = set
			}
			for _, callee := range d.Calls {
				set[callee] = struct{}{}
			}
		}
	}

	for name, set := range calls {
		edges := make([]string, 0, len(set))
		for callee := range set {
			if callee == name || !snap.has(callee) {
				continue
			}
			edges = append(edges, callee)
		}
		sort.Strings(edges)
		snap.graph[name] = edges
	}
	return snap
}
