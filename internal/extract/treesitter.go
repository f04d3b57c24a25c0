package extract

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/Someblueman/codexdoc/internal/function"
)

var (
	cppSyntaxLanguage        = sitter.NewLanguage(tree_sitter_cpp.Language())
	javaSyntaxLanguage       = sitter.NewLanguage(tree_sitter_java.Language())
	javaScriptSyntaxLanguage = sitter.NewLanguage(tree_sitter_javascript.Language())
	phpSyntaxLanguage        = sitter.NewLanguage(tree_sitter_php.LanguagePHP())
	pythonSyntaxLanguage     = sitter.NewLanguage(tree_sitter_python.Language())
	rustSyntaxLanguage       = sitter.NewLanguage(tree_sitter_rust.Language())
	typeScriptSyntaxLanguage = sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	typeScriptTSXLanguage    = sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
)

// Parsers are not safe for concurrent use, so every Extract call builds its own.
func newParserForLanguage(language *sitter.Language) (*sitter.Parser, error) {
	parser := sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		parser.Close()
		return nil, err
	}
	return parser, nil
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return node.Utf8Text(source)
}

// walkTreePreOrder visits nodes in source order. Children of a node are
// skipped when visit returns false.
func walkTreePreOrder(root *sitter.Node, visit func(*sitter.Node) bool) {
	if root == nil || visit == nil {
		return
	}

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(node) {
			continue
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			child := node.Child(uint(i))
			if child != nil {
				stack = append(stack, child)
			}
		}
	}
}

func namedChildren(node *sitter.Node) []*sitter.Node {
	if node == nil {
		return nil
	}
	count := node.NamedChildCount()
	out := make([]*sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		if child := node.NamedChild(i); child != nil {
			out = append(out, child)
		}
	}
	return out
}

func lastNamedChild(node *sitter.Node) *sitter.Node {
	if node == nil || node.NamedChildCount() == 0 {
		return nil
	}
	return node.NamedChild(node.NamedChildCount() - 1)
}

func firstNamedChildOfKind(node *sitter.Node, kinds ...string) *sitter.Node {
	for _, child := range namedChildren(node) {
		for _, kind := range kinds {
			if child.Kind() == kind {
				return child
			}
		}
	}
	return nil
}

// annotationText strips the ":" or "->" that prefixes a type annotation node.
func annotationText(node *sitter.Node, source []byte) string {
	text := strings.TrimSpace(nodeText(node, source))
	text = strings.TrimPrefix(text, "->")
	text = strings.TrimPrefix(text, ":")
	return strings.TrimSpace(text)
}

func lineSpan(node *sitter.Node) (int, int) {
	return int(node.StartPosition().Row) + 1, int(node.EndPosition().Row) + 1
}

func syntaxErrorMessage(root *sitter.Node) string {
	var found *sitter.Node
	walkTreePreOrder(root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.IsError() || n.IsMissing() {
			found = n
			return false
		}
		return n.HasError()
	})
	if found == nil {
		return "syntax error"
	}
	pos := found.StartPosition()
	return fmt.Sprintf("syntax error at line %d column %d", pos.Row+1, pos.Column+1)
}

// leadingComments returns the texts of the comment nodes directly above node,
// nearest last. Only comments on adjacent lines count, and kinds in skip may
// sit between the comments and the node.
func leadingComments(node *sitter.Node, source []byte, comments, skip map[string]bool) []string {
	if node == nil || len(comments) == 0 {
		return nil
	}
	var run []string
	below := node
	for prev := node.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if prev.EndPosition().Row+1 < below.StartPosition().Row {
			break
		}
		kind := prev.Kind()
		if skip[kind] {
			below = prev
			continue
		}
		if !comments[kind] {
			break
		}
		run = append(run, nodeText(prev, source))
		below = prev
	}
	for i, j := 0, len(run)-1; i < j; i, j = i+1, j-1 {
		run[i], run[j] = run[j], run[i]
	}
	return run
}

// parsedFunction is what a grammar describes about one declaration node.
type parsedFunction struct {
	name       string
	params     []function.Parameter
	returnType string
	doc        string
	hasDoc     bool
}

// grammar describes how a tree-sitter language exposes named functions.
type grammar struct {
	language  string
	syntax    *sitter.Language
	functions map[string]bool
	// opaque kinds are never searched for declarations (lambdas, closures).
	opaque map[string]bool
	// wrappers enclose a declaration and carry its doc comment (decorators, templates).
	wrappers map[string]bool
	comments map[string]bool
	// skip kinds may sit between a doc comment and the declaration.
	skip     map[string]bool
	isDoc    func(comment string) bool
	describe func(node *sitter.Node, source []byte) (parsedFunction, bool)
	callee   func(node *sitter.Node, source []byte) string
}

func kindSet(kinds ...string) map[string]bool {
	out := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}

func (g *grammar) extract(path string, content []byte) Result {
	res := Result{Path: path, Language: g.language}

	parser, err := newParserForLanguage(g.syntax)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("init %s parser: %v", g.language, err))
		return res
	}
	defer parser.Close()

	tree := parser.Parse(content, nil)
	if tree == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("parse %s: no tree", path))
		return res
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		res.Errors = append(res.Errors, syntaxErrorMessage(root))
	}

	walkTreePreOrder(root, func(node *sitter.Node) bool {
		kind := node.Kind()
		if g.opaque[kind] {
			return false
		}
		if !g.functions[kind] {
			return true
		}
		if parsed, ok := g.describe(node, content); ok && parsed.name != "" {
			res.Declarations = append(res.Declarations, g.declaration(node, parsed, path, content))
		}
		return false
	})
	return res
}

func (g *grammar) declaration(node *sitter.Node, parsed parsedFunction, path string, content []byte) Declaration {
	description := parsed.doc
	if !parsed.hasDoc {
		var paramDocs map[string]string
		description, paramDocs = g.docComment(g.anchor(node), content)
		applyParamDocs(parsed.params, paramDocs)
	}
	if parsed.params == nil {
		parsed.params = []function.Parameter{}
	}

	start, end := lineSpan(node)
	return Declaration{
		Record: function.Record{
			Name:        parsed.name,
			SourceText:  nodeText(node, content),
			Language:    g.language,
			FilePath:    path,
			Description: description,
			Parameters:  parsed.params,
			ReturnType:  parsed.returnType,
		},
		StartLine: start,
		EndLine:   end,
		Calls:     g.calls(node, content),
	}
}

func (g *grammar) anchor(node *sitter.Node) *sitter.Node {
	for parent := node.Parent(); parent != nil && g.wrappers[parent.Kind()]; parent = parent.Parent() {
		node = parent
	}
	return node
}

func (g *grammar) docComment(anchor *sitter.Node, content []byte) (string, map[string]string) {
	run := leadingComments(anchor, content, g.comments, g.skip)
	// Keep the nearest run of comments that all follow the doc convention.
	start := len(run)
	for start > 0 && g.isDoc(run[start-1]) {
		start--
	}
	if start == len(run) {
		return "", nil
	}
	return cleanDocComment(run[start:])
}

func (g *grammar) calls(node *sitter.Node, content []byte) []string {
	if g.callee == nil {
		return nil
	}
	var set callSet
	walkTreePreOrder(node, func(n *sitter.Node) bool {
		set.add(g.callee(n, content))
		return true
	})
	return set.names
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
