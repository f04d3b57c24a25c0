package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const scriptUnknownType = "any"

var (
	typeScriptExtensions = extensionSet{".ts", ".tsx", ".mts", ".cts"}
	javaScriptExtensions = extensionSet{".js", ".jsx", ".mjs", ".cjs"}
)

// ScriptExtractor handles TypeScript and JavaScript with their own grammars.
//
// Only statement-level declarations are considered: function declarations
// (exported or not) and methods of top-level classes. Function expressions,
// arrow functions and anything nested inside a function body are ignored.
type ScriptExtractor struct{}

func (ScriptExtractor) Language() string    { return LanguageTypeScript }
func (ScriptExtractor) Languages() []string { return []string{LanguageJavaScript, LanguageTypeScript} }

func (ScriptExtractor) Extensions() []string {
	return append(typeScriptExtensions.list(), javaScriptExtensions.list()...)
}

func (ScriptExtractor) CanHandle(path string) bool {
	return typeScriptExtensions.matches(path) || javaScriptExtensions.matches(path)
}

func (ScriptExtractor) Extract(path string, content []byte) Result {
	language, syntax := scriptSyntax(path)
	res := Result{Path: path, Language: language}

	parser, err := newParserForLanguage(syntax)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("init %s parser: %v", language, err))
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

	w := scriptWalker{path: path, language: language, source: content}
	for _, stmt := range namedChildren(root) {
		w.statement(stmt, stmt)
	}
	res.Declarations = w.decls
	return res
}

func scriptSyntax(path string) (string, *sitter.Language) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx":
		return LanguageTypeScript, typeScriptTSXLanguage
	case ".ts", ".mts", ".cts":
		return LanguageTypeScript, typeScriptSyntaxLanguage
	default:
		return LanguageJavaScript, javaScriptSyntaxLanguage
	}
}

type scriptWalker struct {
	path     string
	language string
	source   []byte
	decls    []Declaration
}

// statement visits a top-level statement. outer is the node that carries the
// JSDoc and the verbatim span (the export statement for exported declarations).
func (w *scriptWalker) statement(node, outer *sitter.Node) {
	switch node.Kind() {
	case "function_declaration", "generator_function_declaration":
		w.function(node, outer)
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			w.statement(decl, node)
		}
	case "class_declaration", "abstract_class_declaration", "class":
		for _, member := range namedChildren(node.ChildByFieldName("body")) {
			if member.Kind() == "method_definition" {
				w.function(member, member)
			}
		}
	}
}

func (w *scriptWalker) function(node, outer *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil || nameNode.Kind() == "computed_property_name" {
		return
	}
	name := nodeText(nameNode, w.source)
	if name == "" {
		return
	}

	params := scriptParameters(node.ChildByFieldName("parameters"), w.source)
	description, paramDocs := w.jsDoc(outer)
	applyParamDocs(params, paramDocs)

	start, end := lineSpan(outer)
	w.decls = append(w.decls, Declaration{
		Record: function.Record{
			Name:        name,
			SourceText:  nodeText(outer, w.source),
			Language:    w.language,
			FilePath:    w.path,
			Description: description,
			Parameters:  params,
			ReturnType:  withDefault(annotationText(node.ChildByFieldName("return_type"), w.source), scriptUnknownType),
		},
		StartLine: start,
		EndLine:   end,
		Calls:     scriptCalls(node.ChildByFieldName("body"), w.source),
	})
}

// jsDoc returns the /** */ block directly above node, if any.
func (w *scriptWalker) jsDoc(node *sitter.Node) (string, map[string]string) {
	prev := node.PrevNamedSibling()
	if prev == nil || prev.Kind() != "comment" {
		return "", nil
	}
	if prev.EndPosition().Row+1 < node.StartPosition().Row {
		return "", nil
	}
	text := nodeText(prev, w.source)
	if !isBlockDoc(text) {
		return "", nil
	}
	return cleanDocComment([]string{text})
}

func scriptParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		var name, typ string
		switch child.Kind() {
		case "required_parameter", "optional_parameter":
			pattern := child.ChildByFieldName("pattern")
			if pattern != nil && pattern.Kind() == "this" {
				continue
			}
			name = nodeText(pattern, source)
			typ = annotationText(child.ChildByFieldName("type"), source)
		case "identifier", "rest_pattern", "object_pattern", "array_pattern":
			name = nodeText(child, source)
		case "assignment_pattern":
			name = nodeText(child.ChildByFieldName("left"), source)
		default:
			continue
		}
		if name == "" {
			continue
		}
		params = append(params, function.Parameter{Name: name, Type: withDefault(typ, scriptUnknownType)})
	}
	return params
}

func scriptCalls(body *sitter.Node, source []byte) []string {
	var set callSet
	walkTreePreOrder(body, func(n *sitter.Node) bool {
		if n.Kind() != "call_expression" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return true
		}
		switch fn.Kind() {
		case "identifier":
			set.add(nodeText(fn, source))
		case "member_expression":
			set.add(nodeText(fn.ChildByFieldName("property"), source))
		}
		return true
	})
	return set.names
}
