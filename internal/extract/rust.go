package extract

import (
	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const (
	rustUnknownType   = "_"
	rustUnknownReturn = "()"
)

var rustExtensions = extensionSet{".rs"}

var rustGrammar = &grammar{
	language:  LanguageRust,
	syntax:    rustSyntaxLanguage,
	functions: kindSet("function_item"),
	opaque:    kindSet("closure_expression"),
	comments:  kindSet("line_comment", "block_comment"),
	skip:      kindSet("attribute_item"),
	isDoc:     isRustDoc,
	describe:  describeRustFunction,
	callee:    rustCallee,
}

// RustExtractor extracts free functions and impl/trait methods with bodies.
type RustExtractor struct{}

func (RustExtractor) Language() string           { return LanguageRust }
func (RustExtractor) Extensions() []string       { return rustExtensions.list() }
func (RustExtractor) CanHandle(path string) bool { return rustExtensions.matches(path) }

func (RustExtractor) Extract(path string, content []byte) Result {
	return rustGrammar.extract(path, content)
}

func describeRustFunction(node *sitter.Node, source []byte) (parsedFunction, bool) {
	name := nodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return parsedFunction{}, false
	}
	return parsedFunction{
		name:       name,
		params:     rustParameters(node.ChildByFieldName("parameters"), source),
		returnType: withDefault(nodeText(node.ChildByFieldName("return_type"), source), rustUnknownReturn),
	}, true
}

func rustParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		switch child.Kind() {
		case "self_parameter":
			params = append(params, function.Parameter{Name: "self", Type: nodeText(child, source)})
		case "parameter":
			name := nodeText(child.ChildByFieldName("pattern"), source)
			if name == "" {
				continue
			}
			params = append(params, function.Parameter{
				Name: name,
				Type: withDefault(nodeText(child.ChildByFieldName("type"), source), rustUnknownType),
			})
		}
	}
	return params
}

func rustCallee(node *sitter.Node, source []byte) string {
	if node.Kind() != "call_expression" {
		return ""
	}
	return rustCalleeName(node.ChildByFieldName("function"), source)
}

func rustCalleeName(fn *sitter.Node, source []byte) string {
	if fn == nil {
		return ""
	}
	switch fn.Kind() {
	case "identifier":
		return nodeText(fn, source)
	case "field_expression":
		return nodeText(fn.ChildByFieldName("field"), source)
	case "scoped_identifier":
		return nodeText(fn.ChildByFieldName("name"), source)
	case "generic_function":
		return rustCalleeName(fn.ChildByFieldName("function"), source)
	}
	return ""
}
