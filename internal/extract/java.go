package extract

import (
	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const (
	javaUnknownType   = "Object"
	javaUnknownReturn = "void"
)

var javaExtensions = extensionSet{".java"}

var javaGrammar = &grammar{
	language:  LanguageJava,
	syntax:    javaSyntaxLanguage,
	functions: kindSet("method_declaration", "constructor_declaration"),
	opaque:    kindSet("lambda_expression"),
	comments:  kindSet("block_comment", "line_comment", "comment"),
	isDoc:     isBlockDoc,
	describe:  describeJavaMethod,
	callee:    javaCallee,
}

// JavaExtractor extracts methods and constructors with their Javadoc.
type JavaExtractor struct{}

func (JavaExtractor) Language() string           { return LanguageJava }
func (JavaExtractor) Extensions() []string       { return javaExtensions.list() }
func (JavaExtractor) CanHandle(path string) bool { return javaExtensions.matches(path) }

func (JavaExtractor) Extract(path string, content []byte) Result {
	return javaGrammar.extract(path, content)
}

func describeJavaMethod(node *sitter.Node, source []byte) (parsedFunction, bool) {
	name := nodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return parsedFunction{}, false
	}
	return parsedFunction{
		name:       name,
		params:     javaParameters(node.ChildByFieldName("parameters"), source),
		returnType: withDefault(nodeText(node.ChildByFieldName("type"), source), javaUnknownReturn),
	}, true
}

func javaParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		switch child.Kind() {
		case "formal_parameter":
			name := nodeText(child.ChildByFieldName("name"), source)
			if name == "" {
				continue
			}
			params = append(params, function.Parameter{
				Name: name,
				Type: withDefault(nodeText(child.ChildByFieldName("type"), source), javaUnknownType),
			})
		case "spread_parameter":
			var name, typ string
			for _, part := range namedChildren(child) {
				switch part.Kind() {
				case "modifiers":
				case "variable_declarator":
					name = nodeText(part.ChildByFieldName("name"), source)
				default:
					if typ == "" {
						typ = nodeText(part, source)
					}
				}
			}
			if name == "" {
				continue
			}
			params = append(params, function.Parameter{Name: name, Type: withDefault(typ, javaUnknownType) + "..."})
		}
	}
	return params
}

func javaCallee(node *sitter.Node, source []byte) string {
	if node.Kind() != "method_invocation" {
		return ""
	}
	return nodeText(node.ChildByFieldName("name"), source)
}
