package extract

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const phpUnknownType = "mixed"

var phpExtensions = extensionSet{".php"}

var phpGrammar = &grammar{
	language:  LanguagePHP,
	syntax:    phpSyntaxLanguage,
	functions: kindSet("function_definition", "method_declaration"),
	opaque:    kindSet("anonymous_function", "anonymous_function_creation_expression", "arrow_function"),
	comments:  kindSet("comment"),
	isDoc:     isBlockDoc,
	describe:  describePHPFunction,
	callee:    phpCallee,
}

// PHPExtractor extracts functions and class methods with their PHPDoc.
type PHPExtractor struct{}

func (PHPExtractor) Language() string           { return LanguagePHP }
func (PHPExtractor) Extensions() []string       { return phpExtensions.list() }
func (PHPExtractor) CanHandle(path string) bool { return phpExtensions.matches(path) }

func (PHPExtractor) Extract(path string, content []byte) Result {
	return phpGrammar.extract(path, content)
}

func describePHPFunction(node *sitter.Node, source []byte) (parsedFunction, bool) {
	name := nodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return parsedFunction{}, false
	}
	return parsedFunction{
		name:       name,
		params:     phpParameters(node.ChildByFieldName("parameters"), source),
		returnType: withDefault(nodeText(node.ChildByFieldName("return_type"), source), phpUnknownType),
	}, true
}

func phpParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		switch child.Kind() {
		case "simple_parameter", "variadic_parameter", "property_promotion_parameter":
		default:
			continue
		}
		name := strings.TrimPrefix(nodeText(child.ChildByFieldName("name"), source), "$")
		if name == "" {
			continue
		}
		params = append(params, function.Parameter{
			Name: name,
			Type: withDefault(nodeText(child.ChildByFieldName("type"), source), phpUnknownType),
		})
	}
	return params
}

func phpCallee(node *sitter.Node, source []byte) string {
	switch node.Kind() {
	case "function_call_expression":
		name := nodeText(node.ChildByFieldName("function"), source)
		if i := strings.LastIndexByte(name, '\\'); i >= 0 {
			name = name[i+1:]
		}
		if strings.ContainsAny(name, "$( ") {
			return ""
		}
		return name
	case "member_call_expression", "nullsafe_member_call_expression", "scoped_call_expression":
		return nodeText(node.ChildByFieldName("name"), source)
	}
	return ""
}
