package extract

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const pythonUnknownType = "any"

var pythonExtensions = extensionSet{".py", ".pyi"}

var pythonGrammar = &grammar{
	language:  LanguagePython,
	syntax:    pythonSyntaxLanguage,
	functions: kindSet("function_definition"),
	opaque:    kindSet("lambda"),
	describe:  describePythonFunction,
	callee:    pythonCallee,
}

// PythonExtractor extracts module-level functions and class methods.
// Descriptions come from docstrings rather than comments.
type PythonExtractor struct{}

func (PythonExtractor) Language() string           { return LanguagePython }
func (PythonExtractor) Extensions() []string       { return pythonExtensions.list() }
func (PythonExtractor) CanHandle(path string) bool { return pythonExtensions.matches(path) }

func (PythonExtractor) Extract(path string, content []byte) Result {
	return pythonGrammar.extract(path, content)
}

func describePythonFunction(node *sitter.Node, source []byte) (parsedFunction, bool) {
	name := nodeText(node.ChildByFieldName("name"), source)
	if name == "" {
		return parsedFunction{}, false
	}
	return parsedFunction{
		name:       name,
		params:     pythonParameters(node.ChildByFieldName("parameters"), source),
		returnType: withDefault(nodeText(node.ChildByFieldName("return_type"), source), pythonUnknownType),
		doc:        pythonDocstring(node.ChildByFieldName("body"), source),
		hasDoc:     true,
	}, true
}

func pythonParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		var name, typ string
		switch child.Kind() {
		case "identifier", "list_splat_pattern", "dictionary_splat_pattern":
			name = nodeText(child, source)
		case "typed_parameter":
			if id := firstNamedChildOfKind(child, "identifier", "list_splat_pattern", "dictionary_splat_pattern"); id != nil {
				name = nodeText(id, source)
			}
			typ = nodeText(child.ChildByFieldName("type"), source)
		case "default_parameter", "typed_default_parameter":
			name = nodeText(child.ChildByFieldName("name"), source)
			typ = nodeText(child.ChildByFieldName("type"), source)
		default:
			continue
		}
		if name == "" {
			continue
		}
		params = append(params, function.Parameter{Name: name, Type: withDefault(typ, pythonUnknownType)})
	}
	return params
}

func pythonDocstring(body *sitter.Node, source []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Kind() != "string" {
		return ""
	}
	return cleanPythonString(nodeText(str, source))
}

func cleanPythonString(raw string) string {
	s := strings.TrimLeft(strings.TrimSpace(raw), "rRuUbBfF")
	switch {
	case strings.HasPrefix(s, `"""`), strings.HasPrefix(s, `'''`):
		quote := s[:3]
		s = strings.TrimSuffix(strings.TrimPrefix(s, quote), quote)
	case len(s) >= 2:
		s = s[1 : len(s)-1]
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

func pythonCallee(node *sitter.Node, source []byte) string {
	if node.Kind() != "call" {
		return ""
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Kind() {
	case "identifier":
		return nodeText(fn, source)
	case "attribute":
		return nodeText(fn.ChildByFieldName("attribute"), source)
	}
	return ""
}
