package extract

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/Someblueman/codexdoc/internal/function"
)

const cppUnknownType = "void"

var cppExtensions = extensionSet{".c", ".h", ".cc", ".cpp", ".cxx", ".hpp", ".hh", ".hxx"}

var cppGrammar = &grammar{
	language:  LanguageCpp,
	syntax:    cppSyntaxLanguage,
	functions: kindSet("function_definition"),
	opaque:    kindSet("lambda_expression"),
	wrappers:  kindSet("template_declaration"),
	comments:  kindSet("comment"),
	isDoc:     isCFamilyDoc,
	describe:  describeCppFunction,
	callee:    cppCallee,
}

// CppExtractor extracts function definitions from C and C++ sources,
// including class members and out-of-line method definitions.
type CppExtractor struct{}

func (CppExtractor) Language() string           { return LanguageCpp }
func (CppExtractor) Extensions() []string       { return cppExtensions.list() }
func (CppExtractor) CanHandle(path string) bool { return cppExtensions.matches(path) }

func (CppExtractor) Extract(path string, content []byte) Result {
	return cppGrammar.extract(path, content)
}

func describeCppFunction(node *sitter.Node, source []byte) (parsedFunction, bool) {
	fn, suffix := unwrapCppFunctionDeclarator(node.ChildByFieldName("declarator"))
	if fn == nil {
		return parsedFunction{}, false
	}
	name := cppDeclaratorName(fn.ChildByFieldName("declarator"), source)
	if name == "" {
		return parsedFunction{}, false
	}

	returnType := cppUnknownType
	if typ := strings.TrimSpace(nodeText(node.ChildByFieldName("type"), source)); typ != "" {
		returnType = typ + suffix
	}

	return parsedFunction{
		name:       name,
		params:     cppParameters(fn.ChildByFieldName("parameters"), source),
		returnType: returnType,
	}, true
}

// unwrapCppFunctionDeclarator descends pointer and reference declarators to
// the function declarator, returning the pointer/reference suffix of the return type.
func unwrapCppFunctionDeclarator(n *sitter.Node) (*sitter.Node, string) {
	suffix := ""
	for n != nil {
		switch n.Kind() {
		case "function_declarator":
			return n, suffix
		case "pointer_declarator":
			suffix += "*"
			n = n.ChildByFieldName("declarator")
		case "reference_declarator":
			suffix += referenceMarker(n)
			n = lastNamedChild(n)
		case "parenthesized_declarator":
			n = lastNamedChild(n)
		default:
			return nil, ""
		}
	}
	return nil, ""
}

func referenceMarker(n *sitter.Node) string {
	if n.ChildCount() > 0 && n.Child(0).Kind() == "&&" {
		return "&&"
	}
	return "&"
}

func cppDeclaratorName(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier", "field_identifier", "destructor_name", "operator_name", "type_identifier":
		return nodeText(n, source)
	case "qualified_identifier", "template_function", "template_method":
		return cppDeclaratorName(n.ChildByFieldName("name"), source)
	case "pointer_declarator", "array_declarator", "function_declarator":
		return cppDeclaratorName(n.ChildByFieldName("declarator"), source)
	case "reference_declarator", "parenthesized_declarator":
		return cppDeclaratorName(lastNamedChild(n), source)
	default:
		return ""
	}
}

func cppParameters(list *sitter.Node, source []byte) []function.Parameter {
	params := make([]function.Parameter, 0)
	for _, child := range namedChildren(list) {
		switch child.Kind() {
		case "parameter_declaration", "optional_parameter_declaration", "variadic_parameter_declaration":
		default:
			continue
		}
		name, suffix := cppParameterName(child.ChildByFieldName("declarator"), source)
		if name == "" {
			continue
		}
		typ := strings.TrimSpace(nodeText(child.ChildByFieldName("type"), source))
		if typ == "" {
			typ = cppUnknownType
		} else {
			if q := firstNamedChildOfKind(child, "type_qualifier"); q != nil {
				typ = nodeText(q, source) + " " + typ
			}
			typ += suffix
		}
		if child.Kind() == "variadic_parameter_declaration" {
			typ += "..."
		}
		params = append(params, function.Parameter{Name: name, Type: typ})
	}
	return params
}

func cppParameterName(n *sitter.Node, source []byte) (string, string) {
	suffix := ""
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return nodeText(n, source), suffix
		case "pointer_declarator":
			suffix += "*"
			n = n.ChildByFieldName("declarator")
		case "reference_declarator":
			suffix += referenceMarker(n)
			n = lastNamedChild(n)
		case "array_declarator":
			suffix += "[]"
			n = n.ChildByFieldName("declarator")
		case "variadic_declarator":
			n = lastNamedChild(n)
		default:
			return "", ""
		}
	}
	return "", ""
}

func cppCallee(node *sitter.Node, source []byte) string {
	if node.Kind() != "call_expression" {
		return ""
	}
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Kind() {
	case "field_expression":
		return nodeText(fn.ChildByFieldName("field"), source)
	default:
		return cppDeclaratorName(fn, source)
	}
}
