package extract

import (
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"strings"

	"github.com/Someblueman/codexdoc/internal/function"
)

var goExtensions = extensionSet{".go"}

// GoExtractor extracts top-level functions and methods using go/parser.
// Methods are recorded under their bare name.
type GoExtractor struct{}

func (GoExtractor) Language() string           { return LanguageGo }
func (GoExtractor) Extensions() []string       { return goExtensions.list() }
func (GoExtractor) CanHandle(path string) bool { return goExtensions.matches(path) }

func (GoExtractor) Extract(path string, content []byte) Result {
	res := Result{Path: path, Language: LanguageGo}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments|parser.AllErrors)
	if err != nil {
		if list, ok := err.(scanner.ErrorList); ok {
			for _, e := range list {
				res.Errors = append(res.Errors, e.Error())
			}
		} else {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	if file == nil {
		return res
	}

	tokFile := fset.File(file.Pos())
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Name == nil || fd.Name.Name == "_" {
			continue
		}
		start := tokFile.Offset(fd.Pos())
		end := tokFile.Offset(fd.End())
		if start < 0 || end > len(content) || start > end {
			continue
		}

		res.Declarations = append(res.Declarations, Declaration{
			Record: function.Record{
				Name:        fd.Name.Name,
				SourceText:  string(content[start:end]),
				Language:    LanguageGo,
				FilePath:    path,
				Description: goDoc(fd.Doc),
				Parameters:  goParameters(fd.Type.Params),
				ReturnType:  goResults(fd.Type.Results),
			},
			StartLine: fset.Position(fd.Pos()).Line,
			EndLine:   fset.Position(fd.End()).Line,
			Calls:     goCalls(fd.Body),
		})
	}
	return res
}

func goDoc(group *ast.CommentGroup) string {
	if group == nil {
		return ""
	}
	return strings.Join(strings.Fields(group.Text()), " ")
}

func goParameters(fields *ast.FieldList) []function.Parameter {
	params := make([]function.Parameter, 0)
	if fields == nil {
		return params
	}
	for _, field := range fields.List {
		typ := types.ExprString(field.Type)
		if len(field.Names) == 0 {
			params = append(params, function.Parameter{Name: "_", Type: typ})
			continue
		}
		for _, name := range field.Names {
			params = append(params, function.Parameter{Name: name.Name, Type: typ})
		}
	}
	return params
}

func goResults(fields *ast.FieldList) string {
	if fields == nil || len(fields.List) == 0 {
		return ""
	}
	if len(fields.List) == 1 && len(fields.List[0].Names) == 0 {
		return types.ExprString(fields.List[0].Type)
	}
	parts := make([]string, 0, len(fields.List))
	for _, field := range fields.List {
		typ := types.ExprString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typ)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typ)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func goCalls(body *ast.BlockStmt) []string {
	if body == nil {
		return nil
	}
	var set callSet
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			set.add(fn.Name)
		case *ast.SelectorExpr:
			set.add(fn.Sel.Name)
		}
		return true
	})
	return set.names
}
