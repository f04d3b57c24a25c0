package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Someblueman/codexdoc/internal/function"
)

const (
	shellParamType  = "string"
	shellReturnType = "int"
)

var shellExtensions = extensionSet{".sh", ".bash"}

var (
	shellFuncPattern       = regexp.MustCompile(`^(?:function\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(\))?\s*\{`)
	shellIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_:-]*$`)
	shellLocalArgPattern   = regexp.MustCompile(`^local\s+([A-Za-z_][A-Za-z0-9_]*)=["']?\$\{?([1-9])`)
	shellCommandSplit      = regexp.MustCompile(`;|&&|\|\||\||\$\(|\x60`)
)

var shellKeywords = map[string]bool{
	"if": true, "then": true, "else": true, "elif": true, "fi": true,
	"for": true, "while": true, "until": true, "do": true, "done": true,
	"case": true, "esac": true, "in": true, "function": true, "select": true,
	"local": true, "return": true, "export": true, "readonly": true, "declare": true,
	"{": true, "}": true, "[[": true, "[": true, "!": true,
}

// ShellExtractor finds column-zero function definitions in shell scripts.
// Positional arguments bound with `local name="$1"` become parameters.
type ShellExtractor struct{}

func (ShellExtractor) Language() string           { return LanguageShell }
func (ShellExtractor) Extensions() []string       { return shellExtensions.list() }
func (ShellExtractor) CanHandle(path string) bool { return shellExtensions.matches(path) }

func (ShellExtractor) Extract(path string, content []byte) Result {
	res := Result{Path: path, Language: LanguageShell}
	lines := strings.Split(string(content), "\n")

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
			continue
		}
		match := shellFuncPattern.FindStringSubmatch(strings.TrimSpace(line))
		if len(match) != 2 {
			continue
		}

		end, closed := shellFunctionEnd(lines, i)
		if !closed {
			res.Errors = append(res.Errors, fmt.Sprintf("unterminated function %s at line %d", match[1], i+1))
		}
		body := lines[i : end+1]

		res.Declarations = append(res.Declarations, Declaration{
			Record: function.Record{
				Name:        match[1],
				SourceText:  strings.Join(body, "\n"),
				Language:    LanguageShell,
				FilePath:    path,
				Description: shellDoc(lines, i),
				Parameters:  shellParameters(body),
				ReturnType:  shellReturnType,
			},
			StartLine: i + 1,
			EndLine:   end + 1,
			Calls:     shellCalls(body[1:]),
		})
		i = end
	}
	return res
}

// shellFunctionEnd returns the index of the line closing the function opened at start.
func shellFunctionEnd(lines []string, start int) (int, bool) {
	depth := 0
	for i := start; i < len(lines); i++ {
		code := stripShellComment(lines[i])
		depth += strings.Count(code, "{") - strings.Count(code, "}")
		if depth <= 0 {
			return i, true
		}
	}
	return len(lines) - 1, false
}

func stripShellComment(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		return line[:i]
	}
	return line
}

func shellDoc(lines []string, decl int) string {
	var comments []string
	for i := decl - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "#!") {
			break
		}
		comments = append(comments, trimmed)
	}
	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	doc, _ := cleanDocComment(comments)
	return doc
}

func shellParameters(body []string) []function.Parameter {
	type positional struct {
		index string
		name  string
	}
	var found []positional
	seen := make(map[string]bool)
	for _, line := range body {
		match := shellLocalArgPattern.FindStringSubmatch(strings.TrimSpace(line))
		if len(match) != 3 || seen[match[2]] {
			continue
		}
		seen[match[2]] = true
		found = append(found, positional{index: match[2], name: match[1]})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].index < found[j].index })

	params := make([]function.Parameter, 0, len(found))
	for _, p := range found {
		params = append(params, function.Parameter{Name: p.name, Type: shellParamType})
	}
	return params
}

func shellCalls(body []string) []string {
	var set callSet
	for _, line := range body {
		code := strings.TrimSpace(stripShellComment(line))
		if code == "" {
			continue
		}
		for _, segment := range shellCommandSplit.Split(code, -1) {
			fields := strings.Fields(segment)
			if len(fields) == 0 {
				continue
			}
			word := fields[0]
			if shellKeywords[word] && len(fields) > 1 {
				word = fields[1]
			}
			if shellKeywords[word] || strings.Contains(word, "=") || !shellIdentifierPattern.MatchString(word) {
				continue
			}
			set.add(word)
		}
	}
	return set.names
}
