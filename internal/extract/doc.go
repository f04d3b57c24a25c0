package extract

import (
	"strings"

	"github.com/Someblueman/codexdoc/internal/function"
)

func isBlockDoc(comment string) bool {
	c := strings.TrimSpace(comment)
	return strings.HasPrefix(c, "/**") && !strings.HasPrefix(c, "/**/")
}

func isCFamilyDoc(comment string) bool {
	c := strings.TrimSpace(comment)
	if isBlockDoc(c) || strings.HasPrefix(c, "/*!") || strings.HasPrefix(c, "//!") {
		return true
	}
	return strings.HasPrefix(c, "///") && !strings.HasPrefix(c, "////")
}

func isRustDoc(comment string) bool {
	c := strings.TrimSpace(comment)
	return isBlockDoc(c) || (strings.HasPrefix(c, "///") && !strings.HasPrefix(c, "////"))
}

// cleanDocComment strips comment markers and tag lines, joining what remains
// with single spaces. @param tags are returned keyed by parameter name.
func cleanDocComment(comments []string) (string, map[string]string) {
	var lines []string
	var params map[string]string
	for _, comment := range comments {
		for _, line := range strings.Split(stripCommentMarkers(comment), "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "@") {
				if name, desc, ok := parseParamTag(line); ok {
					if params == nil {
						params = make(map[string]string)
					}
					params[name] = desc
				}
				continue
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " "), params
}

func stripCommentMarkers(comment string) string {
	c := strings.TrimSpace(comment)
	switch {
	case strings.HasPrefix(c, "/**"), strings.HasPrefix(c, "/*!"):
		c = strings.TrimSuffix(c[3:], "*/")
	case strings.HasPrefix(c, "/*"):
		c = strings.TrimSuffix(c[2:], "*/")
	case strings.HasPrefix(c, "///"), strings.HasPrefix(c, "//!"):
		c = c[3:]
	case strings.HasPrefix(c, "//"):
		c = c[2:]
	case strings.HasPrefix(c, "#"):
		c = strings.TrimLeft(c, "#")
	}
	return c
}

// parseParamTag understands "@param name desc", "@param {type} name desc"
// and "@param type $name desc".
func parseParamTag(line string) (string, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "@param" {
		return "", "", false
	}
	rest := fields[1:]
	if strings.HasPrefix(rest[0], "{") {
		for len(rest) > 0 {
			tok := rest[0]
			rest = rest[1:]
			if strings.HasSuffix(tok, "}") {
				break
			}
		}
	} else if len(rest) > 1 && strings.HasPrefix(rest[1], "$") {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", "", false
	}
	name := strings.Trim(rest[0], "[]$.")
	if i := strings.IndexByte(name, '='); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", "", false
	}
	desc := strings.TrimSpace(strings.TrimPrefix(strings.Join(rest[1:], " "), "-"))
	return name, desc, true
}

func applyParamDocs(params []function.Parameter, docs map[string]string) {
	if len(docs) == 0 {
		return
	}
	for i := range params {
		name := strings.TrimLeft(params[i].Name, "$.*&")
		if desc, ok := docs[name]; ok && params[i].Description == "" {
			params[i].Description = desc
		}
	}
}
