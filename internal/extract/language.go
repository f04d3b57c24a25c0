package extract

import (
	"path/filepath"
	"strings"
)

const (
	LanguageCpp        = "cpp"
	LanguageGo         = "go"
	LanguageJava       = "java"
	LanguageJavaScript = "javascript"
	LanguagePHP        = "php"
	LanguagePython     = "python"
	LanguageRust       = "rust"
	LanguageShell      = "shell"
	LanguageTypeScript = "typescript"
)

// CanonicalLanguage maps common aliases to the language IDs used in records.
func CanonicalLanguage(id string) string {
	normalized := strings.ToLower(strings.TrimSpace(id))
	switch normalized {
	case "ts", "tsx":
		return LanguageTypeScript
	case "js", "jsx", "node":
		return LanguageJavaScript
	case "py", "python3":
		return LanguagePython
	case "c", "c++", "cc", "cxx":
		return LanguageCpp
	case "golang":
		return LanguageGo
	case "rs":
		return LanguageRust
	case "bash", "sh":
		return LanguageShell
	default:
		return normalized
	}
}

// extensionSet matches a path by lowercase file extension.
type extensionSet []string

func (s extensionSet) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, candidate := range s {
		if candidate == ext {
			return true
		}
	}
	return false
}

func (s extensionSet) list() []string {
	return append([]string(nil), s...)
}
