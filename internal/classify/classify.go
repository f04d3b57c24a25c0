// Package classify decides whether a source file is worth extracting.
//
// Classification is pure: it looks only at the path and, when supplied, the
// content bytes. Callers do the I/O.
package classify

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/src-d/enry/v2"
)

// Reason explains why a file was rejected.
type Reason string

const (
	Eligible         Reason = ""
	IgnoredDirectory Reason = "ignored-directory"
	Unsupported      Reason = "unsupported-extension"
	IgnoredName      Reason = "ignored-name"
	ExcludedGlob     Reason = "excluded-glob"
	Vendored         Reason = "vendored"
	Generated        Reason = "generated-content"
	Minified         Reason = "minified-content"
	Binary           Reason = "binary-content"
)

// CacheDirName is the default incremental cache directory; never scanned.
const CacheDirName = ".codex-cache"

var ignoredDirectories = []string{
	"dist", "build", ".next", "out", "public", "coverage",
	"node_modules", "vendor", "packages",
	"test", "tests", "__tests__", "__mocks__",
	".cache", "__pycache__",
	".git", ".svn", ".idea", ".vscode",
	"generated", ".generated", "gen",
	".webpack", "webpack", "webpack.config",
	CacheDirName,
}

var ignoredNamePatterns = compileAll(
	// tests
	`\.(test|spec|e2e|stories)\.[cm]?[jt]sx?$`,
	`(^|/)test_[^/]*\.py$`,
	`_test\.(py|go)$`,
	`Tests?\.java$`,
	`\.bats$`,
	// configs
	`\.(config|conf)\.[cm]?[jt]s$`,
	// bundles and build output
	`\.(min|bundle|chunk|compiled)\.[jt]sx?$`,
	`\.d\.[cm]?ts$`,
	`webpack[^/]*\.[jt]s$`,
	`\.webpack\.`,
	`polyfill[^/]*\.[jt]sx?$`,
	`shim[^/]*\.[jt]sx?$`,
	`\.build\.`,
	`\.dist\.`,
	`\.map$`,
	`\.min\.`,
	// generated
	`\.types\.[jt]s$`,
	`types\.generated`,
	`_generated`,
	`\.g\.[jt]sx?$`,
	`\.pb\.go$`,
	// environment and docs
	`(^|/)\.env`,
	`\.mdx?$`,
)

var generatedMarkers = [][]byte{
	[]byte("__webpack_require__"),
	[]byte("webpack://"),
	[]byte("webpackJsonp"),
	[]byte("//# sourceMappingURL"),
}

var generatedAnnotations = compileAll(
	`(?i)@generated`,
	`(?i)DO NOT EDIT`,
	`(?i)Auto-generated`,
)

// minifiedLineLength is the minimum line length considered for the IIFE heuristic.
const minifiedLineLength = 500

var iifeShape = regexp.MustCompile(`^\s*(!function\s*\(|\(function\s*\(|!\(function\s*\().*[;)}]\s*$`)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Options tune a Classifier beyond the built-in rules.
type Options struct {
	// Extensions is the allow-list, including the leading dot. Empty allows any extension.
	Extensions []string
	// ExcludeDirs adds directory names to the ignored set.
	ExcludeDirs []string
	// Exclude holds doublestar globs matched against the slash-separated path.
	Exclude []string
	// StrictVendor additionally rejects paths enry considers vendored.
	StrictVendor bool
}

// Classifier applies the eligibility rules. The zero value uses only built-ins
// and accepts any extension.
type Classifier struct {
	extensions   map[string]struct{}
	ignoredDirs  map[string]struct{}
	exclude      []string
	strictVendor bool
}

// New returns a classifier for opts.
func New(opts Options) *Classifier {
	c := &Classifier{
		ignoredDirs:  make(map[string]struct{}, len(ignoredDirectories)+len(opts.ExcludeDirs)),
		exclude:      append([]string(nil), opts.Exclude...),
		strictVendor: opts.StrictVendor,
	}
	for _, dir := range ignoredDirectories {
		c.ignoredDirs[dir] = struct{}{}
	}
	for _, dir := range opts.ExcludeDirs {
		dir = strings.Trim(strings.TrimSpace(dir), "/")
		if dir != "" {
			c.ignoredDirs[dir] = struct{}{}
		}
	}
	if len(opts.Extensions) > 0 {
		c.extensions = make(map[string]struct{}, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			c.extensions[strings.ToLower(ext)] = struct{}{}
		}
	}
	return c
}

var defaultClassifier = New(Options{})

// IsEligible applies the built-in rules. content may be nil to skip content checks.
func IsEligible(p string, content []byte) bool {
	return defaultClassifier.Eligible(p, content)
}

// Eligible reports whether p (and content, when non-nil) passes every rule.
func (c *Classifier) Eligible(p string, content []byte) bool {
	return c.Check(p, content) == Eligible
}

// IsIgnoredDir reports whether a directory with this base name is pruned.
func (c *Classifier) IsIgnoredDir(name string) bool {
	_, ok := c.dirs()[name]
	return ok
}

// Check returns Eligible or the first rule that rejects the file.
func (c *Classifier) Check(p string, content []byte) Reason {
	if reason := c.CheckPath(p); reason != Eligible {
		return reason
	}
	if content != nil {
		return CheckContent(content)
	}
	return Eligible
}

// CheckPath applies the path-only rules.
func (c *Classifier) CheckPath(p string) Reason {
	p = strings.TrimPrefix(toSlash(p), "./")

	segments := strings.Split(p, "/")
	dirs := c.dirs()
	for _, seg := range segments[:len(segments)-1] {
		if _, ok := dirs[seg]; ok {
			return IgnoredDirectory
		}
	}

	if c.extensions != nil {
		if _, ok := c.extensions[strings.ToLower(path.Ext(p))]; !ok {
			return Unsupported
		}
	}

	for _, re := range ignoredNamePatterns {
		if re.MatchString(p) {
			return IgnoredName
		}
	}

	for _, pattern := range c.exclude {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return ExcludedGlob
		}
	}

	if c.strictVendor && enry.IsVendor(p) {
		return Vendored
	}
	return Eligible
}

// CheckContent applies the content rules.
func CheckContent(content []byte) Reason {
	if enry.IsBinary(content) {
		return Binary
	}
	for _, marker := range generatedMarkers {
		if bytes.Contains(content, marker) {
			return Generated
		}
	}
	for _, re := range generatedAnnotations {
		if re.Match(content) {
			return Generated
		}
	}
	if looksMinified(content) {
		return Minified
	}
	return Eligible
}

func looksMinified(content []byte) bool {
	for len(content) > 0 {
		line := content
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, content = content[:i], content[i+1:]
		} else {
			content = nil
		}
		if len(line) >= minifiedLineLength && iifeShape.Match(line) {
			return true
		}
	}
	return false
}

func (c *Classifier) dirs() map[string]struct{} {
	if c.ignoredDirs == nil {
		return defaultClassifier.ignoredDirs
	}
	return c.ignoredDirs
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
