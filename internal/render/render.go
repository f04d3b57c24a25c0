// Package render turns function records and history analytics into markdown
// pages.
package render

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/Someblueman/codexdoc/internal/function"
)

// FunctionsDir is the subdirectory holding one page per function record.
const FunctionsDir = "functions"

// keepMarker separates generated content from hand-written notes. Everything
// after it survives regeneration.
const keepMarker = "<!-- codexdoc:keep -->"

const hashPrefix = "<!-- codexdoc-hash: "

const functionTemplate = `# {{.Name}}

` + "`{{.FilePath}}`" + ` ({{.Language}})

## Description

{{or .Description "No description provided."}}

## Source

{{fence .SourceText}}{{.Language}}
{{.SourceText}}
{{fence .SourceText}}

## Parameters
{{if .Parameters}}
| Name | Type | Description |
|------|------|-------------|
{{- range .Parameters}}
| ` + "`{{cell .Name}}`" + ` | ` + "`{{cell .Type}}`" + ` | {{cell .Description}} |
{{- end}}
{{else}}
No parameters.
{{end}}
## Returns

{{returns .ReturnType}}
`

var funcMap = template.FuncMap{
	"truncate": truncate,
	"fence":    fence,
	"cell":     cell,
	"returns":  returns,
}

var functionTmpl = template.Must(template.New("function").Funcs(funcMap).Parse(functionTemplate))

// Summary reports what WriteFunctionPages did, by page name.
type Summary struct {
	Added     []string
	Updated   []string
	Unchanged []string
	Errors    []string
}

// RenderFunction renders the generated part of a function page.
func RenderFunction(rec function.Record) (string, error) {
	var sb strings.Builder
	if err := functionTmpl.Execute(&sb, rec); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return sb.String(), nil
}

// WriteFunctionPages writes one page per record under dir/functions. Pages
// whose generated content is unchanged are left untouched; notes after the
// keep marker are carried over when a page is rewritten.
func WriteFunctionPages(dir string, records []function.Record) (Summary, error) {
	var summary Summary
	pagesDir := filepath.Join(dir, FunctionsDir)
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return summary, fmt.Errorf("create pages dir: %w", err)
	}

	names := PageNames(records)
	for i, rec := range records {
		page := names[i]
		status, err := writeFunctionPage(filepath.Join(pagesDir, page+".md"), rec)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", page, err))
			continue
		}
		switch status {
		case pageAdded:
			summary.Added = append(summary.Added, page)
		case pageUpdated:
			summary.Updated = append(summary.Updated, page)
		default:
			summary.Unchanged = append(summary.Unchanged, page)
		}
	}
	return summary, nil
}

type pageStatus int

const (
	pageUnchanged pageStatus = iota
	pageAdded
	pageUpdated
)

func writeFunctionPage(path string, rec function.Record) (pageStatus, error) {
	body, err := RenderFunction(rec)
	if err != nil {
		return 0, err
	}
	hash := contentHash(body)

	existingHash, err := readPageHash(path)
	if err != nil {
		return 0, err
	}
	if existingHash == hash {
		return pageUnchanged, nil
	}

	status := pageAdded
	var notes string
	if existingHash != "" {
		status = pageUpdated
		if notes, err = readKeptNotes(path); err != nil {
			return 0, err
		}
	}

	var sb strings.Builder
	sb.WriteString(hashPrefix + hash + " -->\n")
	sb.WriteString(body)
	sb.WriteString("\n" + keepMarker + "\n")
	sb.WriteString(notes)

	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return 0, err
	}
	return status, nil
}

var unsafePageChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// PageNames returns a file-safe page name per record, in the same order.
// Records sharing a name get a suffix derived from their file path, and from
// their source text too when the path is shared as well.
func PageNames(records []function.Record) []string {
	byName := make(map[string][]int)
	for i, rec := range records {
		base := pageBase(rec.Name)
		byName[base] = append(byName[base], i)
	}

	names := make([]string, len(records))
	for base, idxs := range byName {
		if len(idxs) == 1 {
			names[idxs[0]] = base
			continue
		}
		paths := make(map[string]int)
		for _, i := range idxs {
			paths[records[i].FilePath]++
		}
		for _, i := range idxs {
			rec := records[i]
			key := rec.FilePath
			if paths[key] > 1 {
				key += "\x00" + rec.SourceText
			}
			names[i] = base + "-" + contentHash(key)[:8]
		}
	}
	return names
}

func pageBase(name string) string {
	base := strings.Trim(unsafePageChars.ReplaceAllString(name, "_"), "._")
	if base == "" {
		return "function"
	}
	return base
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// readPageHash returns the hash recorded in the page header, or "" if the page
// does not exist or carries none.
func readPageHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, hashPrefix) && strings.HasSuffix(line, " -->") {
			return strings.TrimSuffix(strings.TrimPrefix(line, hashPrefix), " -->"), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	// A page without a header is treated as existing but stale.
	return "-", nil
}

func readKeptNotes(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	i := strings.Index(content, keepMarker)
	if i < 0 {
		return "", nil
	}
	return strings.TrimPrefix(content[i+len(keepMarker):], "\n"), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveStalePages deletes function pages not in keep. It returns the removed page names.
func RemoveStalePages(dir string, keep []string) ([]string, error) {
	want := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		want[k+".md"] = struct{}{}
	}
	entries, err := os.ReadDir(filepath.Join(dir, FunctionsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		if _, ok := want[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, FunctionsDir, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(removed)
	return removed, nil
}

// truncate shortens s to maxLen runes, ending in "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}

// fence returns a backtick run longer than any inside s.
func fence(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	return strings.Repeat("`", max(3, longest+1))
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func returns(t string) string {
	if t == "" {
		return "Nothing."
	}
	return "`" + t + "`"
}
