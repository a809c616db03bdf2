// Package depgraph builds a directed file-level dependency graph for a
// multi-language project tree. Imports and top-level declarations are
// extracted with tree-sitter grammars where available and a pattern-matching
// fallback otherwise; the graph answers dependents, dependency, cycle and
// unresolved-import queries and is refreshed incrementally after fixes.
package depgraph

import (
	"regexp"
	"strings"
)

// ImportInfo is one import statement extracted from a file
type ImportInfo struct {
	// Raw is the module path as written in the source ("./utils", "flask",
	// "fmt", "crate::db").
	Raw string
	// Symbols are the explicitly imported names, when the language syntax
	// declares them (from x import a / import {a} from "x").
	Symbols []string
}

// FileAnalysis is the extracted shape of a single file
type FileAnalysis struct {
	Path      string
	Language  string
	Imports   []ImportInfo
	Classes   []string
	Functions []string
}

// LanguageParser extracts imports and top-level declarations from one file.
// Implementations must be non-blocking on malformed input: partial results
// beat errors for generated code that may not parse yet.
type LanguageParser interface {
	Language() string
	Parse(path string, content []byte) (*FileAnalysis, error)
}

// Registry selects a parser per file, preferring grammar parsers and
// degrading to the regex fallback for anything else.
type Registry struct {
	grammar  map[string]LanguageParser
	fallback LanguageParser
}

// NewRegistry creates a registry with all grammar parsers registered
func NewRegistry() *Registry {
	r := &Registry{
		grammar:  make(map[string]LanguageParser),
		fallback: &fallbackParser{},
	}
	for _, p := range newGrammarParsers() {
		r.grammar[p.Language()] = p
	}
	return r
}

// ParserFor returns the parser responsible for path, never nil
func (r *Registry) ParserFor(path string) LanguageParser {
	if p, ok := r.grammar[DetectLanguage(path)]; ok {
		return p
	}
	return r.fallback
}

// Analyze parses one file with the appropriate parser
func (r *Registry) Analyze(path string, content []byte) (*FileAnalysis, error) {
	return r.ParserFor(path).Parse(path, content)
}

// fallbackParser is the degraded pattern-matching extractor used for
// languages without a grammar parser. Accuracy is strictly worse than the
// grammar parsers but it never blocks analysis.
type fallbackParser struct{}

var (
	fallbackImportRe = regexp.MustCompile(`(?m)^\s*(?:import\s+([\w./@-]+)|from\s+([\w./@-]+)\s+import|#include\s*[<"]([\w./]+)[>"]|require\s*\(?['"]([^'"]+)['"]|use\s+([\w:]+))`)
	fallbackClassRe  = regexp.MustCompile(`(?m)^\s*(?:class|struct|interface|trait)\s+(\w+)`)
	fallbackFuncRe   = regexp.MustCompile(`(?m)^\s*(?:def|func|fn|function|sub)\s+(\w+)`)
)

func (f *fallbackParser) Language() string { return "" }

func (f *fallbackParser) Parse(path string, content []byte) (*FileAnalysis, error) {
	analysis := &FileAnalysis{
		Path:     path,
		Language: DetectLanguage(path),
	}

	text := string(content)

	seen := make(map[string]bool)
	for _, m := range fallbackImportRe.FindAllStringSubmatch(text, -1) {
		raw := ""
		for _, group := range m[1:] {
			if group != "" {
				raw = group
				break
			}
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true
		analysis.Imports = append(analysis.Imports, ImportInfo{Raw: raw})
	}

	for _, m := range fallbackClassRe.FindAllStringSubmatch(text, -1) {
		analysis.Classes = append(analysis.Classes, m[1])
	}
	for _, m := range fallbackFuncRe.FindAllStringSubmatch(text, -1) {
		analysis.Functions = append(analysis.Functions, m[1])
	}

	return analysis, nil
}
