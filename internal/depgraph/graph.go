package depgraph

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/codefionn/buildmender/internal/logger"
)

// maxParseSize caps file sizes handed to the parsers; anything bigger is
// almost certainly generated or vendored.
const maxParseSize = 1 << 20

var skippedDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "env": true,
	"vendor": true, "target": true, "dist": true, "build": true,
	".idea": true, ".vscode": true, ".pytest_cache": true,
	".mypy_cache": true, ".ruff_cache": true,
}

// Graph is a file-level dependency graph over one project tree. Nodes are
// source files (slash paths relative to the project root), edges point from a
// file to the files it imports. Safe for concurrent use.
type Graph struct {
	mu          sync.RWMutex
	projectRoot string
	registry    *Registry
	res         *resolver
	hashes      map[string]uint64
	forward     map[string]map[string]bool
	reverse     map[string]map[string]bool
}

// New creates an empty graph for projectRoot. Call Build to populate it.
func New(projectRoot string) *Graph {
	return &Graph{
		projectRoot: projectRoot,
		registry:    NewRegistry(),
		res: &resolver{
			files:    make(map[string]*FileAnalysis),
			deps:     LoadManifestDeps(projectRoot),
			goModule: goModuleName(projectRoot),
		},
		hashes:  make(map[string]uint64),
		forward: make(map[string]map[string]bool),
		reverse: make(map[string]map[string]bool),
	}
}

func goModuleName(projectRoot string) string {
	data, err := os.ReadFile(filepath.Join(projectRoot, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// Build walks the project tree and analyzes every recognized source file.
// A failed parse skips the file, it never fails the build of the graph.
func (g *Graph) Build() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.res.files = make(map[string]*FileAnalysis)
	g.hashes = make(map[string]uint64)

	err := filepath.WalkDir(g.projectRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skippedDirs[name] || (strings.HasPrefix(name, ".") && p != g.projectRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		if DetectLanguage(p) == "" {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxParseSize {
			return nil
		}
		rel, err := filepath.Rel(g.projectRoot, p)
		if err != nil {
			return nil
		}
		g.analyzeLocked(filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}

	g.rebuildEdgesLocked()
	logger.Debug("depgraph: built graph with %d files", len(g.res.files))
	return nil
}

// analyzeLocked parses one file and stores its analysis and content hash.
// Returns true when the content actually changed since the last analysis.
func (g *Graph) analyzeLocked(rel string) bool {
	content, err := os.ReadFile(filepath.Join(g.projectRoot, filepath.FromSlash(rel)))
	if err != nil {
		return false
	}

	sum := xxhash.Sum64(content)
	if prev, ok := g.hashes[rel]; ok && prev == sum {
		return false
	}

	analysis, err := g.registry.Analyze(rel, content)
	if err != nil {
		logger.Warn("depgraph: analyze %s: %v", rel, err)
		return false
	}

	g.res.files[rel] = analysis
	g.hashes[rel] = sum
	return true
}

// rebuildEdgesLocked recomputes all edges from the stored analyses.
// Self-imports never produce an edge.
func (g *Graph) rebuildEdgesLocked() {
	g.forward = make(map[string]map[string]bool, len(g.res.files))
	g.reverse = make(map[string]map[string]bool, len(g.res.files))

	for from, analysis := range g.res.files {
		for _, imp := range analysis.Imports {
			target, ok := g.res.resolveLocal(from, analysis.Language, imp.Raw)
			if !ok || target == from {
				continue
			}
			if g.forward[from] == nil {
				g.forward[from] = make(map[string]bool)
			}
			if g.reverse[target] == nil {
				g.reverse[target] = make(map[string]bool)
			}
			g.forward[from][target] = true
			g.reverse[target][from] = true
		}
	}
}

// Refresh re-analyzes the given files after a modification. Files whose
// content hash is unchanged are skipped. Returns the relative paths that
// actually changed, including files removed from disk.
func (g *Graph) Refresh(paths []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var changed []string
	for _, p := range paths {
		rel := g.toRel(p)
		if rel == "" || DetectLanguage(rel) == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(g.projectRoot, filepath.FromSlash(rel))); err != nil {
			if _, ok := g.res.files[rel]; ok {
				delete(g.res.files, rel)
				delete(g.hashes, rel)
				changed = append(changed, rel)
			}
			continue
		}
		if g.analyzeLocked(rel) {
			changed = append(changed, rel)
		}
	}

	if len(changed) > 0 {
		g.rebuildEdgesLocked()
	}
	return changed
}

// AddFile analyzes one file and inserts or updates it in the graph
func (g *Graph) AddFile(path string) {
	g.Refresh([]string{path})
}

// RemoveFile drops a file from the graph; edges pointing at it dissolve
func (g *Graph) RemoveFile(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel := g.toRel(path)
	if _, ok := g.res.files[rel]; !ok {
		return
	}
	delete(g.res.files, rel)
	delete(g.hashes, rel)
	g.rebuildEdgesLocked()
}

func (g *Graph) toRel(p string) string {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(filepath.Clean(p))
	}
	rel, err := filepath.Rel(g.projectRoot, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Files returns all known file paths, sorted
func (g *Graph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.res.files)
}

// Analysis returns the stored analysis for a file, or nil
func (g *Graph) Analysis(path string) *FileAnalysis {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.res.files[g.toRel(path)]
}

// DependenciesOf returns the project files that path imports, sorted
func (g *Graph) DependenciesOf(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.forward[g.toRel(path)])
}

// DependentsOf returns the project files that import path, sorted
func (g *Graph) DependentsOf(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.reverse[g.toRel(path)])
}

// ImpactedBy returns the files whose validity may change when the given
// files change: the files themselves plus their direct dependents.
func (g *Graph) ImpactedBy(paths []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	impacted := make(map[string]bool)
	for _, p := range paths {
		rel := g.toRel(p)
		if rel == "" {
			continue
		}
		if _, ok := g.res.files[rel]; ok {
			impacted[rel] = true
		}
		for dep := range g.reverse[rel] {
			impacted[dep] = true
		}
	}
	return sortedKeys(impacted)
}

// Validate checks every file's imports against the project and manifests
func (g *Graph) Validate() []Diagnostic {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var diags []Diagnostic
	for _, path := range sortedKeys(g.res.files) {
		diags = append(diags, g.res.validate(g.res.files[path])...)
	}
	return diags
}

// ValidateFiles checks only the given files, typically the impacted set
// after a fix was applied.
func (g *Graph) ValidateFiles(paths []string) []Diagnostic {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var diags []Diagnostic
	for _, p := range paths {
		if analysis, ok := g.res.files[g.toRel(p)]; ok {
			diags = append(diags, g.res.validate(analysis)...)
		}
	}
	return diags
}

// Cycles returns the strongly connected components with more than one file.
// Tarjan's algorithm, iterative over the recursion only in depth.
func (g *Graph) Cycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	index := 0
	indices := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range sortedKeys(g.forward[v]) {
			if _, seen := indices[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] == indices[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				sort.Strings(component)
				cycles = append(cycles, component)
			}
		}
	}

	for _, v := range sortedKeys(g.res.files) {
		if _, seen := indices[v]; !seen {
			strongconnect(v)
		}
	}
	return cycles
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
