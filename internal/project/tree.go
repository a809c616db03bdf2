package project

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// manifestFiles is the closed set of filenames treated as build manifests.
// A fix touching one of these invalidates the isolation image.
var manifestFiles = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"requirements.txt":  true,
	"pyproject.toml":    true,
	"setup.py":          true,
	"Pipfile":           true,
	"Pipfile.lock":      true,
	"go.mod":            true,
	"go.sum":            true,
	"Cargo.toml":        true,
	"Cargo.lock":        true,
	"pom.xml":           true,
	"build.gradle":      true,
	"Gemfile":           true,
	"Gemfile.lock":      true,
	"Dockerfile":        true,
	"Makefile":          true,
	"CMakeLists.txt":    true,
}

// IsManifestFile reports whether path names a build manifest
func IsManifestFile(path string) bool {
	return manifestFiles[filepath.Base(path)]
}

var skippedDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "env": true,
	"vendor": true, "target": true, "dist": true, "build": true,
	".idea": true, ".vscode": true, ".pytest_cache": true,
	".mypy_cache": true, ".ruff_cache": true, ".tox": true,
}

// node is one entry in the tree's flat node table. Children are indices
// into the same table, so the whole tree is two allocations plus names.
type node struct {
	name     string
	parent   int
	children []int
	isDir    bool
}

// Tree is a snapshot of a project's file layout. Nodes live in a flat
// arena table; index 0 is the root directory.
type Tree struct {
	root  string
	nodes []node
	paths []string
}

// Scan walks projectRoot and builds the tree, skipping VCS metadata,
// virtualenvs and dependency/build output directories. Depth is limited to
// keep pathological trees bounded.
func Scan(projectRoot string, maxDepth int) (*Tree, error) {
	t := &Tree{
		root:  projectRoot,
		nodes: []node{{name: ".", parent: -1, isDir: true}},
	}
	index := map[string]int{".": 0}

	err := filepath.WalkDir(projectRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(projectRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		name := d.Name()
		if d.IsDir() {
			if skippedDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if maxDepth > 0 && strings.Count(rel, "/")+1 >= maxDepth {
				t.insert(index, rel, true)
				return filepath.SkipDir
			}
			t.insert(index, rel, true)
			return nil
		}

		if strings.HasPrefix(name, ".") && !manifestFiles[name] {
			return nil
		}
		t.insert(index, rel, false)
		t.paths = append(t.paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(t.paths)
	return t, nil
}

func (t *Tree) insert(index map[string]int, rel string, isDir bool) int {
	if id, ok := index[rel]; ok {
		return id
	}

	parentRel := "."
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		parentRel = rel[:idx]
	}
	parent, ok := index[parentRel]
	if !ok {
		parent = t.insert(index, parentRel, true)
	}

	id := len(t.nodes)
	t.nodes = append(t.nodes, node{
		name:   rel[strings.LastIndex(rel, "/")+1:],
		parent: parent,
		isDir:  isDir,
	})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	index[rel] = id
	return id
}

// Root returns the scanned project root
func (t *Tree) Root() string { return t.root }

// Paths returns all file paths (not directories), sorted, relative to root
func (t *Tree) Paths() []string { return t.paths }

// Manifests returns the manifest files present in the tree
func (t *Tree) Manifests() []string {
	var out []string
	for _, p := range t.paths {
		if IsManifestFile(p) {
			out = append(out, p)
		}
	}
	return out
}

// HasFile reports whether rel exists in the snapshot
func (t *Tree) HasFile(rel string) bool {
	for _, p := range t.paths {
		if p == rel {
			return true
		}
	}
	return false
}

// TestFiles returns paths that look like test sources
func (t *Tree) TestFiles() []string {
	var out []string
	for _, p := range t.paths {
		base := strings.ToLower(filepath.Base(p))
		dir := strings.ToLower(p)
		switch {
		case strings.HasSuffix(base, "_test.go"),
			strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
			strings.HasSuffix(base, "_test.py"),
			strings.Contains(base, ".test.") || strings.Contains(base, ".spec."),
			strings.HasPrefix(dir, "tests/") || strings.Contains(dir, "/tests/"):
			out = append(out, p)
		}
	}
	return out
}

// Render returns the tree as indented ASCII, directories first at each
// level. Used verbatim in planning prompts, so the shape is stable.
func (t *Tree) Render() string {
	var b strings.Builder
	b.WriteString(".\n")
	t.renderNode(&b, 0, "")
	return b.String()
}

func (t *Tree) renderNode(b *strings.Builder, id int, prefix string) {
	children := append([]int(nil), t.nodes[id].children...)
	sort.Slice(children, func(i, j int) bool {
		a, c := t.nodes[children[i]], t.nodes[children[j]]
		if a.isDir != c.isDir {
			return a.isDir
		}
		return a.name < c.name
	})

	for i, child := range children {
		connector, childPrefix := "|-- ", prefix+"|   "
		if i == len(children)-1 {
			connector, childPrefix = "`-- ", prefix+"    "
		}
		n := t.nodes[child]
		name := n.name
		if n.isDir {
			name += "/"
		}
		b.WriteString(prefix + connector + name + "\n")
		if n.isDir {
			t.renderNode(b, child, childPrefix)
		}
	}
}
