package depgraph

import (
	"fmt"
	"path"
	"strings"
)

// DiagnosticKind classifies a coupling problem found during import validation
type DiagnosticKind string

const (
	// DiagMissingFile means an import points at a project file that does not exist
	DiagMissingFile DiagnosticKind = "missing-file"
	// DiagMissingSymbol means an import names a symbol the target file does not declare
	DiagMissingSymbol DiagnosticKind = "missing-symbol"
	// DiagUndeclaredDep means a third-party import is absent from every manifest
	DiagUndeclaredDep DiagnosticKind = "undeclared-dependency"
)

// Diagnostic is one unresolved import or symbol mismatch
type Diagnostic struct {
	File    string
	Import  string
	Symbol  string
	Kind    DiagnosticKind
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s (%s)", d.File, d.Message, d.Kind)
}

// resolver maps raw import strings to project files and validates the rest
// against manifest-declared dependencies. File keys are slash-separated paths
// relative to the project root.
type resolver struct {
	files    map[string]*FileAnalysis
	deps     ManifestDeps
	goModule string
}

var pythonStdlib = map[string]bool{
	"abc": true, "argparse": true, "asyncio": true, "base64": true,
	"collections": true, "contextlib": true, "copy": true, "csv": true,
	"dataclasses": true, "datetime": true, "enum": true, "functools": true,
	"glob": true, "hashlib": true, "http": true, "io": true, "itertools": true,
	"json": true, "logging": true, "math": true, "os": true, "pathlib": true,
	"random": true, "re": true, "shutil": true, "signal": true, "socket": true,
	"sqlite3": true, "string": true, "subprocess": true, "sys": true,
	"tempfile": true, "threading": true, "time": true, "traceback": true,
	"typing": true, "unittest": true, "urllib": true, "uuid": true,
	"warnings": true, "xml": true, "zipfile": true,
}

var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "crypto": true,
	"events": true, "fs": true, "http": true, "https": true, "net": true,
	"os": true, "path": true, "process": true, "readline": true,
	"stream": true, "url": true, "util": true, "zlib": true,
}

var rustBuiltinRoots = map[string]bool{
	"std": true, "core": true, "alloc": true,
	"crate": true, "self": true, "super": true,
}

// resolveLocal maps an import written in fromPath to a project file path.
// The second return is false for anything that is not a project-local file:
// stdlib modules, third-party packages and unresolvable paths all land there.
func (r *resolver) resolveLocal(fromPath string, lang string, raw string) (string, bool) {
	dir := path.Dir(fromPath)

	switch lang {
	case "python":
		return r.resolvePython(dir, raw)
	case "typescript", "tsx", "javascript":
		return r.resolveJS(dir, raw)
	case "go":
		return r.resolveGo(raw)
	case "rust":
		return r.resolveRust(dir, raw)
	case "bash":
		return r.resolveBash(dir, raw)
	default:
		return r.resolveBash(dir, raw)
	}
}

func (r *resolver) resolvePython(dir, raw string) (string, bool) {
	if strings.HasPrefix(raw, ".") {
		// one leading dot is the current package, each extra dot one level up
		rest := strings.TrimLeft(raw, ".")
		up := len(raw) - len(rest) - 1
		base := dir
		for i := 0; i < up; i++ {
			base = path.Dir(base)
		}
		return r.tryPythonModule(base, rest)
	}
	return r.tryPythonModule("", raw)
}

func (r *resolver) tryPythonModule(base, module string) (string, bool) {
	rel := strings.ReplaceAll(module, ".", "/")
	candidates := []string{
		path.Join(base, rel+".py"),
		path.Join(base, rel, "__init__.py"),
	}
	if rel == "" {
		candidates = []string{path.Join(base, "__init__.py")}
	}
	for _, c := range candidates {
		if _, ok := r.files[c]; ok {
			return c, true
		}
	}
	return "", false
}

var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

func (r *resolver) resolveJS(dir, raw string) (string, bool) {
	if !strings.HasPrefix(raw, ".") {
		return "", false
	}
	target := path.Join(dir, raw)
	if _, ok := r.files[target]; ok {
		return target, true
	}
	for _, ext := range jsExtensions {
		if _, ok := r.files[target+ext]; ok {
			return target + ext, true
		}
	}
	for _, ext := range jsExtensions {
		idx := path.Join(target, "index"+ext)
		if _, ok := r.files[idx]; ok {
			return idx, true
		}
	}
	return "", false
}

func (r *resolver) resolveGo(raw string) (string, bool) {
	if r.goModule == "" || !strings.HasPrefix(raw, r.goModule) {
		return "", false
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(raw, r.goModule), "/")
	// a Go import names a package directory; any file in it resolves
	for p := range r.files {
		if path.Dir(p) == rel || (rel == "" && path.Dir(p) == ".") {
			return p, true
		}
	}
	return "", false
}

func (r *resolver) resolveRust(dir, raw string) (string, bool) {
	root := raw
	if idx := strings.Index(raw, "::"); idx >= 0 {
		root = raw[:idx]
	}
	if rustBuiltinRoots[root] && root != "crate" {
		return "", false
	}
	if root == "crate" {
		segs := strings.Split(raw, "::")
		if len(segs) < 2 {
			return "", false
		}
		root = segs[1]
		dir = r.rustSrcRoot()
	}
	for _, c := range []string{
		path.Join(dir, root+".rs"),
		path.Join(dir, root, "mod.rs"),
	} {
		if _, ok := r.files[c]; ok {
			return c, true
		}
	}
	return "", false
}

func (r *resolver) rustSrcRoot() string {
	if _, ok := r.files["src/main.rs"]; ok {
		return "src"
	}
	if _, ok := r.files["src/lib.rs"]; ok {
		return "src"
	}
	return "."
}

func (r *resolver) resolveBash(dir, raw string) (string, bool) {
	candidates := []string{raw, path.Join(dir, raw)}
	for _, c := range candidates {
		c = path.Clean(c)
		if _, ok := r.files[c]; ok {
			return c, true
		}
	}
	return "", false
}

// validate checks one file's imports and returns a diagnostic per problem.
// Relative imports must resolve inside the project; bare imports must either
// be built in to the language or declared in a manifest; explicitly imported
// symbols must exist in the resolved file.
func (r *resolver) validate(a *FileAnalysis) []Diagnostic {
	var diags []Diagnostic

	for _, imp := range a.Imports {
		target, ok := r.resolveLocal(a.Path, a.Language, imp.Raw)
		if ok {
			diags = append(diags, r.validateSymbols(a.Path, imp, target)...)
			continue
		}

		if r.isProjectLocalShape(a.Language, imp.Raw) {
			diags = append(diags, Diagnostic{
				File:    a.Path,
				Import:  imp.Raw,
				Kind:    DiagMissingFile,
				Message: fmt.Sprintf("import %q does not resolve to any project file", imp.Raw),
			})
			continue
		}

		if r.isBuiltin(a.Language, imp.Raw) {
			continue
		}

		if !r.deps.Has(importRoot(a.Language, imp.Raw)) {
			diags = append(diags, Diagnostic{
				File:    a.Path,
				Import:  imp.Raw,
				Kind:    DiagUndeclaredDep,
				Message: fmt.Sprintf("dependency %q is not declared in any manifest", imp.Raw),
			})
		}
	}

	return diags
}

func (r *resolver) validateSymbols(fromPath string, imp ImportInfo, target string) []Diagnostic {
	analysis, ok := r.files[target]
	if !ok || len(imp.Symbols) == 0 {
		return nil
	}

	declared := make(map[string]bool, len(analysis.Classes)+len(analysis.Functions))
	for _, c := range analysis.Classes {
		declared[c] = true
	}
	for _, f := range analysis.Functions {
		declared[f] = true
	}

	var diags []Diagnostic
	targetDir := strings.TrimSuffix(target, path.Ext(target))
	for _, sym := range imp.Symbols {
		if sym == "*" || declared[sym] {
			continue
		}
		// `from pkg import submodule` imports a file, not a symbol
		if _, ok := r.files[path.Join(targetDir, sym+".py")]; ok {
			continue
		}
		if _, ok := r.files[path.Join(path.Dir(target), sym+".py")]; ok && path.Base(target) == "__init__.py" {
			continue
		}
		diags = append(diags, Diagnostic{
			File:    fromPath,
			Import:  imp.Raw,
			Symbol:  sym,
			Kind:    DiagMissingSymbol,
			Message: fmt.Sprintf("%s does not declare %q imported by %s", target, sym, fromPath),
		})
	}
	return diags
}

// isProjectLocalShape reports whether an unresolved import was clearly meant
// to name a project file, so a miss is an error rather than a dependency.
func (r *resolver) isProjectLocalShape(lang, raw string) bool {
	switch lang {
	case "python":
		return strings.HasPrefix(raw, ".")
	case "typescript", "tsx", "javascript":
		return strings.HasPrefix(raw, ".")
	case "go":
		return r.goModule != "" && strings.HasPrefix(raw, r.goModule)
	case "rust":
		return strings.HasPrefix(raw, "crate::")
	case "bash":
		return strings.Contains(raw, "/") || strings.HasSuffix(raw, ".sh")
	default:
		return false
	}
}

func (r *resolver) isBuiltin(lang, raw string) bool {
	root := importRoot(lang, raw)
	switch lang {
	case "python":
		return pythonStdlib[root]
	case "typescript", "tsx", "javascript":
		return nodeBuiltins[root] || strings.HasPrefix(raw, "node:")
	case "go":
		// stdlib import paths have no dot in the first segment
		return !strings.Contains(strings.SplitN(raw, "/", 2)[0], ".")
	case "rust":
		return rustBuiltinRoots[root]
	case "bash":
		return true
	default:
		return true
	}
}

// importRoot extracts the top-level package name used for manifest lookups
func importRoot(lang, raw string) string {
	switch lang {
	case "python":
		return strings.SplitN(raw, ".", 2)[0]
	case "rust":
		return strings.SplitN(raw, "::", 2)[0]
	case "typescript", "tsx", "javascript":
		// scoped packages keep their scope: @org/pkg
		if strings.HasPrefix(raw, "@") {
			parts := strings.SplitN(raw, "/", 3)
			if len(parts) >= 2 {
				return parts[0] + "/" + parts[1]
			}
			return raw
		}
		return strings.SplitN(raw, "/", 2)[0]
	default:
		return raw
	}
}
