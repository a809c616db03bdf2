package depgraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ManifestDeps is the set of third-party dependency names declared in the
// project's package manifests, keyed by lowercased dependency name.
type ManifestDeps map[string]bool

var (
	requirementNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)
	cargoSectionRe    = regexp.MustCompile(`^\[(.+)\]$`)
	goRequireRe       = regexp.MustCompile(`^\s*([\w./-]+)\s+v[\w.+-]+`)
)

// LoadManifestDeps collects declared dependencies from every recognized
// manifest under projectRoot. Unparseable manifests are skipped rather than
// failing the whole collection.
func LoadManifestDeps(projectRoot string) ManifestDeps {
	deps := make(ManifestDeps)

	if data, err := os.ReadFile(filepath.Join(projectRoot, "requirements.txt")); err == nil {
		parseRequirements(data, deps)
	}
	if data, err := os.ReadFile(filepath.Join(projectRoot, "pyproject.toml")); err == nil {
		parsePyproject(data, deps)
	}
	if data, err := os.ReadFile(filepath.Join(projectRoot, "package.json")); err == nil {
		parsePackageJSON(data, deps)
	}
	if data, err := os.ReadFile(filepath.Join(projectRoot, "go.mod")); err == nil {
		parseGoMod(data, deps)
	}
	if data, err := os.ReadFile(filepath.Join(projectRoot, "Cargo.toml")); err == nil {
		parseCargoToml(data, deps)
	}

	return deps
}

// Has reports whether name, or any prefix of it up to a separator, is
// declared. Python and Rust submodules resolve against the root package;
// Go imports resolve against any declared module path prefix, so every
// "/"-prefix has to be tried, not just the first segment.
func (m ManifestDeps) Has(name string) bool {
	if name == "" {
		return false
	}
	key := normalizeDepName(name)
	if m[key] {
		return true
	}
	for _, sep := range []string{".", "::", "/"} {
		prefix := key
		for {
			idx := strings.LastIndex(prefix, sep)
			if idx <= 0 {
				break
			}
			prefix = prefix[:idx]
			if m[prefix] {
				return true
			}
		}
	}
	return false
}

func normalizeDepName(name string) string {
	// PyPI treats dashes and underscores as equivalent
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

func (m ManifestDeps) add(name string) {
	if key := normalizeDepName(name); key != "" {
		m[key] = true
	}
}

func parseRequirements(data []byte, deps ManifestDeps) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if name := requirementNameRe.FindString(line); name != "" {
			deps.add(name)
		}
	}
}

// parsePyproject only reads the dependency arrays; a full TOML parse is not
// needed to learn package names.
func parsePyproject(data []byte, deps ManifestDeps) {
	inDeps := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "dependencies"):
			inDeps = true
		case inDeps && strings.HasPrefix(trimmed, "]"):
			inDeps = false
		case inDeps:
			entry := strings.Trim(trimmed, `,"' `)
			if name := requirementNameRe.FindString(entry); name != "" {
				deps.add(name)
			}
		}
	}
}

func parsePackageJSON(data []byte, deps ManifestDeps) {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return
	}
	for name := range manifest.Dependencies {
		deps.add(name)
	}
	for name := range manifest.DevDependencies {
		deps.add(name)
	}
}

func parseGoMod(data []byte, deps ManifestDeps) {
	inRequire := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "require ("):
			inRequire = true
		case inRequire && trimmed == ")":
			inRequire = false
		case inRequire || strings.HasPrefix(trimmed, "require "):
			candidate := strings.TrimPrefix(trimmed, "require ")
			if m := goRequireRe.FindStringSubmatch(candidate); m != nil {
				deps.add(m[1])
			}
		}
	}
}

func parseCargoToml(data []byte, deps ManifestDeps) {
	section := ""
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if m := cargoSectionRe.FindStringSubmatch(trimmed); m != nil {
			section = m[1]
			continue
		}
		if section != "dependencies" && section != "dev-dependencies" &&
			section != "build-dependencies" {
			continue
		}
		if idx := strings.Index(trimmed, "="); idx > 0 {
			deps.add(strings.TrimSpace(trimmed[:idx]))
		}
	}
}
