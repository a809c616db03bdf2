package oracle

import (
	"context"
	"strings"
)

// ManifestRequest is the project context handed to manifest generation
type ManifestRequest struct {
	TreeASCII   string
	ProfileName string
	BuildHint   []string
	RunHint     []string
	TestHint    []string
	Manifests   []string
}

// ManifestGenerator produces the container build file for a project.
// Implementations are external agents; the pipeline cannot start without
// their output.
type ManifestGenerator interface {
	GenerateManifest(ctx context.Context, req ManifestRequest) (string, error)
}

// CleanManifest strips markdown code fences an agent may wrap the manifest
// in and trims surrounding whitespace.
func CleanManifest(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		lines = lines[1:]
		if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
			lines = lines[:n-1]
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	return text
}
