package oracle

import (
	"context"
	"fmt"
	"strings"
)

// StaticManifestGenerator produces a plain containerfile from the detected
// profile hints, with no external agent involved. Used when no manifest
// agent is configured; the self-healing loop then repairs whatever the
// template gets wrong.
type StaticManifestGenerator struct{}

var profileBaseImages = map[string]string{
	"Go":            "golang:1.22",
	"Python":        "python:3.12-slim",
	"Node.js":       "node:20-slim",
	"Rust":          "rust:1.76-slim",
	"Java":          "maven:3.9-eclipse-temurin-21",
	"Ruby":          "ruby:3.3-slim",
	"C/C++ (CMake)": "gcc:13",
	"Make":          "gcc:13",
}

func (StaticManifestGenerator) GenerateManifest(_ context.Context, req ManifestRequest) (string, error) {
	base, ok := profileBaseImages[req.ProfileName]
	if !ok {
		return "", fmt.Errorf("no base image known for profile %q", req.ProfileName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY . .\n")
	if len(req.BuildHint) > 0 {
		fmt.Fprintf(&b, "RUN %s\n", strings.Join(req.BuildHint, " "))
	}
	if len(req.RunHint) > 0 {
		fmt.Fprintf(&b, "CMD [%s]\n", quoteArgv(req.RunHint))
	} else {
		b.WriteString("CMD [\"true\"]\n")
	}
	return b.String(), nil
}

func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return strings.Join(quoted, ", ")
}
