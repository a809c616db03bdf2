// Package project inspects a target repository: it detects the build
// profiles the tree matches, snapshots the file layout, and persists the
// build blueprint derived from both.
package project

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Profile is one detected build profile with supporting evidence and the
// command hints used when generating the isolation image and blueprint.
type Profile struct {
	ID         string
	Name       string
	Evidence   []string
	Confidence float64
	BuildHint  []string
	RunHint    []string
	TestHint   []string
}

// Detector matches a scanned tree against the known build profiles
type Detector struct {
	tree *Tree
}

// NewDetector creates a detector over an already scanned tree
func NewDetector(tree *Tree) *Detector {
	return &Detector{tree: tree}
}

// Detect returns all matched profiles ordered by confidence, best first
func (d *Detector) Detect(ctx context.Context) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths := d.tree.Paths()

	var result []Profile
	for _, def := range profileDefinitions {
		evidence := def.match(paths)
		if len(evidence) == 0 {
			continue
		}

		confidence := def.baseConfidence + float64(len(evidence)-1)*0.02
		if confidence > 1 {
			confidence = 1
		}

		result = append(result, Profile{
			ID:         def.id,
			Name:       def.name,
			Evidence:   evidence,
			Confidence: confidence,
			BuildHint:  def.buildHint,
			RunHint:    def.runHint,
			TestHint:   def.testHint,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Confidence == result[j].Confidence {
			return result[i].ID < result[j].ID
		}
		return result[i].Confidence > result[j].Confidence
	})

	return result, nil
}

// Best returns the highest-confidence profile, or nil when nothing matched
func Best(profiles []Profile) *Profile {
	if len(profiles) == 0 {
		return nil
	}
	return &profiles[0]
}

type profileDefinition struct {
	id             string
	name           string
	required       []string
	supporting     []string
	baseConfidence float64
	buildHint      []string
	runHint        []string
	testHint       []string
}

// match returns evidence paths when at least one required indicator is
// present at the tree root. Supporting indicators only add evidence.
func (def profileDefinition) match(paths []string) []string {
	var evidence []string

	matched := false
	for _, ind := range def.required {
		for _, p := range paths {
			if pathMatches(p, ind) {
				matched = true
				evidence = append(evidence, fmt.Sprintf("%s (matched %s)", p, ind))
				break
			}
		}
	}
	if !matched {
		return nil
	}

	for _, ind := range def.supporting {
		for _, p := range paths {
			if pathMatches(p, ind) {
				evidence = append(evidence, fmt.Sprintf("%s (matched %s)", p, ind))
				break
			}
		}
	}
	return evidence
}

func pathMatches(rel, indicator string) bool {
	if strings.HasPrefix(indicator, "*") {
		return strings.HasSuffix(strings.ToLower(rel), strings.ToLower(indicator[1:]))
	}
	return strings.EqualFold(rel, indicator)
}

var profileDefinitions = []profileDefinition{
	{
		id:             "go",
		name:           "Go",
		required:       []string{"go.mod"},
		supporting:     []string{"go.sum", "Makefile"},
		baseConfidence: 0.94,
		buildHint:      []string{"go", "build", "./..."},
		runHint:        []string{"go", "run", "."},
		testHint:       []string{"go", "test", "./..."},
	},
	{
		id:             "python",
		name:           "Python",
		required:       []string{"pyproject.toml", "requirements.txt", "setup.py", "Pipfile"},
		supporting:     []string{"Pipfile.lock", "pytest.ini", "tox.ini"},
		baseConfidence: 0.82,
		buildHint:      []string{"pip", "install", "-r", "requirements.txt"},
		runHint:        []string{"python", "main.py"},
		testHint:       []string{"pytest", "-v"},
	},
	{
		id:             "nodejs",
		name:           "Node.js",
		required:       []string{"package.json"},
		supporting:     []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "tsconfig.json"},
		baseConfidence: 0.86,
		buildHint:      []string{"npm", "install"},
		runHint:        []string{"npm", "start"},
		testHint:       []string{"npm", "test"},
	},
	{
		id:             "rust",
		name:           "Rust",
		required:       []string{"Cargo.toml"},
		supporting:     []string{"Cargo.lock"},
		baseConfidence: 0.92,
		buildHint:      []string{"cargo", "build"},
		runHint:        []string{"cargo", "run"},
		testHint:       []string{"cargo", "test"},
	},
	{
		id:             "java",
		name:           "Java",
		required:       []string{"pom.xml", "build.gradle", "*build.gradle.kts"},
		supporting:     []string{"settings.gradle"},
		baseConfidence: 0.78,
		buildHint:      []string{"mvn", "package", "-q"},
		runHint:        nil,
		testHint:       []string{"mvn", "test", "-q"},
	},
	{
		id:             "ruby",
		name:           "Ruby",
		required:       []string{"Gemfile"},
		supporting:     []string{"Gemfile.lock", "Rakefile"},
		baseConfidence: 0.75,
		buildHint:      []string{"bundle", "install"},
		runHint:        nil,
		testHint:       []string{"bundle", "exec", "rspec"},
	},
	{
		id:             "cmake",
		name:           "C/C++ (CMake)",
		required:       []string{"CMakeLists.txt"},
		supporting:     []string{"*.cmake"},
		baseConfidence: 0.83,
		buildHint:      []string{"cmake", "-B", "build"},
		runHint:        nil,
		testHint:       []string{"ctest", "--test-dir", "build"},
	},
	{
		id:             "make",
		name:           "Make",
		required:       []string{"Makefile"},
		supporting:     []string{"configure"},
		baseConfidence: 0.6,
		buildHint:      []string{"make"},
		runHint:        nil,
		testHint:       []string{"make", "test"},
	},
}
