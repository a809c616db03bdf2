package project

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codefionn/buildmender/internal/config"
)

// BlueprintFileName is the blueprint location inside the state directory
const BlueprintFileName = "blueprint.yaml"

// Blueprint records what was detected about a project and which commands
// the pipeline settled on. It is written at the start of every run and is
// the human-readable answer to "what did it decide to do".
type Blueprint struct {
	RunID       string     `yaml:"run_id"`
	GeneratedAt time.Time  `yaml:"generated_at"`
	ProfileID   string     `yaml:"profile"`
	ProfileName string     `yaml:"profile_name"`
	Evidence    []string   `yaml:"evidence,omitempty"`
	Build       [][]string `yaml:"build_commands"`
	Run         [][]string `yaml:"run_commands,omitempty"`
	Test        [][]string `yaml:"test_commands"`
	Manifests   []string   `yaml:"manifests,omitempty"`
}

// NewBlueprint assembles a blueprint from a detected profile and tree
func NewBlueprint(runID string, profile *Profile, tree *Tree) *Blueprint {
	bp := &Blueprint{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Manifests:   tree.Manifests(),
	}
	if profile != nil {
		bp.ProfileID = profile.ID
		bp.ProfileName = profile.Name
		bp.Evidence = profile.Evidence
		if len(profile.BuildHint) > 0 {
			bp.Build = [][]string{profile.BuildHint}
		}
		if len(profile.RunHint) > 0 {
			bp.Run = [][]string{profile.RunHint}
		}
		if len(profile.TestHint) > 0 {
			bp.Test = [][]string{profile.TestHint}
		}
	}
	return bp
}

func blueprintPath(projectRoot string) string {
	return filepath.Join(projectRoot, config.StateDirName, BlueprintFileName)
}

// Save writes the blueprint into the project's state directory
func (b *Blueprint) Save(projectRoot string) error {
	path := blueprintPath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal blueprint: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadBlueprint reads a previously saved blueprint, nil when none exists
func LoadBlueprint(projectRoot string) (*Blueprint, error) {
	data, err := os.ReadFile(blueprintPath(projectRoot))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	return &bp, nil
}
