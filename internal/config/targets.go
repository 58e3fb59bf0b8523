package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Target kinds
const (
	TargetKindCount    = "count"    // satisfied when evidence count >= MinimumCount
	TargetKindEligible = "eligible" // satisfied when the provider reports eligibility
)

// Target is one configured verification unit. Targets are loaded once at
// startup and immutable for the lifetime of the process.
type Target struct {
	ID           string `toml:"id"`
	DisplayName  string `toml:"display_name"`
	RoleID       string `toml:"role_id"`
	Kind         string `toml:"kind"`
	MinimumCount int64  `toml:"minimum_count"`
	Address      string `toml:"address"`
}

// targetsFile is the top-level TOML structure of the target definition file
type targetsFile struct {
	Targets []Target `toml:"target"`
}

// LoadTargets reads and validates the target definitions from a TOML file
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}

	var file targetsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing targets file: %w", err)
	}

	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}

	seen := make(map[string]bool, len(file.Targets))
	for i := range file.Targets {
		t := &file.Targets[i]
		if t.ID == "" {
			return nil, fmt.Errorf("target %d: missing id", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate target id: %s", t.ID)
		}
		seen[t.ID] = true
		if t.DisplayName == "" {
			t.DisplayName = t.ID
		}
		if t.RoleID == "" {
			return nil, fmt.Errorf("target %s: missing role_id", t.ID)
		}
		switch t.Kind {
		case TargetKindCount:
			if t.MinimumCount < 1 {
				return nil, fmt.Errorf("target %s: count targets need minimum_count >= 1", t.ID)
			}
		case TargetKindEligible:
			// no threshold
		case "":
			t.Kind = TargetKindCount
			if t.MinimumCount < 1 {
				t.MinimumCount = 1
			}
		default:
			return nil, fmt.Errorf("target %s: unknown kind %q", t.ID, t.Kind)
		}
	}

	return file.Targets, nil
}
