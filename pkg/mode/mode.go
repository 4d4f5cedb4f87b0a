// Package mode implements the Mode Manager: static JSON-defined profiles
// that drive the response processor's prompt templates and allowed
// vocabularies.
package mode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
)

// ObservationType is one entry in a mode's allowed observation-type
// vocabulary.
type ObservationType struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Emoji     string `json:"emoji"`
	WorkEmoji string `json:"work_emoji"`
}

// ObservationConcept is one entry in a mode's allowed concept vocabulary.
type ObservationConcept struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Prompts holds the three prompt templates a mode supplies.
type Prompts struct {
	Init        string `json:"init"`
	Observation string `json:"observation"`
	Summary     string `json:"summary"`
}

// Mode is one resolved profile: name, prompts, and the allowed vocabularies
// the response processor validates parsed observations against.
type Mode struct {
	Name                string               `json:"name"`
	Prompts             Prompts              `json:"prompts"`
	ObservationTypes    []ObservationType    `json:"observation_types"`
	ObservationConcepts []ObservationConcept `json:"observation_concepts"`
}

// Load reads a mode JSON file from dir/name.json. If name has the form
// "parent--override", the parent is loaded first and the override file's
// fields are deep-merged over it — single-level inheritance, non-object
// values (slices included) replace — via dario.cat/mergo.WithOverride.
func Load(dir, name string) (*Mode, error) {
	base, override, isOverride := splitOverrideName(name)
	if !isOverride {
		return loadFile(dir, name)
	}

	parent, err := loadFile(dir, base)
	if err != nil {
		return nil, fmt.Errorf("load parent mode %q: %w", base, err)
	}
	child, err := loadFile(dir, name)
	if err != nil {
		return nil, fmt.Errorf("load mode %q: %w", name, err)
	}
	_ = override

	if err := mergo.Merge(parent, child, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge mode %q over parent %q: %w", name, base, err)
	}
	parent.Name = child.Name
	return parent, nil
}

func loadFile(dir, name string) (*Mode, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Mode
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mode file %s: %w", path, err)
	}
	return &m, nil
}

// splitOverrideName splits "parent--override" into its two halves. A plain
// name (no "--") is not an override.
func splitOverrideName(name string) (base string, override string, isOverride bool) {
	idx := strings.Index(name, "--")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+2:], true
}

// ResolveObservationType maps a parsed type id to itself if the mode
// allows it, else to the mode's first configured type.
func (m *Mode) ResolveObservationType(id string) string {
	for _, t := range m.ObservationTypes {
		if t.ID == id {
			return id
		}
	}
	if len(m.ObservationTypes) > 0 {
		return m.ObservationTypes[0].ID
	}
	return id
}

// ResolveConcepts filters concepts down to the mode's allowed vocabulary,
// dropping anything not recognized rather than rejecting the whole
// observation over an unknown tag.
func (m *Mode) ResolveConcepts(concepts []string) []string {
	allowed := make(map[string]bool, len(m.ObservationConcepts))
	for _, c := range m.ObservationConcepts {
		allowed[c.ID] = true
	}
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if allowed[c] {
			out = append(out, c)
		}
	}
	return out
}
