package mode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeMode(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o644))
}

func TestLoad_PlainMode(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "default", `{
		"name": "default",
		"prompts": {"init": "init", "observation": "obs", "summary": "sum"},
		"observation_types": [{"id": "discovery", "label": "Discovery"}],
		"observation_concepts": [{"id": "how-it-works", "label": "How it works"}]
	}`)

	m, err := Load(dir, "default")
	require.NoError(t, err)
	require.Equal(t, "default", m.Name)
	require.Equal(t, "discovery", m.ResolveObservationType("discovery"))
}

func TestLoad_OverrideInheritsAndMergesParent(t *testing.T) {
	dir := t.TempDir()
	writeMode(t, dir, "base", `{
		"name": "base",
		"prompts": {"init": "base-init", "observation": "base-obs", "summary": "base-sum"},
		"observation_types": [{"id": "discovery", "label": "Discovery"}]
	}`)
	writeMode(t, dir, "base--strict", `{
		"name": "strict",
		"prompts": {"observation": "strict-obs"}
	}`)

	m, err := Load(dir, "base--strict")
	require.NoError(t, err)
	require.Equal(t, "strict", m.Name)
	require.Equal(t, "base-init", m.Prompts.Init, "fields the override omits must fall back to the parent")
	require.Equal(t, "strict-obs", m.Prompts.Observation, "fields the override sets must replace the parent's")
	require.Len(t, m.ObservationTypes, 1, "parent's vocabulary survives when the override doesn't redeclare it")
}

func TestResolveObservationType_UnknownFallsBackToFirstConfigured(t *testing.T) {
	m := &Mode{ObservationTypes: []ObservationType{{ID: "discovery"}, {ID: "bugfix"}}}
	require.Equal(t, "discovery", m.ResolveObservationType("nonexistent"))
}

func TestResolveConcepts_DropsUnrecognized(t *testing.T) {
	m := &Mode{ObservationConcepts: []ObservationConcept{{ID: "gotcha"}, {ID: "pattern"}}}
	got := m.ResolveConcepts([]string{"gotcha", "made-up", "pattern"})
	require.Equal(t, []string{"gotcha", "pattern"}, got)
}
