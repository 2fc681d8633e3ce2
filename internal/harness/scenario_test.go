package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	content := `
name: basic
description: "Create then move"
steps:
  - create: { id: img-1, type: media-image, x: 0, y: 0 }
  - move: { id: img-1, dx: 3, dy: 4 }
    outcome: applied
expect:
  - element: img-1
    fields: { x: 3 }
  - collection: images
    count: 1
`
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, "basic", scenario.Name)
	assert.Equal(t, DefaultProject, scenario.Project)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, "create", scenario.Steps[0].Action())
	assert.Equal(t, "img-1", scenario.Steps[0].Create["id"])
	require.NotNil(t, scenario.Steps[1].Move)
	assert.Equal(t, 3.0, scenario.Steps[1].Move.DX)
	assert.Equal(t, "applied", scenario.Steps[1].Outcome)
	require.Len(t, scenario.Expect, 2)
	require.NotNil(t, scenario.Expect[1].Count)
	assert.Equal(t, 1, *scenario.Expect[1].Count)
}

func TestParseScenario_KeepsProject(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: p
description: d
project: board-7
steps:
  - undo: true
`))
	require.NoError(t, err)
	assert.Equal(t, "board-7", scenario.Project)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ndescription: d\nsteps:\n  - undo: true\nflow: []\n",
			wantErr: "field flow not found",
		},
		{
			name:    "missing name",
			content: "description: d\nsteps:\n  - undo: true\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\nsteps:\n  - undo: true\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "empty step",
			content: "name: x\ndescription: d\nsteps:\n  - outcome: applied\n",
			wantErr: "steps[0]: no action",
		},
		{
			name:    "two actions",
			content: "name: x\ndescription: d\nsteps:\n  - undo: true\n    redo: true\n",
			wantErr: "steps[0]: more than one action",
		},
		{
			name:    "update without patch",
			content: "name: x\ndescription: d\nsteps:\n  - update: { id: a }\n",
			wantErr: "steps[0].update",
		},
		{
			name:    "move without id",
			content: "name: x\ndescription: d\nsteps:\n  - move: { dx: 1 }\n",
			wantErr: "steps[0].move",
		},
		{
			name:    "collection without count",
			content: "name: x\ndescription: d\nsteps:\n  - undo: true\nexpect:\n  - collection: images\n",
			wantErr: "collection requires count",
		},
		{
			name:    "two checks",
			content: "name: x\ndescription: d\nsteps:\n  - undo: true\nexpect:\n  - element: a\n    absent: b\n",
			wantErr: "more than one check",
		},
		{
			name:    "no check",
			content: "name: x\ndescription: d\nsteps:\n  - undo: true\nexpect:\n  - fields: { x: 1 }\n",
			wantErr: "expect[0]: no check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Fixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Steps)
		})
	}
}

func TestLoadScenario_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\ndescription: d\nsteps:\n  - redo: true\n"), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "redo", scenario.Steps[0].Action())
}
