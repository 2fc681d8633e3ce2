package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, content string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return scenario
}

func outcomes(r *Result) []string {
	out := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = ev.Outcome
	}
	return out
}

func TestRun_CreateMoveUndo(t *testing.T) {
	scenario := mustParse(t, `
name: create_move_undo
description: d
steps:
  - create: { id: img-1, type: media-image, x: 0, y: 0 }
  - move: { id: img-1, dx: 4, dy: 2 }
  - undo: true
expect:
  - element: img-1
    fields: { x: 0, y: 0 }
  - can_undo: true
  - can_redo: true
  - stored_ops: 3
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, []string{"applied", "applied", "applied"}, outcomes(result))
	assert.Equal(t, []int64{1, 2, 3}, []int64{result.Trace[0].Seq, result.Trace[1].Seq, result.Trace[2].Seq})
	assert.Equal(t, []string{"img-1"}, result.Trace[1].Targets)
	assert.Equal(t, map[string]int{"images": 1}, result.Trace[2].Counts)

	require.Len(t, result.Final, 1)
	assert.Equal(t, "img-1", result.Final[0].ID)
	assert.Equal(t, "media-image", result.Final[0].Type)
}

func TestRun_RejectedOperationsAreOutcomes(t *testing.T) {
	scenario := mustParse(t, `
name: rejected
description: d
steps:
  - move: { id: ghost, dx: 1, dy: 1 }
  - update: { id: ghost, patch: { x: 1 } }
  - delete: [ghost]
  - undo: true
  - redo: true
expect:
  - stored_ops: 0
  - can_undo: false
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{
		"rejected:UNKNOWN_ELEMENT",
		"rejected:UNKNOWN_ELEMENT",
		"rejected:UNKNOWN_ELEMENT",
		"noop",
		"noop",
	}, outcomes(result))
	assert.Empty(t, result.Final)
}

func TestRun_OutcomeMismatchFails(t *testing.T) {
	scenario := mustParse(t, `
name: mismatch
description: d
steps:
  - move: { id: ghost, dx: 1, dy: 1 }
    outcome: applied
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `outcome "rejected:UNKNOWN_ELEMENT", want "applied"`)
}

func TestRun_ExpectationFailures(t *testing.T) {
	scenario := mustParse(t, `
name: failing
description: d
steps:
  - create: { id: img-1, type: media-image, x: 1, y: 2 }
expect:
  - element: img-1
    fields: { x: 5 }
  - element: img-2
  - absent: img-1
  - collection: videos
    count: 1
  - collection: widgets
    count: 0
  - stored_ops: 2
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "img-1.x: got 1, want 5")
	assert.Contains(t, result.Errors[1], "element img-2 not found")
	assert.Contains(t, result.Errors[2], "element img-1 exists")
	assert.Contains(t, result.Errors[3], "collection videos has 0 element(s), want 1")
	assert.Contains(t, result.Errors[4], `unknown collection "widgets"`)
	assert.Contains(t, result.Errors[5], "op log has 1 entr(ies), want 2")
}

func TestRun_DeleteUndoRestacksOnTop(t *testing.T) {
	scenario := mustParse(t, `
name: delete_undo
description: d
steps:
  - batch:
      - { id: a, type: media-image, x: 0, y: 0 }
      - { id: b, type: media-image, x: 10, y: 0 }
      - { id: c, type: media-image, x: 20, y: 0 }
  - delete: [b]
  - undo: true
expect:
  - collection: images
    count: 3
  - order: [a, c, b]
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]int{"images": 2}, result.Trace[1].Counts)
}

func TestRun_CleanReopenHydratesWithoutReplay(t *testing.T) {
	scenario := mustParse(t, `
name: clean_reopen
description: d
steps:
  - create: { id: img-1, type: media-image, x: 0, y: 0 }
  - move: { id: img-1, dx: 2, dy: 2 }
  - reopen: {}
    outcome: hydrated
expect:
  - element: img-1
    fields: { x: 2, y: 2 }
  - can_undo: false
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	reopen := result.Trace[2]
	assert.Equal(t, int64(2), reopen.Seq)
	assert.Zero(t, reopen.Replayed)
}

func TestRun_ReopenWithoutSnapshotReplaysEverything(t *testing.T) {
	scenario := mustParse(t, `
name: abandon_early
description: d
steps:
  - create: { id: img-1, type: media-image, x: 0, y: 0 }
  - move: { id: img-1, dx: 1, dy: 0 }
  - reopen: { abandon: true }
    outcome: empty
expect:
  - element: img-1
    fields: { x: 1 }
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 2, result.Trace[2].Replayed)
}

func TestRun_RealtimeOverlaysAreNotDurable(t *testing.T) {
	scenario := mustParse(t, `
name: overlay
description: d
steps:
  - realtime:
      type: generator.create
      element: { id: gen-1, type: generator-image, x: 0, y: 0, meta: { status: pending } }
    outcome: applied
  - realtime:
      type: media.create
      element: { id: gen-2, type: generator-image, x: 0, y: 0 }
    outcome: rejected
  - undo: true
    outcome: noop
expect:
  - collection: generators
    count: 1
  - stored_ops: 0
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"gen-1"}, result.Trace[0].Targets)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/move_undo_redo.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Final, second.Final)
}
