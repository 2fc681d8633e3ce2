package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/canvasync/internal/value"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	Scenario string         `json:"scenario"`
	Project  string         `json:"project"`
	Trace    []TraceEvent   `json:"trace"`
	Final    []FinalElement `json:"final"`
}

// NewTraceSnapshot captures a scenario run for golden comparison.
func NewTraceSnapshot(scenario *Scenario, result *Result) TraceSnapshot {
	project := scenario.Project
	if project == "" {
		project = DefaultProject
	}
	return TraceSnapshot{
		Scenario: scenario.Name,
		Project:  project,
		Trace:    result.Trace,
		Final:    result.Final,
	}
}

// Encode returns the snapshot as canonical JSON.
func (s TraceSnapshot) Encode() ([]byte, error) {
	if s.Trace == nil {
		s.Trace = []TraceEvent{}
	}
	if s.Final == nil {
		s.Final = []FinalElement{}
	}
	return value.Canonical(s)
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, assertGolden(t, scenario, result)
}

func assertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	traceJSON, err := NewTraceSnapshot(scenario, result).Encode()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
