package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	Scenario string              `json:"scenario"`
	Trace    []TraceEvent        `json:"trace"`
	Open     map[string][]string `json:"open"`
}

// Snapshot renders a result as indented JSON with a trailing newline.
// Struct fields keep declaration order and map keys are sorted, so equal
// results always render to equal bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	snap := TraceSnapshot{
		Scenario: name,
		Trace:    result.Trace,
		Open:     result.Open,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace: %w", err)
	}
	return append(data, '\n'), nil
}

// GoldenPath returns golden/<name>.golden next to a scenario file, where
// name is the scenario file's base name.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// WriteGolden writes the snapshot of result as the scenario file's golden
// file, creating the golden directory when needed.
func WriteGolden(scenarioFile string, scenario *Scenario, result *Result) error {
	data, err := Snapshot(scenario.Name, result)
	if err != nil {
		return err
	}
	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden compares result against the scenario file's golden file.
// found is false when no golden file exists.
func CompareGolden(scenarioFile string, scenario *Scenario, result *Result) (match, found bool, err error) {
	want, err := os.ReadFile(GoldenPath(scenarioFile))
	if os.IsNotExist(err) {
		return false, false, nil
	}
	if err != nil {
		return false, true, fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := Snapshot(scenario.Name, result)
	if err != nil {
		return false, true, err
	}
	return bytes.Equal(want, got), true, nil
}

// RunWithGolden loads and executes a scenario file and compares the trace
// against the same golden file the test command uses, golden/<name>.golden
// next to the scenario.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenarioFile string) (*Result, error) {
	t.Helper()

	scenario, err := LoadScenario(scenarioFile)
	if err != nil {
		return nil, err
	}
	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenarioFile, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against the scenario
// file's golden file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioFile string, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario.Name, result)
	if err != nil {
		return err
	}

	path := GoldenPath(scenarioFile)
	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Dir(path)),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, strings.TrimSuffix(filepath.Base(path), ".golden"), data)
	return nil
}
