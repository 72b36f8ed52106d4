package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_ExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 0, run([]string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "process")

	stdout.Reset()
	stderr.Reset()
	code := run([]string{"validate", filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "conditions: E005")

	stderr.Reset()
	assert.Equal(t, 1, run([]string{"nope"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown command")
}
