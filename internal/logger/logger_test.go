package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func reset() {
	SetVerbose(false)
	SetOutput(os.Stderr)
}

func TestDebugSilentByDefault(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("hidden %d", 1)
	Info("hidden")
	Warn("hidden")
	Section("hidden")

	assert.Empty(t, buf.String())
}

func TestVerboseOutput(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Debug("chunks: %d", 4)
	Info("done")
	Warn("slow")
	Section("Ingestion")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] chunks: 4")
	assert.Contains(t, out, "[INFO] done")
	assert.Contains(t, out, "[WARN] slow")
	assert.Contains(t, out, "=== Ingestion ===")
}

func TestIsVerbose(t *testing.T) {
	defer reset()

	assert.False(t, IsVerbose())
	SetVerbose(true)
	assert.True(t, IsVerbose())
}
