package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
	assert.Equal(t, "ERROR", ERROR.String())
}

func TestComponentLoggerIsCached(t *testing.T) {
	a := GetComponentLogger("test-component")
	b := GetComponentLogger("test-component")
	assert.Same(t, a, b)
	assert.Contains(t, GetLoggerManager().ListComponents(), "test-component")
}

func TestInitWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	cfg := DefaultConfig()
	cfg.Console = false
	cfg.File = path
	require.NoError(t, Init(cfg))

	logger := GetComponentLogger("file-test")
	logger.Info("chunk %s ready", "0:0:0")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunk 0:0:0 ready")
	assert.Contains(t, string(data), "file-test")

	// Restore console logging for the rest of the package tests.
	require.NoError(t, Init(DefaultConfig()))
}

func TestHexDumpTruncates(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	dump := HexDump(make([]byte, 1024))
	assert.Less(t, len(dump), 1024*4)
}
