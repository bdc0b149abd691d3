package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var r map[string]any
		if err := json.Unmarshal(line, &r); err == nil {
			records = append(records, r)
		}
	}
	return records
}

func hasMsg(records []map[string]any, msg string) bool {
	for _, r := range records {
		if r["msg"] == msg {
			return true
		}
	}
	return false
}

func TestInitWritesJSONL(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	Logger().Info("test_message", "key", "value")

	records := readRecords(t, dir)
	require.NotEmpty(t, records)
	assert.Equal(t, "test_message", records[0]["msg"])
	assert.Equal(t, "value", records[0]["key"])
}

func TestInitNonDebugDiscards(t *testing.T) {
	Shutdown()
	Init(Config{})
	defer Shutdown()

	require.NotNil(t, Logger())
	assert.NotPanics(t, func() { Logger().Info("this goes nowhere") })
	assert.NoError(t, DumpRingBuffer(filepath.Join(t.TempDir(), "empty.jsonl")))
}

func TestForComponentBeforeInit(t *testing.T) {
	Shutdown()
	cl := ForComponent(CompWatch)

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	cl.With("pattern", "READY").Info("content_found")

	records := readRecords(t, dir)
	require.NotEmpty(t, records)
	assert.Equal(t, CompWatch, records[0]["component"])
	assert.Equal(t, "READY", records[0]["pattern"])
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("should_be_filtered")
	Logger().Warn("should_appear")

	records := readRecords(t, dir)
	assert.False(t, hasMsg(records, "should_be_filtered"))
	assert.True(t, hasMsg(records, "should_appear"))
}

func TestTextFormat(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Info("text_format_test")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=text_format_test")
}

func TestVerboseMirrorsToWriter(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	var stderr bytes.Buffer
	Init(Config{LogDir: dir, Verbose: &stderr, Level: "debug"})
	defer Shutdown()

	ForComponent(CompTmux).Debug("pane_listed", slog.Int("panes", 3))

	assert.Contains(t, stderr.String(), "msg=pane_listed")
	assert.Contains(t, stderr.String(), "component=tmux")
	assert.True(t, hasMsg(readRecords(t, dir), "pane_listed"))
}

func TestVerboseOnly(t *testing.T) {
	Shutdown()
	var stderr bytes.Buffer
	Init(Config{Verbose: &stderr})
	defer Shutdown()

	Logger().Debug("hidden")
	Logger().Info("shown")
	assert.False(t, strings.Contains(stderr.String(), "hidden"))
	assert.Contains(t, stderr.String(), "shown")
}

func TestDumpRingBuffer(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir, RingBufferSize: 4096})
	defer Shutdown()

	Logger().Info("ring_test_message")

	dumpPath := filepath.Join(dir, "crash-dump.jsonl")
	require.NoError(t, DumpRingBuffer(dumpPath))

	data, err := os.ReadFile(dumpPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ring_test_message")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
