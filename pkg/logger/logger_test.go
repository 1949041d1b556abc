package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestInitWritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "leadflow.log")
	if err := Init("info", "json", path); err != nil {
		t.Fatal(err)
	}

	Debug("hidden at info")
	Info("Lead inserted", zap.String("place_id", "p1"))
	Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("entries = %v", entries)
	}
	e := entries[0]
	if e["message"] != "Lead inserted" || e["place_id"] != "p1" || e["service"] != "leadflow" || e["level"] != "info" {
		t.Errorf("entry = %v", e)
	}
	if _, ok := e["timestamp"]; !ok {
		t.Errorf("entry has no timestamp: %v", e)
	}
}

func TestSetLevelOverridesRunningLogger(t *testing.T) {
	prev := Log
	t.Cleanup(func() {
		Log = prev
		_ = SetLevel("info")
	})

	path := filepath.Join(t.TempDir(), "leadflow.log")
	if err := Init("warn", "json", path); err != nil {
		t.Fatal(err)
	}
	Info("dropped")
	if err := SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	Debug("kept")
	Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 || entries[0]["message"] != "kept" {
		t.Errorf("entries = %v", entries)
	}
}

func TestInitRejectsBadSettings(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	if err := Init("loud", "json", "stdout"); err == nil {
		t.Error("unknown level accepted")
	}
	if err := Init("info", "json", filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("unwritable path accepted")
	}
}
