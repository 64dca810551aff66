package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RayYangTW/pdca/internal/config"
	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/storage/sqlite"
)

func TestFindRunSocket(t *testing.T) {
	dir := t.TempDir()

	if _, _, err := findRunSocket(dir, ""); err == nil {
		t.Error("expected error with no sockets")
	}
	if _, _, err := findRunSocket(dir, "missing"); err == nil {
		t.Error("expected error for unknown run id")
	}

	first := filepath.Join(dir, "pdca-demo.sock")
	if err := os.WriteFile(first, nil, 0600); err != nil {
		t.Fatal(err)
	}

	path, id, err := findRunSocket(dir, "")
	if err != nil {
		t.Fatalf("findRunSocket failed: %v", err)
	}
	if path != first || id != "demo" {
		t.Errorf("got (%s, %s), want (%s, demo)", path, id, first)
	}

	if err := os.WriteFile(filepath.Join(dir, "pdca-other.sock"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := findRunSocket(dir, ""); err == nil {
		t.Error("expected error when several runs are listening")
	}

	path, id, err = findRunSocket(dir, "other")
	if err != nil {
		t.Fatalf("findRunSocket(other) failed: %v", err)
	}
	if id != "other" || filepath.Base(path) != "pdca-other.sock" {
		t.Errorf("got (%s, %s)", path, id)
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		line        string
		wantApprove bool
		wantOK      bool
	}{
		{"y", true, true},
		{" YES ", true, true},
		{"n", false, true},
		{"no", false, true},
		{"", false, true},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		approve, ok := parseAnswer(tt.line)
		if approve != tt.wantApprove || ok != tt.wantOK {
			t.Errorf("parseAnswer(%q) = (%v, %v), want (%v, %v)", tt.line, approve, ok, tt.wantApprove, tt.wantOK)
		}
	}
}

func TestValidateQualities(t *testing.T) {
	tests := []struct {
		name      string
		qualities []float64
		wantErr   bool
	}{
		{"valid", []float64{0, 0.5, 1}, false},
		{"empty", nil, true},
		{"above one", []float64{0.5, 1.2}, true},
		{"negative", []float64{-0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateQualities(tt.qualities)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateQualities() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadEstimateInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("from file"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{"from arg"}, want: "from arg"},
		{name: "file", file: path, want: "from file"},
		{name: "stdin", stdin: "from stdin", want: "from stdin"},
		{name: "both", args: []string{"x"}, file: path, wantErr: true},
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readEstimateInput(tt.args, tt.file, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintEstimate(t *testing.T) {
	reg, err := loadRegistry()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printEstimate(&buf, "local", 2000, 1000, "claude-3-5-sonnet", reg); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "0.021000 USD") {
		t.Errorf("unexpected estimate output:\n%s", buf.String())
	}

	if err := printEstimate(&buf, "local", 1, 1, "mystery", reg); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestRunCleanup(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	old := events.NewSimpleEvent(events.EventTypeBudgetWarning, "r", events.SeverityWarning, "old")
	old.Timestamp = time.Now().AddDate(0, 0, -45)
	recent := events.NewSimpleEvent(events.EventTypeBudgetWarning, "r", events.SeverityWarning, "recent")
	for _, e := range []*events.Event{old, recent} {
		if err := store.StoreEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	retention := config.DefaultEventRetentionConfig()

	var buf bytes.Buffer
	if err := runCleanup(ctx, &buf, store, retention, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Dry run complete") {
		t.Errorf("dry run output: %s", buf.String())
	}
	counts, err := store.GetEventCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.TotalEvents != 2 {
		t.Errorf("dry run deleted events: %d left", counts.TotalEvents)
	}

	buf.Reset()
	if err := runCleanup(ctx, &buf, store, retention, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Events remaining: 1") {
		t.Errorf("cleanup output: %s", buf.String())
	}
}

func TestEncodeReport(t *testing.T) {
	runs := []sqlite.RunSummary{{RunID: "r1", Iterations: 2, TotalUnits: 300}}

	var buf bytes.Buffer
	if err := encodeReport(&buf, "json", runs); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"run_id": "r1"`) {
		t.Errorf("json report: %s", buf.String())
	}

	buf.Reset()
	if err := encodeReport(&buf, "yaml", runs); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "run_id: r1") {
		t.Errorf("yaml report: %s", buf.String())
	}

	if err := encodeReport(&buf, "xml", runs); err == nil {
		t.Error("expected error for unsupported format")
	}

	buf.Reset()
	printRuns(&buf, nil)
	if !strings.Contains(buf.String(), "No runs recorded") {
		t.Errorf("empty run list: %s", buf.String())
	}
}
