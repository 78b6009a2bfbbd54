package metrics

import (
	"encoding/csv"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCountRequest(t *testing.T) {
	t.Chdir(t.TempDir())

	now := time.Now()
	CountRequest(zerolog.Nop(), now, "AddExecutor", "ok")
	CountRequest(zerolog.Nop(), now, "Bogus", "invalid")

	records := readCSV(t, DefaultMetricsFileIn)
	if len(records) != 2 {
		t.Fatalf("metrics file has %d records, want 2", len(records))
	}
	if records[0][1] != "AddExecutor" || records[0][2] != "ok" {
		t.Errorf("first record = %v, want AddExecutor/ok", records[0])
	}
	if records[1][1] != "Bogus" || records[1][2] != "invalid" {
		t.Errorf("second record = %v, want Bogus/invalid", records[1])
	}
}

func TestCountCall(t *testing.T) {
	t.Chdir(t.TempDir())

	now := time.Now()
	CountCall(now, "SpawnQuery", nil)
	CountCall(now, "SpawnQuery", errors.New("executor gone"))

	records := readCSV(t, DefaultMetricsFileOut)
	if len(records) != 2 {
		t.Fatalf("metrics file has %d records, want 2", len(records))
	}
	if records[0][2] != "" {
		t.Errorf("successful call error column = %q, want empty", records[0][2])
	}
	if records[1][2] != "executor gone" {
		t.Errorf("failed call error column = %q, want %q", records[1][2], "executor gone")
	}
}

func readCSV(t *testing.T, filename string) [][]string {
	t.Helper()

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("failed to open metrics file: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to read metrics file: %v", err)
	}
	return records
}
