package audit

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

func TestTrail_RecordFillsIdentityAndTimestamp(t *testing.T) {
	trail := NewTrail(10, logger.NewNop())

	recorded := trail.Record(Event{Type: EventCheck, Jurisdiction: "EU", Count: 2})
	if recorded.ID == "" {
		t.Error("Record must assign an ID")
	}
	if recorded.Timestamp.IsZero() {
		t.Error("Record must assign a timestamp")
	}
	if recorded.Timestamp.Location() != time.UTC {
		t.Error("assigned timestamp must be UTC")
	}

	// Caller-provided identity is kept.
	given := trail.Record(Event{ID: "evt-1", Type: EventScan})
	if given.ID != "evt-1" {
		t.Errorf("ID = %q, want evt-1", given.ID)
	}
}

func TestTrail_RecentNewestFirst(t *testing.T) {
	trail := NewTrail(10, logger.NewNop())
	for i := 1; i <= 3; i++ {
		trail.Record(Event{Type: EventCheck, Count: i})
	}

	recent := trail.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d events, want 3", len(recent))
	}
	for i, want := range []int{3, 2, 1} {
		if recent[i].Count != want {
			t.Errorf("recent[%d].Count = %d, want %d (newest first)", i, recent[i].Count, want)
		}
	}

	limited := trail.Recent(2)
	if len(limited) != 2 || limited[0].Count != 3 {
		t.Errorf("Recent(2) = %+v, want the 2 newest", limited)
	}
}

func TestTrail_RingOverwritesOldest(t *testing.T) {
	trail := NewTrail(3, logger.NewNop())
	for i := 1; i <= 5; i++ {
		trail.Record(Event{Type: EventCheck, Count: i})
	}

	if got := trail.Total(); got != 5 {
		t.Errorf("Total = %d, want 5 including overwritten events", got)
	}

	recent := trail.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("ring of 3 returned %d events", len(recent))
	}
	for i, want := range []int{5, 4, 3} {
		if recent[i].Count != want {
			t.Errorf("recent[%d].Count = %d, want %d", i, recent[i].Count, want)
		}
	}
}

func TestTrail_ZeroRingSizeGetsDefault(t *testing.T) {
	trail := NewTrail(0, logger.NewNop())
	trail.Record(Event{Type: EventCheck})
	if len(trail.Recent(1)) != 1 {
		t.Error("trail with defaulted ring size must still record")
	}
}

func TestExporter_WritesParquetSnapshot(t *testing.T) {
	trail := NewTrail(10, logger.NewNop())
	trail.Record(Event{Type: EventCheck, Jurisdiction: "EU", Count: 2, Detail: "violations"})
	trail.Record(Event{Type: EventScan, Count: 1})
	trail.Record(Event{Type: EventRuleLoad, Detail: "rules.json", Count: 11})

	dir := t.TempDir()
	exporter := NewExporter(trail, dir, logger.NewNop())

	path, count, err := exporter.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if count != 3 {
		t.Errorf("exported %d events, want 3", count)
	}
	if !strings.HasPrefix(path, dir) || !strings.HasSuffix(path, ".parquet") {
		t.Errorf("unexpected export path %q", path)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var rows []exportRow
	for {
		var row exportRow
		if err := reader.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("read row: %v", err)
		}
		rows = append(rows, row)
	}

	if len(rows) != 3 {
		t.Fatalf("read back %d rows, want 3", len(rows))
	}
	// Export is oldest first.
	if rows[0].Type != EventCheck || rows[0].Jurisdiction != "EU" || rows[0].Count != 2 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[2].Type != EventRuleLoad || rows[2].Detail != "rules.json" {
		t.Errorf("last row = %+v", rows[2])
	}
	for i, row := range rows {
		if row.ID == "" {
			t.Errorf("row %d missing ID", i)
		}
		if row.TimestampMS == 0 {
			t.Errorf("row %d missing timestamp", i)
		}
	}
}

func TestExporter_EmptyTrailIsNoOp(t *testing.T) {
	trail := NewTrail(10, logger.NewNop())
	dir := t.TempDir()
	exporter := NewExporter(trail, dir, logger.NewNop())

	path, count, err := exporter.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if path != "" || count != 0 {
		t.Errorf("empty trail export = (%q, %d), want no file", path, count)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("export dir has %d entries, want none", len(entries))
	}
}
