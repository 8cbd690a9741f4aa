package datasync

import (
	"strconv"
	"testing"
	"time"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
)

func idByField(rec entity.Record) string {
	return rec.Field("id")
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("full"); err != nil || m != ModeFull {
		t.Errorf("ParseMode(full) = %v, %v", m, err)
	}
	if m, err := ParseMode("incremental"); err != nil || m != ModeIncremental {
		t.Errorf("ParseMode(incremental) = %v, %v", m, err)
	}
	if _, err := ParseMode("smart"); err == nil {
		t.Error("ParseMode(smart): expected error")
	}
}

func TestFullStrategy(t *testing.T) {
	s := NewFull(log.NewNop())

	records := []entity.Record{
		{"id": "1", "lastModified": "0"},
		{"id": "2"},
		{"id": "3", "status": "PASSED"},
	}
	existing := map[string]struct{}{"1": {}, "2": {}, "3": {}}

	kept := s.Filter(records, existing, idByField)
	if len(kept) != len(records) {
		t.Errorf("full strategy kept %d of %d", len(kept), len(records))
	}
	if !s.DeleteMissing() {
		t.Error("full strategy must delete missing records")
	}
	if !s.Cutoff().IsZero() {
		t.Error("full strategy has no cutoff")
	}
}

func TestIncrementalStrategy(t *testing.T) {
	s := NewIncremental(7*24*time.Hour, log.NewNop())
	if s.DeleteMissing() {
		t.Error("incremental strategy must never delete missing records")
	}

	recentMs := strconv.FormatInt(time.Now().Add(-time.Hour).UnixMilli(), 10)
	oldMs := strconv.FormatInt(time.Now().Add(-30*24*time.Hour).UnixMilli(), 10)

	tests := []struct {
		name     string
		rec      entity.Record
		existing bool
		want     bool
	}{
		{"new record, ancient timestamp", entity.Record{"id": "a", "lastModified": oldMs}, false, true},
		{"existing, old", entity.Record{"id": "b", "lastModified": oldMs}, true, false},
		{"existing, recent", entity.Record{"id": "c", "lastModified": recentMs}, true, true},
		{"existing, recent ISO", entity.Record{"id": "d", "lastModified": time.Now().UTC().Format(time.RFC3339)}, true, true},
		{"existing, no timestamp", entity.Record{"id": "e"}, true, true},
		{"existing, unparsable timestamp", entity.Record{"id": "f", "lastModified": "not a date"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := map[string]struct{}{}
			if tt.existing {
				existing[tt.rec.Field("id")] = struct{}{}
			}
			kept := s.Filter([]entity.Record{tt.rec}, existing, idByField)
			if got := len(kept) == 1; got != tt.want {
				t.Errorf("kept = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSmartStrategy(t *testing.T) {
	s := NewSmart(7*24*time.Hour, log.NewNop())
	if s.DeleteMissing() {
		t.Error("smart strategy must never delete missing records")
	}

	oldMs := strconv.FormatInt(time.Now().Add(-30*24*time.Hour).UnixMilli(), 10)

	tests := []struct {
		name string
		rec  entity.Record
		want bool
	}{
		{"old failed record", entity.Record{"id": "1", "lastModified": oldMs, "status": "FAILED"}, true},
		{"old broken record", entity.Record{"id": "2", "lastModified": oldMs, "status": "BROKEN"}, true},
		{"old passed record", entity.Record{"id": "3", "lastModified": oldMs, "status": "PASSED"}, false},
		{"old flagged issue type", entity.Record{
			"id": "4", "lastModified": oldMs, "status": "PASSED",
			"issue": map[string]any{"issueType": "pb001"},
		}, true},
		{"old parent with nested failures", entity.Record{
			"id": "5", "lastModified": oldMs, "status": "PASSED",
			"hasChildren": true,
			"statistics":  map[string]any{"executions": map[string]any{"failed": float64(2)}},
		}, true},
		{"old parent without failures", entity.Record{
			"id": "6", "lastModified": oldMs, "status": "PASSED",
			"hasChildren": true,
			"statistics":  map[string]any{"executions": map[string]any{"failed": float64(0)}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := map[string]struct{}{tt.rec.Field("id"): {}}
			kept := s.Filter([]entity.Record{tt.rec}, existing, idByField)
			if got := len(kept) == 1; got != tt.want {
				t.Errorf("kept = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseInstant(t *testing.T) {
	want := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  time.Time
		ok    bool
	}{
		{"epoch ms string", strconv.FormatInt(want.UnixMilli(), 10), want, true},
		{"epoch ms number", float64(want.UnixMilli()), want, true},
		{"ISO with Z", "2025-03-14T09:26:53Z", want, true},
		{"ISO without zone", "2025-03-14T09:26:53", want, true},
		{"structured instant", want, want, true},
		{"garbage", "three days ago", time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"nil-ish type", []string{"x"}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseInstant(tt.value)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("parsed %v, want %v", got, tt.want)
			}
		})
	}
}
