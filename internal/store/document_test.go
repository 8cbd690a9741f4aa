package store

import (
	"strings"
	"testing"

	"github.com/rpinsight/rpinsight/internal/entity"
)

func TestDocumentID(t *testing.T) {
	tests := []struct {
		name string
		kind entity.Kind
		rec  entity.Record
		want string
	}{
		{"launch numeric id", entity.KindLaunch, entity.Record{"id": float64(42)}, "launch:42"},
		{"user prefers userId", entity.KindUser, entity.Record{"userId": "alice", "id": float64(7)}, "user:alice"},
		{"user falls back to id", entity.KindUser, entity.Record{"id": float64(7)}, "user:7"},
		{"project uses name", entity.KindProject, entity.Record{"projectName": "demo", "id": float64(1)}, "project:demo"},
		{"test item", entity.KindTestItem, entity.Record{"id": "abc-123"}, "test_item:abc-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DocumentID(tt.kind, tt.rec); got != tt.want {
				t.Errorf("DocumentID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDocumentIDContentHashFallback(t *testing.T) {
	rec := entity.Record{"message": "no identifier here", "level": "ERROR"}

	first := DocumentID(entity.KindLog, rec)
	second := DocumentID(entity.KindLog, entity.Record{"level": "ERROR", "message": "no identifier here"})

	if !strings.HasPrefix(first, "log:") {
		t.Errorf("id = %q, want log: prefix", first)
	}
	if first != second {
		t.Errorf("equal records hash differently: %q vs %q", first, second)
	}

	other := DocumentID(entity.KindLog, entity.Record{"message": "different"})
	if other == first {
		t.Error("distinct records produced the same id")
	}
}

func TestBuildDocumentLaunch(t *testing.T) {
	rec := entity.Record{
		"id":           float64(101),
		"name":         "nightly",
		"description":  "regression suite",
		"status":       "FAILED",
		"mode":         "DEFAULT",
		"number":       float64(57),
		"owner":        "alice",
		"lastModified": "1718000000000",
		"attributes": []any{
			map[string]any{"key": "env", "value": "staging"},
		},
	}

	doc := BuildDocument(entity.KindLaunch, rec, map[string]string{"project_name": "demo"})

	if doc.ID != "launch:101" {
		t.Errorf("id = %q", doc.ID)
	}
	for _, want := range []string{"Launch: nightly", "Description: regression suite", "Status: FAILED", "Mode: DEFAULT", "env:staging"} {
		if !strings.Contains(doc.Content, want) {
			t.Errorf("content %q missing %q", doc.Content, want)
		}
	}

	wantMD := map[string]string{
		"entity_type":   "launch",
		"entity_id":     "101",
		"launch_name":   "nightly",
		"launch_number": "57",
		"status":        "FAILED",
		"mode":          "DEFAULT",
		"owner":         "alice",
		"last_modified": "1718000000000",
		"project_name":  "demo",
	}
	for k, want := range wantMD {
		if got := doc.Metadata[k]; got != want {
			t.Errorf("metadata[%q] = %q, want %q", k, got, want)
		}
	}
}

func TestBuildDocumentTestItem(t *testing.T) {
	rec := entity.Record{
		"id":     float64(201),
		"name":   "checkout flow",
		"type":   "STEP",
		"status": "FAILED",
		"issue": map[string]any{
			"issueType": "pb001",
			"comment":   "null pointer in cart service",
		},
	}

	doc := BuildDocument(entity.KindTestItem, rec, nil)

	for _, want := range []string{"Test Item: checkout flow", "Type: STEP", "Issue Type: pb001", "Issue Comment: null pointer in cart service"} {
		if !strings.Contains(doc.Content, want) {
			t.Errorf("content %q missing %q", doc.Content, want)
		}
	}
	if doc.Metadata["item_type"] != "STEP" || doc.Metadata["status"] != "FAILED" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestBuildDocumentLog(t *testing.T) {
	doc := BuildDocument(entity.KindLog, entity.Record{
		"id":      float64(301),
		"level":   "ERROR",
		"message": "connection refused",
	}, map[string]string{"item_id": "201", "launch_id": "101"})

	if !strings.Contains(doc.Content, "Log Level: ERROR") || !strings.Contains(doc.Content, "Message: connection refused") {
		t.Errorf("content = %q", doc.Content)
	}
	if doc.Metadata["level"] != "ERROR" || doc.Metadata["item_id"] != "201" || doc.Metadata["launch_id"] != "101" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestBuildDocumentRawFallback(t *testing.T) {
	// No recognized field: the raw JSON becomes the indexed content
	doc := BuildDocument(entity.KindFilter, entity.Record{"id": float64(9), "custom": "value"}, nil)
	if !strings.Contains(doc.Content, `"custom":"value"`) {
		t.Errorf("content = %q, want raw JSON fallback", doc.Content)
	}
}
