package datasync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
	"github.com/rpinsight/rpinsight/internal/reportportal"
	"github.com/rpinsight/rpinsight/internal/store"
)

// fakeAPI serves a small in-memory ReportPortal.
type fakeAPI struct {
	projects   []entity.Record
	users      []entity.Record
	launches   map[string][]entity.Record // by project
	items      map[string][]entity.Record // by launch id
	logs       map[string][]entity.Record // by item id
	filters    map[string][]entity.Record // by project
	dashboards map[string][]entity.Record // by project
	widgets    map[string]entity.Record   // by widget id

	projectsErr error
	logsErr     error

	lastLaunchFilters map[string]string
}

func pageOf(items []entity.Record, req reportportal.PageRequest) *reportportal.Page {
	start := min(req.Number*req.Size, len(items))
	end := min(start+req.Size, len(items))
	return &reportportal.Page{
		Items:  items[start:end],
		Total:  len(items),
		Number: req.Number,
		Size:   req.Size,
	}
}

func (f *fakeAPI) Projects(_ context.Context, req reportportal.PageRequest) (*reportportal.Page, error) {
	if f.projectsErr != nil {
		return nil, f.projectsErr
	}
	return pageOf(f.projects, req), nil
}

func (f *fakeAPI) Users(_ context.Context, req reportportal.PageRequest) (*reportportal.Page, error) {
	return pageOf(f.users, req), nil
}

func (f *fakeAPI) Launches(_ context.Context, project string, req reportportal.PageRequest, filters map[string]string) (*reportportal.Page, error) {
	f.lastLaunchFilters = filters
	return pageOf(f.launches[project], req), nil
}

func (f *fakeAPI) TestItems(_ context.Context, _, launchID string, req reportportal.PageRequest) (*reportportal.Page, error) {
	return pageOf(f.items[launchID], req), nil
}

func (f *fakeAPI) Logs(_ context.Context, _, itemID string, req reportportal.PageRequest) (*reportportal.Page, error) {
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return pageOf(f.logs[itemID], req), nil
}

func (f *fakeAPI) Filters(_ context.Context, project string, req reportportal.PageRequest) (*reportportal.Page, error) {
	return pageOf(f.filters[project], req), nil
}

func (f *fakeAPI) Dashboards(_ context.Context, project string, req reportportal.PageRequest) (*reportportal.Page, error) {
	return pageOf(f.dashboards[project], req), nil
}

func (f *fakeAPI) Widget(_ context.Context, _, widgetID string) (entity.Record, error) {
	w, ok := f.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("widget %q not found", widgetID)
	}
	return w, nil
}

// fakeStorage records every call.
type fakeStorage struct {
	upserts  map[entity.Kind][]entity.Record
	extras   map[entity.Kind][]map[string]string
	existing map[entity.Kind]map[string]struct{}
	deleted  []entity.Kind
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		upserts:  make(map[entity.Kind][]entity.Record),
		extras:   make(map[entity.Kind][]map[string]string),
		existing: make(map[entity.Kind]map[string]struct{}),
	}
}

func (f *fakeStorage) Upsert(_ context.Context, kind entity.Kind, records []entity.Record, extra map[string]string) (int, error) {
	f.upserts[kind] = append(f.upserts[kind], records...)
	if len(records) > 0 {
		f.extras[kind] = append(f.extras[kind], extra)
	}
	return len(records), nil
}

func (f *fakeStorage) ExistingIDs(_ context.Context, kind entity.Kind) (map[string]struct{}, error) {
	set := f.existing[kind]
	if set == nil {
		set = map[string]struct{}{}
	}
	return set, nil
}

func (f *fakeStorage) DeleteKind(_ context.Context, kind entity.Kind) (int64, error) {
	f.deleted = append(f.deleted, kind)
	return int64(len(f.upserts[kind])), nil
}

func (f *fakeStorage) Statistics(_ context.Context) (*store.Statistics, error) {
	stats := &store.Statistics{ByKind: make(map[entity.Kind]int64)}
	for kind, recs := range f.upserts {
		stats.ByKind[kind] = int64(len(recs))
		stats.Total += int64(len(recs))
	}
	return stats, nil
}

func newTestAPI() *fakeAPI {
	return &fakeAPI{
		projects: []entity.Record{{
			"id":           float64(1),
			"projectName":  "demo",
			"organization": "acme",
			"internalNote": "should not survive projection",
		}},
		users: []entity.Record{{"id": float64(7), "userId": "alice"}},
		launches: map[string][]entity.Record{
			"demo": {{"id": float64(101), "name": "nightly", "status": "FAILED"}},
		},
		items: map[string][]entity.Record{
			"101": {
				{"id": float64(201), "name": "checkout test", "status": "FAILED"},
				{"id": float64(202), "name": "smoke test", "status": "PASSED"},
			},
		},
		logs: map[string][]entity.Record{
			"201": {
				{"id": float64(301), "level": "ERROR", "message": "assertion failed"},
				{"id": float64(302), "level": "INFO", "message": "starting"},
			},
		},
		filters: map[string][]entity.Record{
			"demo": {{"id": float64(401), "name": "my failures"}},
		},
		dashboards: map[string][]entity.Record{
			"demo": {{
				"id":      float64(501),
				"name":    "release board",
				"widgets": []any{map[string]any{"widgetId": float64(601)}},
			}},
		},
		widgets: map[string]entity.Record{
			"601": {"id": float64(601), "name": "failure trend"},
		},
	}
}

func newTestOrchestrator(api *fakeAPI, storage *fakeStorage) *Orchestrator {
	return NewOrchestrator(api, storage, Config{
		BatchSize:              50,
		MaxLogsPerItem:         100,
		Lookback:               7 * 24 * time.Hour,
		FullSyncEnabled:        true,
		IncrementalSyncEnabled: true,
	}, log.NewNop())
}

func TestSyncDisabledModes(t *testing.T) {
	storage := newFakeStorage()
	o := NewOrchestrator(newTestAPI(), storage, Config{
		FullSyncEnabled:        false,
		IncrementalSyncEnabled: false,
	}, log.NewNop())

	_, err := o.Sync(context.Background(), ModeFull, nil, nil)
	if !errors.Is(err, ErrFullSyncDisabled) || !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("full sync error = %v", err)
	}

	_, err = o.Sync(context.Background(), ModeIncremental, nil, nil)
	if !errors.Is(err, ErrIncrementalSyncDisabled) || !errors.Is(err, ErrSyncDisabled) {
		t.Errorf("incremental sync error = %v", err)
	}
}

func TestFullSync(t *testing.T) {
	api := newTestAPI()
	storage := newFakeStorage()
	o := newTestOrchestrator(api, storage)

	result, err := o.Sync(context.Background(), ModeFull, nil, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	wantCounts := map[entity.Kind]int{
		entity.KindProject:   1,
		entity.KindUser:      1,
		entity.KindLaunch:    1,
		entity.KindTestItem:  2,
		entity.KindLog:       1, // INFO entry filtered out
		entity.KindFilter:    1,
		entity.KindDashboard: 1,
	}
	for kind, want := range wantCounts {
		if got := result.Counts[kind]; got != want {
			t.Errorf("count[%s] = %d, want %d", kind, got, want)
		}
	}

	// Full sync purges every requested kind first
	if len(storage.deleted) != len(entity.AllKinds()) {
		t.Errorf("deleted %d kinds, want all %d", len(storage.deleted), len(entity.AllKinds()))
	}

	// Projects are stored as a stable projection
	project := storage.upserts[entity.KindProject][0]
	if _, ok := project["internalNote"]; ok {
		t.Error("project projection kept an unprojected field")
	}
	if project.Field("projectName") != "demo" {
		t.Errorf("projectName = %q", project.Field("projectName"))
	}

	// Launch metadata carries the project name
	if extra := storage.extras[entity.KindLaunch][0]; extra["project_name"] != "demo" {
		t.Errorf("launch extra = %v", extra)
	}

	// Log metadata carries the parent chain
	logExtra := storage.extras[entity.KindLog][0]
	if logExtra["item_id"] != "201" || logExtra["launch_id"] != "101" {
		t.Errorf("log extra = %v", logExtra)
	}

	// Dashboards are enriched with fetched widget details
	dash := storage.upserts[entity.KindDashboard][0]
	details, ok := dash["widget_details"].([]any)
	if !ok || len(details) != 1 {
		t.Errorf("widget_details = %v", dash["widget_details"])
	}
	// The source record from the API is never mutated
	if _, ok := api.dashboards["demo"][0]["widget_details"]; ok {
		t.Error("source dashboard record was mutated")
	}

	if result.RunID == uuid.Nil {
		t.Error("missing run id")
	}
}

func TestSyncLogFailureIsolation(t *testing.T) {
	api := newTestAPI()
	api.logsErr = errors.New("log endpoint exploded")
	storage := newFakeStorage()
	o := newTestOrchestrator(api, storage)

	result, err := o.Sync(context.Background(), ModeFull, nil, nil)
	if err != nil {
		t.Fatalf("Sync should succeed with partial data: %v", err)
	}

	var logErrors []KindError
	for _, e := range result.Errors {
		if e.Kind == entity.KindLog {
			logErrors = append(logErrors, e)
		}
	}
	if len(logErrors) != 1 {
		t.Fatalf("log errors = %v, want exactly one", result.Errors)
	}

	// Everything above the failing level still synced
	if result.Counts[entity.KindLaunch] != 1 || result.Counts[entity.KindTestItem] != 2 {
		t.Errorf("counts = %v", result.Counts)
	}
	if result.Counts[entity.KindLog] != 0 {
		t.Errorf("log count = %d, want 0", result.Counts[entity.KindLog])
	}
}

func TestSyncProjectDiscoveryFatal(t *testing.T) {
	api := newTestAPI()
	api.projectsErr = errors.New("boom")
	o := newTestOrchestrator(api, newFakeStorage())

	if _, err := o.Sync(context.Background(), ModeFull, nil, nil); err == nil {
		t.Fatal("expected project discovery failure to be fatal")
	}
}

func TestIncrementalSync(t *testing.T) {
	api := newTestAPI()
	storage := newFakeStorage()
	o := newTestOrchestrator(api, storage)

	before := time.Now().Add(-7 * 24 * time.Hour).Add(-time.Minute)
	result, err := o.Sync(context.Background(), ModeIncremental, nil, []entity.Kind{entity.KindLaunch})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Additive: nothing purged
	if len(storage.deleted) != 0 {
		t.Errorf("incremental sync deleted kinds: %v", storage.deleted)
	}

	// The upstream call carries the cutoff as a launch filter
	raw, ok := api.lastLaunchFilters["filter.gte.startTime"]
	if !ok {
		t.Fatalf("launch filters = %v, missing startTime cutoff", api.lastLaunchFilters)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("cutoff %q is not epoch millis", raw)
	}
	cutoff := time.UnixMilli(ms)
	if cutoff.Before(before) || cutoff.After(time.Now()) {
		t.Errorf("cutoff = %v, outside the lookback window", cutoff)
	}

	if result.Mode != ModeIncremental {
		t.Errorf("mode = %q", result.Mode)
	}
}

func TestSyncKindSelection(t *testing.T) {
	api := newTestAPI()
	storage := newFakeStorage()
	o := newTestOrchestrator(api, storage)

	result, err := o.Sync(context.Background(), ModeFull, nil,
		[]entity.Kind{entity.KindUser, entity.KindProject, entity.KindUser})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if result.Counts[entity.KindProject] != 1 || result.Counts[entity.KindUser] != 1 {
		t.Errorf("counts = %v", result.Counts)
	}
	if len(storage.upserts[entity.KindLaunch]) != 0 {
		t.Error("launches synced although not requested")
	}
	// Deduped: only the two requested kinds purged
	if len(storage.deleted) != 2 {
		t.Errorf("deleted = %v", storage.deleted)
	}
}

func TestNormalizeKinds(t *testing.T) {
	got := normalizeKinds([]entity.Kind{entity.KindLog, entity.KindLaunch, entity.KindLaunch})
	want := []entity.Kind{entity.KindLaunch, entity.KindLog}
	if !slices.Equal(got, want) {
		t.Errorf("normalizeKinds = %v, want %v", got, want)
	}

	if got := normalizeKinds(nil); !slices.Equal(got, entity.AllKinds()) {
		t.Errorf("normalizeKinds(nil) = %v", got)
	}
}

func TestStatus(t *testing.T) {
	api := newTestAPI()
	storage := newFakeStorage()
	o := newTestOrchestrator(api, storage)

	status, err := o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.LastSyncTime.IsZero() {
		t.Error("expected no last sync before the first run")
	}

	if _, err := o.Sync(context.Background(), ModeFull, nil, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	status, err = o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LastSyncTime.IsZero() || status.LastMode != ModeFull {
		t.Errorf("status = %+v", status)
	}
	if status.Storage.Total == 0 {
		t.Error("expected storage statistics after sync")
	}
}
