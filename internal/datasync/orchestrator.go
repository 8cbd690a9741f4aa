package datasync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
	"github.com/rpinsight/rpinsight/internal/reportportal"
	"github.com/rpinsight/rpinsight/internal/store"
)

var (
	// ErrSyncDisabled indicates the requested mode is switched off by
	// a feature flag.
	ErrSyncDisabled = errors.New("sync mode disabled by configuration")

	// ErrFullSyncDisabled indicates full sync is switched off.
	ErrFullSyncDisabled = fmt.Errorf("%w: full", ErrSyncDisabled)

	// ErrIncrementalSyncDisabled indicates incremental sync is switched off.
	ErrIncrementalSyncDisabled = fmt.Errorf("%w: incremental", ErrSyncDisabled)
)

// API is the upstream collaborator the orchestrator fetches from.
type API interface {
	Projects(ctx context.Context, page reportportal.PageRequest) (*reportportal.Page, error)
	Users(ctx context.Context, page reportportal.PageRequest) (*reportportal.Page, error)
	Launches(ctx context.Context, project string, page reportportal.PageRequest, filters map[string]string) (*reportportal.Page, error)
	TestItems(ctx context.Context, project, launchID string, page reportportal.PageRequest) (*reportportal.Page, error)
	Logs(ctx context.Context, project, itemID string, page reportportal.PageRequest) (*reportportal.Page, error)
	Filters(ctx context.Context, project string, page reportportal.PageRequest) (*reportportal.Page, error)
	Dashboards(ctx context.Context, project string, page reportportal.PageRequest) (*reportportal.Page, error)
	Widget(ctx context.Context, project, widgetID string) (entity.Record, error)
}

// Storage is the document store collaborator.
type Storage interface {
	Upsert(ctx context.Context, kind entity.Kind, records []entity.Record, extra map[string]string) (int, error)
	ExistingIDs(ctx context.Context, kind entity.Kind) (map[string]struct{}, error)
	DeleteKind(ctx context.Context, kind entity.Kind) (int64, error)
	Statistics(ctx context.Context) (*store.Statistics, error)
}

// Config tunes one orchestrator instance.
type Config struct {
	BatchSize              int           // page size for all list fetches
	MaxLogsPerItem         int           // cap on log entries fetched per test item
	Lookback               time.Duration // incremental recency window
	FullSyncEnabled        bool
	IncrementalSyncEnabled bool
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxLogsPerItem <= 0 {
		c.MaxLogsPerItem = 100
	}
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
}

// KindError records one caught per-kind failure.
type KindError struct {
	Kind    entity.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Result aggregates one sync run.
type Result struct {
	RunID     uuid.UUID           `json:"run_id"`
	Mode      Mode                `json:"mode"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Counts    map[entity.Kind]int `json:"counts"`
	Errors    []KindError         `json:"errors,omitempty"`
}

// Status reports storage statistics plus the last run's summary.
type Status struct {
	Storage      *store.Statistics `json:"storage"`
	LastSyncTime time.Time         `json:"last_sync_time,omitzero"`
	LastMode     Mode              `json:"last_mode,omitempty"`
}

// Orchestrator drives sync runs: entity kind traversal, the
// launch→item→log hierarchy, strategy filtering, and per-kind error
// isolation. Safe for concurrent use; runs themselves are sequential.
type Orchestrator struct {
	api     API
	storage Storage
	cfg     Config
	logger  log.Logger

	mu   sync.Mutex
	last *Result
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(api API, storage Storage, cfg Config, logger log.Logger) *Orchestrator {
	cfg.normalize()
	return &Orchestrator{
		api:     api,
		storage: storage,
		cfg:     cfg,
		logger:  logger,
	}
}

// Sync runs one sync pass. Empty projects means all discovered
// projects; empty kinds means all seven. A failure while syncing one
// kind is recorded in the result and does not abort the others;
// project discovery failures are fatal.
func (o *Orchestrator) Sync(ctx context.Context, mode Mode, projects []string, kinds []entity.Kind) (*Result, error) {
	switch mode {
	case ModeFull:
		if !o.cfg.FullSyncEnabled {
			return nil, ErrFullSyncDisabled
		}
	case ModeIncremental:
		if !o.cfg.IncrementalSyncEnabled {
			return nil, ErrIncrementalSyncDisabled
		}
	default:
		return nil, fmt.Errorf("unknown sync mode: %q", mode)
	}

	var strategy *Strategy
	if mode == ModeFull {
		strategy = NewFull(o.logger)
	} else {
		// Incremental runs use the priority-aware strategy so failed
		// and broken records are never aged out of the window.
		strategy = NewSmart(o.cfg.Lookback, o.logger)
	}

	kinds = normalizeKinds(kinds)

	// Project discovery: needed for per-project kinds and for the
	// project kind itself. Fatal on failure.
	projectRecords, err := o.fetchAllProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering projects: %w", err)
	}
	if len(projects) == 0 {
		for _, rec := range projectRecords {
			if name := rec.Field("projectName"); name != "" {
				projects = append(projects, name)
			}
		}
	} else {
		projectRecords = restrictProjects(projectRecords, projects)
	}

	result := &Result{
		RunID:     uuid.New(),
		Mode:      mode,
		StartedAt: time.Now(),
		Counts:    make(map[entity.Kind]int, len(kinds)),
	}

	run := &syncRun{
		o:        o,
		strategy: strategy,
		result:   result,
		existing: make(map[entity.Kind]map[string]struct{}),
	}
	if mode == ModeIncremental {
		run.launchFilters = map[string]string{
			"filter.gte.startTime": strconv.FormatInt(strategy.Cutoff().UnixMilli(), 10),
		}
	}

	o.logger.Info("starting sync",
		"run_id", result.RunID,
		"mode", mode,
		"strategy", strategy.Name(),
		"projects", len(projects),
		"kinds", len(kinds))

	// An authoritative mirror purges each requested kind before
	// repopulating it.
	if strategy.DeleteMissing() {
		for _, kind := range kinds {
			if _, err := o.storage.DeleteKind(ctx, kind); err != nil {
				run.recordError(kind, fmt.Errorf("purging before full sync: %w", err))
			}
		}
	}

	for _, kind := range kinds {
		var err error
		switch kind {
		case entity.KindProject:
			err = run.syncProjects(ctx, projectRecords)
		case entity.KindUser:
			err = run.syncUsers(ctx)
		case entity.KindLaunch:
			run.syncLaunchTree(ctx, projects)
		case entity.KindTestItem, entity.KindLog:
			// Synced as part of the launch hierarchy
			o.logger.Debug("kind is synced within the launch hierarchy", "kind", kind)
		case entity.KindFilter:
			err = run.syncFilters(ctx, projects)
		case entity.KindDashboard:
			err = run.syncDashboards(ctx, projects)
		}
		if err != nil {
			run.recordError(kind, err)
		}
	}

	result.Duration = time.Since(result.StartedAt)

	o.mu.Lock()
	o.last = result
	o.mu.Unlock()

	o.logger.Info("sync completed",
		"run_id", result.RunID,
		"duration", result.Duration,
		"counts", result.Counts,
		"errors", len(result.Errors))
	return result, nil
}

// Status returns storage statistics and the last run's summary.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	stats, err := o.storage.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading storage statistics: %w", err)
	}

	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	st := &Status{Storage: stats}
	if last != nil {
		st.LastSyncTime = last.StartedAt
		st.LastMode = last.Mode
	}
	return st, nil
}

// normalizeKinds dedupes the requested kinds and orders them
// canonically; empty means all.
func normalizeKinds(kinds []entity.Kind) []entity.Kind {
	if len(kinds) == 0 {
		return entity.AllKinds()
	}
	requested := make(map[entity.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		requested[k] = struct{}{}
	}
	out := make([]entity.Kind, 0, len(requested))
	for _, k := range entity.AllKinds() {
		if _, ok := requested[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func restrictProjects(records []entity.Record, names []string) []entity.Record {
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	out := make([]entity.Record, 0, len(names))
	for _, rec := range records {
		if _, ok := wanted[rec.Field("projectName")]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (o *Orchestrator) fetchAllProjects(ctx context.Context) ([]entity.Record, error) {
	var records []entity.Record
	err := o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
		return o.api.Projects(ctx, page)
	}, func(p *reportportal.Page) error {
		records = append(records, p.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// paginate drives the shared page loop: fetch page p, process it,
// stop when the response reports no further pages.
func (o *Orchestrator) paginate(fetch func(reportportal.PageRequest) (*reportportal.Page, error), handle func(*reportportal.Page) error) error {
	for number := 0; ; number++ {
		page, err := fetch(reportportal.PageRequest{Number: number, Size: o.cfg.BatchSize})
		if err != nil {
			return err
		}
		if err := handle(page); err != nil {
			return err
		}
		if !page.HasNext() {
			return nil
		}
	}
}

// workItem is one unit of the launch hierarchy traversal. The parent
// context travels as plain data so each level can be processed and
// error-isolated independently.
type workItem struct {
	kind     entity.Kind
	project  string
	launchID string
	itemID   string
}

// syncRun threads per-run state through the kind handlers.
type syncRun struct {
	o             *Orchestrator
	strategy      *Strategy
	launchFilters map[string]string
	result        *Result
	existing      map[entity.Kind]map[string]struct{}
}

func (r *syncRun) recordError(kind entity.Kind, err error) {
	r.o.logger.Error("sync failed for kind", "kind", kind, "error", err)
	r.result.Errors = append(r.result.Errors, KindError{Kind: kind, Message: err.Error()})
}

// existingFor lazily loads the stored id set for one kind, once per
// run.
func (r *syncRun) existingFor(ctx context.Context, kind entity.Kind) (map[string]struct{}, error) {
	if set, ok := r.existing[kind]; ok {
		return set, nil
	}
	set, err := r.o.storage.ExistingIDs(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("loading existing %s ids: %w", kind, err)
	}
	r.existing[kind] = set
	return set, nil
}

// keep applies the strategy to one batch.
func (r *syncRun) keep(ctx context.Context, kind entity.Kind, records []entity.Record) ([]entity.Record, error) {
	existing, err := r.existingFor(ctx, kind)
	if err != nil {
		return nil, err
	}
	idFn := func(rec entity.Record) string { return store.DocumentID(kind, rec) }
	return r.strategy.Filter(records, existing, idFn), nil
}

// upsert filters a batch through the strategy and stores the kept
// records.
func (r *syncRun) upsert(ctx context.Context, kind entity.Kind, records []entity.Record, extra map[string]string) ([]entity.Record, error) {
	kept, err := r.keep(ctx, kind, records)
	if err != nil {
		return nil, err
	}
	n, err := r.o.storage.Upsert(ctx, kind, kept, extra)
	if err != nil {
		return nil, fmt.Errorf("storing %s records: %w", kind, err)
	}
	r.result.Counts[kind] += n
	return kept, nil
}

// projectFields is the stable projection stored for project records.
var projectFields = []string{
	"id", "projectName", "organization", "creationDate",
	"entryType", "usersQuantity", "launchesQuantity",
}

func (r *syncRun) syncProjects(ctx context.Context, records []entity.Record) error {
	projected := make([]entity.Record, 0, len(records))
	for _, rec := range records {
		p := make(entity.Record, len(projectFields))
		for _, f := range projectFields {
			if v, ok := rec[f]; ok {
				p[f] = v
			}
		}
		projected = append(projected, p)
	}
	_, err := r.upsert(ctx, entity.KindProject, projected, nil)
	return err
}

func (r *syncRun) syncUsers(ctx context.Context) error {
	return r.o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
		return r.o.api.Users(ctx, page)
	}, func(p *reportportal.Page) error {
		_, err := r.upsert(ctx, entity.KindUser, p.Items, nil)
		return err
	})
}

// syncLaunchTree walks the launch→item→log hierarchy as a flat work
// queue. Failures are recorded against the failing item's kind and
// never abort the remaining queue.
func (r *syncRun) syncLaunchTree(ctx context.Context, projects []string) {
	queue := make([]workItem, 0, len(projects))
	for _, p := range projects {
		queue = append(queue, workItem{kind: entity.KindLaunch, project: p})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		children, err := r.process(ctx, item)
		if err != nil {
			r.recordError(item.kind, err)
			continue
		}
		queue = append(queue, children...)
	}
}

func (r *syncRun) process(ctx context.Context, item workItem) ([]workItem, error) {
	switch item.kind {
	case entity.KindLaunch:
		return r.processLaunches(ctx, item.project)
	case entity.KindTestItem:
		return r.processTestItems(ctx, item.project, item.launchID)
	case entity.KindLog:
		return nil, r.processLogs(ctx, item.project, item.launchID, item.itemID)
	}
	return nil, fmt.Errorf("unexpected work item kind: %q", item.kind)
}

func (r *syncRun) processLaunches(ctx context.Context, project string) ([]workItem, error) {
	var children []workItem
	err := r.o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
		return r.o.api.Launches(ctx, project, page, r.launchFilters)
	}, func(p *reportportal.Page) error {
		kept, err := r.upsert(ctx, entity.KindLaunch, p.Items, map[string]string{
			"project_name": project,
		})
		if err != nil {
			return err
		}
		for _, launch := range kept {
			if id := launch.Field("id"); id != "" {
				children = append(children, workItem{
					kind:     entity.KindTestItem,
					project:  project,
					launchID: id,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", project, err)
	}
	return children, nil
}

func (r *syncRun) processTestItems(ctx context.Context, project, launchID string) ([]workItem, error) {
	var children []workItem
	err := r.o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
		return r.o.api.TestItems(ctx, project, launchID, page)
	}, func(p *reportportal.Page) error {
		kept, err := r.upsert(ctx, entity.KindTestItem, p.Items, map[string]string{
			"project_name": project,
			"launch_id":    launchID,
		})
		if err != nil {
			return err
		}
		// Only failed and broken items are worth their logs
		for _, item := range kept {
			status := item.Field("status")
			if status != "FAILED" && status != "BROKEN" {
				continue
			}
			if id := item.Field("id"); id != "" {
				children = append(children, workItem{
					kind:     entity.KindLog,
					project:  project,
					launchID: launchID,
					itemID:   id,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("launch %q: %w", launchID, err)
	}
	return children, nil
}

// logLevels are the retained log severities.
var logLevels = map[string]struct{}{
	"error": {},
	"warn":  {},
	"fatal": {},
}

func (r *syncRun) processLogs(ctx context.Context, project, launchID, itemID string) error {
	extra := map[string]string{
		"project_name": project,
		"launch_id":    launchID,
		"item_id":      itemID,
	}

	fetched := 0
	limit := r.o.cfg.MaxLogsPerItem
	for number := 0; fetched < limit; number++ {
		size := min(r.o.cfg.BatchSize, limit-fetched)
		page, err := r.o.api.Logs(ctx, project, itemID, reportportal.PageRequest{Number: number, Size: size})
		if err != nil {
			return fmt.Errorf("item %q: %w", itemID, err)
		}
		fetched += len(page.Items)

		relevant := make([]entity.Record, 0, len(page.Items))
		for _, rec := range page.Items {
			if _, ok := logLevels[strings.ToLower(rec.Field("level"))]; ok {
				relevant = append(relevant, rec)
			}
		}
		if _, err := r.upsert(ctx, entity.KindLog, relevant, extra); err != nil {
			return fmt.Errorf("item %q: %w", itemID, err)
		}

		if !page.HasNext() {
			break
		}
	}
	return nil
}

func (r *syncRun) syncFilters(ctx context.Context, projects []string) error {
	for _, project := range projects {
		err := r.o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
			return r.o.api.Filters(ctx, project, page)
		}, func(p *reportportal.Page) error {
			_, err := r.upsert(ctx, entity.KindFilter, p.Items, map[string]string{
				"project_name": project,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("project %q: %w", project, err)
		}
	}
	return nil
}

func (r *syncRun) syncDashboards(ctx context.Context, projects []string) error {
	for _, project := range projects {
		err := r.o.paginate(func(page reportportal.PageRequest) (*reportportal.Page, error) {
			return r.o.api.Dashboards(ctx, project, page)
		}, func(p *reportportal.Page) error {
			kept, err := r.keep(ctx, entity.KindDashboard, p.Items)
			if err != nil {
				return err
			}
			enriched := make([]entity.Record, 0, len(kept))
			for _, dash := range kept {
				enriched = append(enriched, r.enrichDashboard(ctx, project, dash))
			}
			n, err := r.o.storage.Upsert(ctx, entity.KindDashboard, enriched, map[string]string{
				"project_name": project,
			})
			if err != nil {
				return fmt.Errorf("storing dashboard records: %w", err)
			}
			r.result.Counts[entity.KindDashboard] += n
			return nil
		})
		if err != nil {
			return fmt.Errorf("project %q: %w", project, err)
		}
	}
	return nil
}

// enrichDashboard fetches each referenced widget and attaches the
// details to a copy of the dashboard record. A widget fetch failure
// drops that widget, never the dashboard.
func (r *syncRun) enrichDashboard(ctx context.Context, project string, dash entity.Record) entity.Record {
	widgets := dash.List("widgets")
	if len(widgets) == 0 {
		return dash
	}

	details := make([]any, 0, len(widgets))
	for _, w := range widgets {
		id := w.Field("widgetId")
		if id == "" {
			id = w.Field("id")
		}
		if id == "" {
			continue
		}
		detail, err := r.o.api.Widget(ctx, project, id)
		if err != nil {
			r.o.logger.Warn("widget fetch failed, omitting from dashboard",
				"project", project,
				"dashboard", dash.Field("id"),
				"widget", id,
				"error", err)
			continue
		}
		details = append(details, map[string]any(detail))
	}

	enriched := maps.Clone(dash)
	enriched["widget_details"] = details
	return enriched
}
