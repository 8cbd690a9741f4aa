// Package datasync implements the sync strategies and the orchestrator
// that mirror ReportPortal entities into the document store.
package datasync

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
)

// Mode selects the sync policy.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode converts a string to a Mode, rejecting unknown values.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull:
		return ModeFull, nil
	case ModeIncremental:
		return ModeIncremental, nil
	}
	return "", fmt.Errorf("unknown sync mode: %q (expected full or incremental)", s)
}

// IDFunc derives the stable document id of a record.
type IDFunc func(entity.Record) string

type strategyVariant int

const (
	variantFull strategyVariant = iota
	variantIncremental
	variantSmart
)

// Default priority sets for the smart strategy.
var (
	defaultPriorityStatuses   = []string{"FAILED", "BROKEN"}
	defaultPriorityIssueTypes = []string{"pb001", "ab001", "si001"}
)

// Strategy decides which candidate records to persist and whether
// records missing from a pull should be purged. The three policies are
// a closed set selected at construction:
//
//   - Full keeps everything and authorizes deletion of missing records.
//   - Incremental keeps records that are new or modified after the
//     cutoff; strictly additive.
//   - Smart extends Incremental with priority records (failed/broken
//     statuses, flagged issue types, parents with nested failures).
type Strategy struct {
	variant            strategyVariant
	cutoff             time.Time
	priorityStatuses   map[string]struct{}
	priorityIssueTypes map[string]struct{}
	logger             log.Logger
}

// NewFull creates the full-sync strategy: keep all candidates, purge
// missing records.
func NewFull(logger log.Logger) *Strategy {
	return &Strategy{variant: variantFull, logger: logger}
}

// NewIncremental creates the incremental strategy with the given
// lookback window. Records modified after now-lookback are kept.
func NewIncremental(lookback time.Duration, logger log.Logger) *Strategy {
	return &Strategy{
		variant: variantIncremental,
		cutoff:  time.Now().Add(-lookback),
		logger:  logger,
	}
}

// NewSmart creates the smart strategy: incremental plus priority
// records regardless of age.
func NewSmart(lookback time.Duration, logger log.Logger) *Strategy {
	s := NewIncremental(lookback, logger)
	s.variant = variantSmart
	s.priorityStatuses = toSet(defaultPriorityStatuses)
	s.priorityIssueTypes = toSet(defaultPriorityIssueTypes)
	return s
}

// Name returns the strategy name for logging.
func (s *Strategy) Name() string {
	switch s.variant {
	case variantFull:
		return "full"
	case variantIncremental:
		return "incremental"
	default:
		return "smart"
	}
}

// DeleteMissing reports whether records absent from the new pull are
// candidates for deletion. Only the full strategy mirrors
// authoritatively.
func (s *Strategy) DeleteMissing() bool {
	return s.variant == variantFull
}

// Cutoff returns the recency cutoff, zero for the full strategy.
func (s *Strategy) Cutoff() time.Time {
	return s.cutoff
}

// Filter returns the candidates to persist. existing holds the
// document ids already in storage; idFn derives a candidate's id.
func (s *Strategy) Filter(candidates []entity.Record, existing map[string]struct{}, idFn IDFunc) []entity.Record {
	if s.variant == variantFull {
		return candidates
	}

	kept := make([]entity.Record, 0, len(candidates))
	for _, rec := range candidates {
		if s.keepIncremental(rec, existing, idFn) {
			kept = append(kept, rec)
			continue
		}
		if s.variant == variantSmart && s.isPriority(rec) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// keepIncremental applies the incremental rule: new records are always
// kept; previously-seen records are kept when modified after the
// cutoff. A missing or unparsable timestamp keeps the record, recency
// cannot be disproven.
func (s *Strategy) keepIncremental(rec entity.Record, existing map[string]struct{}, idFn IDFunc) bool {
	if _, seen := existing[idFn(rec)]; !seen {
		return true
	}

	raw, ok := rec["lastModified"]
	if !ok || raw == nil {
		s.logger.Debug("record has no modification timestamp, keeping", "id", idFn(rec))
		return true
	}
	modified, ok := parseInstant(raw)
	if !ok {
		s.logger.Debug("unparsable modification timestamp, keeping",
			"id", idFn(rec), "value", fmt.Sprintf("%v", raw))
		return true
	}
	return modified.After(s.cutoff)
}

// isPriority reports whether a record matches the smart strategy's
// priority sets.
func (s *Strategy) isPriority(rec entity.Record) bool {
	if _, ok := s.priorityStatuses[rec.Field("status")]; ok {
		return true
	}
	if issue := rec.Map("issue"); issue != nil {
		if _, ok := s.priorityIssueTypes[issue.Field("issueType")]; ok {
			return true
		}
	}
	if rec.Bool("hasChildren") {
		if stats := rec.Map("statistics"); stats != nil {
			if exec := stats.Map("executions"); exec != nil && exec.Float("failed") > 0 {
				return true
			}
		}
	}
	return false
}

// parseInstant parses the timestamp formats the upstream API emits:
// numeric epoch milliseconds (number or digit string), ISO-8601
// strings, and already-structured instants.
func parseInstant(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case float64:
		return time.UnixMilli(int64(t)), true
	case int:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case string:
		return parseInstantString(t)
	}
	return time.Time{}, false
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseInstantString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if allDigits(s) {
		var ms int64
		for _, r := range s {
			ms = ms*10 + int64(r-'0')
		}
		return time.UnixMilli(ms), true
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
