// Package entity defines the record categories synced from ReportPortal
// and the loosely typed record structure they arrive in.
package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies one of the seven record categories.
type Kind string

const (
	KindProject   Kind = "project"
	KindUser      Kind = "user"
	KindLaunch    Kind = "launch"
	KindTestItem  Kind = "test_item"
	KindLog       Kind = "log"
	KindFilter    Kind = "filter"
	KindDashboard Kind = "dashboard"
)

// AllKinds returns every entity kind in sync processing order.
// Projects and users are global, launches carry the nested item/log
// hierarchy, filters and dashboards are per-project extras.
func AllKinds() []Kind {
	return []Kind{
		KindProject,
		KindUser,
		KindLaunch,
		KindTestItem,
		KindLog,
		KindFilter,
		KindDashboard,
	}
}

// ParseKind converts a string to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindProject, KindUser, KindLaunch, KindTestItem, KindLog, KindFilter, KindDashboard:
		return k, nil
	}
	return "", fmt.Errorf("unknown entity kind: %q", s)
}

// Record is a raw API record: an opaque key/value structure whose
// shape varies by kind. Records are read-only once fetched.
type Record map[string]any

// Field returns the value under key rendered as a string.
// Numeric JSON values are formatted without a decimal point when
// integral, so identifiers survive the float64 round-trip intact.
// Missing keys and non-scalar values yield "".
func (r Record) Field(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	}
	return ""
}

// Map returns the nested record under key, or nil when absent.
func (r Record) Map(key string) Record {
	switch t := r[key].(type) {
	case map[string]any:
		return Record(t)
	case Record:
		return t
	}
	return nil
}

// List returns the nested record slice under key.
// Non-map elements are skipped.
func (r Record) List(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, el := range raw {
		if m, ok := el.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Bool returns the boolean value under key, false when absent or
// not a boolean.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Float returns the numeric value under key, 0 when absent. String
// values that parse as numbers are accepted since the upstream API is
// not consistent about number encoding.
func (r Record) Float(key string) float64 {
	switch t := r[key].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}
