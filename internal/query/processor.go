// Package query analyzes free-text questions about test execution
// data: intent, entity types, time window, status filter, keywords,
// and prompt construction. The rules are deterministic keyword tables,
// kept intentionally simple so retrieval behavior stays predictable.
package query

import (
	"regexp"
	"strings"
	"time"

	"github.com/rpinsight/rpinsight/internal/entity"
)

// Intent is the coarse question category.
type Intent string

const (
	IntentCount      Intent = "count"
	IntentAnalysis   Intent = "analysis"
	IntentTrend      Intent = "trend"
	IntentComparison Intent = "comparison"
	IntentSearch     Intent = "search"
	IntentGeneral    Intent = "general"
)

// TimeWindow is a closed interval extracted from the question.
type TimeWindow struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

// Analysis is the immutable result of analyzing one question.
type Analysis struct {
	Query            string        `json:"query"`
	Intent           Intent        `json:"intent"`
	EntityTypes      []entity.Kind `json:"entity_types"`
	TimeWindow       *TimeWindow   `json:"time_window,omitempty"`
	Statuses         []string      `json:"statuses,omitempty"`
	Keywords         []string      `json:"keywords"`
	MetricsRequested bool          `json:"metrics_requested"`
}

// Processor analyzes questions. The clock is injectable for tests.
type Processor struct {
	now func() time.Time
}

// NewProcessor creates a processor using the system clock.
func NewProcessor() *Processor {
	return &Processor{now: time.Now}
}

// NewProcessorAt creates a processor with a fixed clock.
func NewProcessorAt(now func() time.Time) *Processor {
	return &Processor{now: now}
}

// intentKeywords is checked in priority order; first match wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentCount, []string{"how many", "count", "number of", "total"}},
	{IntentAnalysis, []string{"why", "root cause", "reason"}},
	{IntentTrend, []string{"trend", "over time", "history"}},
	{IntentComparison, []string{"compare", "difference", "vs"}},
	{IntentSearch, []string{"show", "list", "find", "get"}},
}

// entityKeywords maps question words to entity kinds. Matching is
// token-based (with plural forms) rather than substring, so "login"
// does not drag in the log kind.
var entityKeywords = []struct {
	kind     entity.Kind
	keywords []string
}{
	{entity.KindLaunch, []string{"launch", "run", "execution", "build"}},
	{entity.KindTestItem, []string{"test", "case", "scenario", "spec"}},
	{entity.KindLog, []string{"log", "error", "exception", "stacktrace"}},
	{entity.KindDashboard, []string{"dashboard", "widget", "chart"}},
	{entity.KindFilter, []string{"filter", "saved search"}},
}

// statusKeywords maps question substrings to status codes, checked in
// this order with first-seen dedup.
var statusKeywords = []struct {
	keyword  string
	statuses []string
}{
	{"failed", []string{"FAILED"}},
	{"broken", []string{"BROKEN"}},
	{"passed", []string{"PASSED"}},
	{"skipped", []string{"SKIPPED"}},
	{"error", []string{"FAILED", "BROKEN"}},
	{"success", []string{"PASSED"}},
}

var metricsKeywords = []string{
	"percentage", "rate", "ratio", "average", "mean", "median",
	"statistics", "stats", "metrics", "performance",
	"success rate", "failure rate", "pass rate", "distribution",
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {},
	"are": {}, "were": {}, "been": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "must": {},
	"shall": {}, "can": {}, "need": {}, "show": {}, "find": {},
	"get": {}, "list": {}, "what": {}, "which": {}, "when": {},
	"where": {}, "who": {}, "why": {}, "how": {},
}

var (
	wordRe  = regexp.MustCompile(`\w+`)
	lastNRe = regexp.MustCompile(`last (\d+) (hour|day|week|month)s?`)
	dayRe   = regexp.MustCompile(`\b(today|yesterday)\b`)
	thisRe  = regexp.MustCompile(`\bthis (week|month)\b`)
)

// Analyze derives the full analysis of one question.
func (p *Processor) Analyze(question string) *Analysis {
	lower := strings.ToLower(question)
	tokens := wordRe.FindAllString(lower, -1)

	return &Analysis{
		Query:            question,
		Intent:           detectIntent(lower),
		EntityTypes:      detectEntityTypes(lower, tokens),
		TimeWindow:       p.detectTimeWindow(lower),
		Statuses:         detectStatuses(lower),
		Keywords:         extractKeywords(tokens),
		MetricsRequested: containsAny(lower, metricsKeywords),
	}
}

func detectIntent(lower string) Intent {
	for _, entry := range intentKeywords {
		if containsAny(lower, entry.keywords) {
			return entry.intent
		}
	}
	return IntentGeneral
}

func detectEntityTypes(lower string, tokens []string) []entity.Kind {
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	matchesToken := func(kw string) bool {
		if strings.Contains(kw, " ") {
			return strings.Contains(lower, kw)
		}
		if _, ok := tokenSet[kw]; ok {
			return true
		}
		if _, ok := tokenSet[kw+"s"]; ok {
			return true
		}
		_, ok := tokenSet[kw+"es"]
		return ok
	}

	var kinds []entity.Kind
	for _, entry := range entityKeywords {
		for _, kw := range entry.keywords {
			if matchesToken(kw) {
				kinds = append(kinds, entry.kind)
				break
			}
		}
	}
	if len(kinds) == 0 {
		kinds = []entity.Kind{entity.KindLaunch, entity.KindTestItem}
	}
	return kinds
}

func detectStatuses(lower string) []string {
	var statuses []string
	seen := make(map[string]struct{})
	for _, entry := range statusKeywords {
		if !strings.Contains(lower, entry.keyword) {
			continue
		}
		for _, st := range entry.statuses {
			if _, dup := seen[st]; dup {
				continue
			}
			seen[st] = struct{}{}
			statuses = append(statuses, st)
		}
	}
	return statuses
}

// detectTimeWindow extracts at most one time window; the first
// pattern to match wins. Weeks start on Monday.
func (p *Processor) detectTimeWindow(lower string) *TimeWindow {
	now := p.now()

	if m := lastNRe.FindStringSubmatch(lower); m != nil {
		n := 0
		for _, r := range m[1] {
			n = n*10 + int(r-'0')
		}
		var unit time.Duration
		switch m[2] {
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		case "month":
			unit = 30 * 24 * time.Hour
		}
		return &TimeWindow{
			Start:       now.Add(-time.Duration(n) * unit),
			End:         now,
			Description: m[0],
		}
	}

	if m := dayRe.FindStringSubmatch(lower); m != nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if m[1] == "today" {
			return &TimeWindow{Start: midnight, End: now, Description: "today"}
		}
		start := midnight.AddDate(0, 0, -1)
		return &TimeWindow{
			Start:       start,
			End:         midnight.Add(-time.Nanosecond),
			Description: "yesterday",
		}
	}

	if m := thisRe.FindStringSubmatch(lower); m != nil {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if m[1] == "week" {
			daysSinceMonday := (int(now.Weekday()) + 6) % 7
			return &TimeWindow{
				Start:       midnight.AddDate(0, 0, -daysSinceMonday),
				End:         now,
				Description: "this week",
			}
		}
		return &TimeWindow{
			Start:       time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
			End:         now,
			Description: "this month",
		}
	}

	return nil
}

func extractKeywords(tokens []string) []string {
	keywords := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) <= 2 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		keywords = append(keywords, t)
	}
	return keywords
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// BuildSearchQuery renders the retrieval query: keywords joined by
// spaces with lowercased status codes appended.
func BuildSearchQuery(a *Analysis) string {
	parts := make([]string, 0, len(a.Keywords)+len(a.Statuses))
	parts = append(parts, a.Keywords...)
	for _, st := range a.Statuses {
		parts = append(parts, strings.ToLower(st))
	}
	return strings.Join(parts, " ")
}

const baseSystemPrompt = `You are an AI assistant specialized in analyzing ReportPortal test execution data.
Your task is to provide clear, accurate answers based on the test data provided.

Guidelines:
1. Base your answers on the actual data provided in the context
2. Identify patterns in test failures when relevant
3. Provide actionable insights where possible
4. Use bullet points and formatting for clarity
5. Calculate metrics and statistics when asked`

// intentClauses appends exactly one intent-specific instruction.
var intentClauses = map[Intent]string{
	IntentCount:      "\n\nFocus on providing accurate counts and statistics from the data.",
	IntentAnalysis:   "\n\nFocus on identifying root causes and explaining why failures occurred.",
	IntentTrend:      "\n\nFocus on how the results change over time.",
	IntentComparison: "\n\nFocus on comparing the relevant aspects of the data.",
}

// BuildSystemPrompt renders the system prompt for an analysis.
func BuildSystemPrompt(a *Analysis) string {
	return baseSystemPrompt + intentClauses[a.Intent]
}
