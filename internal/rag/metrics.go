package rag

import (
	"github.com/rpinsight/rpinsight/internal/store"
)

// Metrics summarizes the retrieved set. The numbers deliberately cover
// only the retrieved documents, not the full corpus.
type Metrics struct {
	TotalItems        int                `json:"total_items"`
	ByStatus          map[string]int     `json:"by_status"`
	ByEntityType      map[string]int     `json:"by_entity_type"`
	StatusPercentages map[string]float64 `json:"status_percentages"`
	FailureRate       *float64           `json:"failure_rate,omitempty"`
	SuccessRate       *float64           `json:"success_rate,omitempty"`
}

// ComputeMetrics derives metrics from retrieved documents. The
// failure/success rates use only the FAILED+BROKEN vs PASSED binary;
// other statuses (SKIPPED) are excluded from that denominator.
func ComputeMetrics(results []store.Result) *Metrics {
	m := &Metrics{
		TotalItems:        len(results),
		ByStatus:          make(map[string]int),
		ByEntityType:      make(map[string]int),
		StatusPercentages: make(map[string]float64),
	}

	for _, res := range results {
		m.ByEntityType[string(res.Kind)]++
		if status := res.Metadata["status"]; status != "" {
			m.ByStatus[status]++
		}
	}

	if m.TotalItems > 0 {
		for status, count := range m.ByStatus {
			m.StatusPercentages[status] = float64(count) / float64(m.TotalItems) * 100
		}
	}

	failed := m.ByStatus["FAILED"] + m.ByStatus["BROKEN"]
	passed := m.ByStatus["PASSED"]
	if failed+passed > 0 {
		failureRate := float64(failed) / float64(failed+passed) * 100
		successRate := float64(passed) / float64(failed+passed) * 100
		m.FailureRate = &failureRate
		m.SuccessRate = &successRate
	}

	return m
}
