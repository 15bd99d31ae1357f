package telemetry

import "sync"

// Counters is the JSON-serializable snapshot served at GET /v1/ops/metrics.
type Counters struct {
	DecisionsByOutcome map[string]int64   `json:"decisionsByOutcome"`
	DecisionsByCode    map[string]int64   `json:"decisionsByCode"`
	AuditFailures      int64              `json:"auditFailures"`
	AvgDurationSeconds map[string]float64 `json:"avgDurationSecondsByRoute"`
}

type counterSnapshot struct {
	mu                 sync.Mutex
	decisionsByOutcome map[string]int64
	decisionsByCode    map[string]int64
	auditFailures      int64
	durationSum        map[string]float64
	durationCount      map[string]int64
}

func newCounterSnapshot() *counterSnapshot {
	return &counterSnapshot{
		decisionsByOutcome: make(map[string]int64),
		decisionsByCode:    make(map[string]int64),
		durationSum:        make(map[string]float64),
		durationCount:      make(map[string]int64),
	}
}

func (c *counterSnapshot) recordDecision(stage, code, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisionsByOutcome[outcome]++
	c.decisionsByCode[code]++
}

func (c *counterSnapshot) recordAuditFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditFailures++
}

func (c *counterSnapshot) recordDuration(route string, seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durationSum[route] += seconds
	c.durationCount[route]++
}

func (c *counterSnapshot) read() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	avg := make(map[string]float64, len(c.durationSum))
	for route, sum := range c.durationSum {
		count := c.durationCount[route]
		if count > 0 {
			avg[route] = sum / float64(count)
		}
	}

	return Counters{
		DecisionsByOutcome: copyInt64Map(c.decisionsByOutcome),
		DecisionsByCode:    copyInt64Map(c.decisionsByCode),
		AuditFailures:      c.auditFailures,
		AvgDurationSeconds: avg,
	}
}

func copyInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
