// Package ledger converts raw token counts into usage records, running
// cost totals, and session reports.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Context-utilization warning thresholds. Fixed, not configurable.
const (
	utilizationWarnLow  = 0.70
	utilizationWarnHigh = 0.90
)

// WarningLevel classifies how close the context is to its limit.
type WarningLevel int

const (
	WarnNone WarningLevel = iota
	WarnLow
	WarnHigh
)

// UsageRecord is an immutable accounting record for one completed turn.
type UsageRecord struct {
	Model            string    `json:"model"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CachedTokens     int       `json:"cached_tokens"`
	Cost             float64   `json:"cost"`
	ContextLength    int       `json:"context_length"`
	MaxContextLength int       `json:"max_context_length"`
	Timestamp        time.Time `json:"timestamp"`
}

// Utilization returns the context-utilization ratio for this record.
func (r UsageRecord) Utilization() float64 {
	if r.MaxContextLength <= 0 {
		return 0
	}
	return float64(r.ContextLength) / float64(r.MaxContextLength)
}

// WarningLevel returns the severity of the context-near-limit warning
// for this record.
func (r UsageRecord) WarningLevel() WarningLevel {
	u := r.Utilization()
	switch {
	case u >= utilizationWarnHigh:
		return WarnHigh
	case u >= utilizationWarnLow:
		return WarnLow
	default:
		return WarnNone
	}
}

// Summary is the point-in-time aggregate over all usage records.
// Reconstructable by replaying the record history.
type Summary struct {
	Requests       int           `json:"requests"`
	InputTokens    int64         `json:"input_tokens"`
	OutputTokens   int64         `json:"output_tokens"`
	TotalCost      float64       `json:"total_cost"`
	MaxContext     int           `json:"max_context"`
	AvgUtilization float64       `json:"avg_utilization"`
	Duration       time.Duration `json:"duration"`
}

// Ledger accumulates usage records and running totals for one session.
type Ledger struct {
	pricing *PricingTable
	start   time.Time

	mu             sync.Mutex
	records        []UsageRecord
	requests       int
	inputTokens    int64
	outputTokens   int64
	totalCost      float64
	maxContext     int
	utilizationSum float64
}

// New creates a ledger. A nil pricing table gets the default one.
func New(pricing *PricingTable) *Ledger {
	if pricing == nil {
		pricing = NewPricingTable()
	}
	return &Ledger{
		pricing: pricing,
		start:   time.Now(),
	}
}

// Record creates a usage record for a completed turn and folds it into
// the running totals. Cached tokens are billed at the cached rate when
// the model supports one, at the full input rate otherwise; fresh input
// is input minus cached, floored at zero so cached tokens are never
// double-billed.
func (l *Ledger) Record(inputTokens, outputTokens, cachedTokens int, model string, contextLength, maxContextLength int) UsageRecord {
	pricing, _ := l.pricing.Lookup(model)

	fresh := inputTokens - cachedTokens
	if fresh < 0 {
		fresh = 0
	}
	cachedRate := pricing.CachedPer1M
	if !pricing.SupportsCaching || cachedRate == 0 {
		cachedRate = pricing.InputPer1M
	}

	cost := (float64(fresh)*pricing.InputPer1M +
		float64(cachedTokens)*cachedRate +
		float64(outputTokens)*pricing.OutputPer1M) / 1_000_000

	record := UsageRecord{
		Model:            model,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		CachedTokens:     cachedTokens,
		Cost:             cost,
		ContextLength:    contextLength,
		MaxContextLength: maxContextLength,
		Timestamp:        time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	l.requests++
	l.inputTokens += int64(inputTokens)
	l.outputTokens += int64(outputTokens)
	l.totalCost += cost
	if contextLength > l.maxContext {
		l.maxContext = contextLength
	}
	l.utilizationSum += record.Utilization()

	return record
}

// Summary returns the current aggregate. The average utilization is
// the arithmetic mean of per-record ratios, not token-weighted.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	avg := 0.0
	if l.requests > 0 {
		avg = l.utilizationSum / float64(l.requests)
	}

	return Summary{
		Requests:       l.requests,
		InputTokens:    l.inputTokens,
		OutputTokens:   l.outputTokens,
		TotalCost:      l.totalCost,
		MaxContext:     l.maxContext,
		AvgUtilization: avg,
		Duration:       time.Since(l.start),
	}
}

// Records returns a copy of the usage history.
func (l *Ledger) Records() []UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]UsageRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Report is the serialized session report.
type Report struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Summary     Summary       `json:"summary"`
	History     []UsageRecord `json:"history"`
}

// SaveReport writes the session report to path. Callers treat failure
// as non-fatal.
func (l *Ledger) SaveReport(path string) error {
	report := Report{
		GeneratedAt: time.Now(),
		Summary:     l.Summary(),
		History:     l.Records(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}
