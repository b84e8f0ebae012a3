// Package budget tracks daily spend against an allocated analysis budget
// and enforces the emergency stop.
package budget

import "time"

// DayFormat is the ledger day key layout (UTC).
const DayFormat = "2006-01-02"

// Ledger is one day's spend snapshot. ReservedUSD holds the allowances of
// dispatched analyses that have not settled yet.
type Ledger struct {
	Day             string     `json:"day"`
	AllocatedUSD    float64    `json:"allocatedUsd"`
	SpentUSD        float64    `json:"spentUsd"`
	ReservedUSD     float64    `json:"reservedUsd"`
	CompletedCount  int        `json:"completedCount"`
	FailedCount     int        `json:"failedCount"`
	EmergencyStop   bool       `json:"emergencyStop"`
	EmergencyStopAt *time.Time `json:"emergencyStopAt,omitempty"`
}

// RemainingUSD returns the budget not yet spent or reserved, never negative.
func (l Ledger) RemainingUSD() float64 {
	remaining := l.AllocatedUSD - l.SpentUSD - l.ReservedUSD
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Utilization returns spent over allocated, 0 when nothing is allocated.
func (l Ledger) Utilization() float64 {
	if l.AllocatedUSD <= 0 {
		return 0
	}
	return l.SpentUSD / l.AllocatedUSD
}

// Settings are the operator-tunable budget knobs.
type Settings struct {
	DailyBudgetUSD float64 `json:"dailyBudgetUsd"`
	PerAnalysisUSD float64 `json:"perAnalysisUsd"`
	StopFraction   float64 `json:"stopFraction"`
}

// Status is the ledger plus derived fields for the API.
type Status struct {
	Ledger
	RemainingUSD   float64 `json:"remainingUsd"`
	Utilization    float64 `json:"utilization"`
	PerAnalysisUSD float64 `json:"perAnalysisUsd"`
	CanAnalyze     bool    `json:"canAnalyze"`
}
