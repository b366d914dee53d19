// Package alerts raises, suppresses and tracks driver wellness alerts.
//
// One state machine runs per (driver, alert type). Alerts escalate through
// severity tiers as readings worsen; an unacknowledged alert of a type
// suppresses re-emission at the same or lower severity until the driver
// acknowledges or dismisses it.
package alerts

import (
	"errors"
	"time"
)

// Type is the kind of wellness condition an alert reports.
type Type string

const (
	TypeDrowsiness Type = "drowsiness"
	TypeStress     Type = "stress"
	TypeSteering   Type = "steering"
	TypeBreak      Type = "break"
)

// Severity orders alert urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank maps severities to a comparable order. Unknown severities rank lowest.
func rank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Exceeds reports whether a is more urgent than b.
func (a Severity) Exceeds(b Severity) bool {
	return rank(a) > rank(b)
}

// Alert is one emitted wellness alert.
type Alert struct {
	ID              string    `json:"alertId"`
	DriverID        string    `json:"driverId"`
	Type            Type      `json:"type"`
	Severity        Severity  `json:"severity"`
	Message         string    `json:"message"`
	Recommendations []string  `json:"recommendations"`
	Timestamp       time.Time `json:"timestamp"`
	Acknowledged    bool      `json:"acknowledged"`
}

// HistoryCap bounds the per-driver alert history ring. Oldest entries are
// evicted first.
const HistoryCap = 10

// ErrAlertNotFound indicates the alert ID does not exist for this driver.
var ErrAlertNotFound = errors.New("alert not found")
