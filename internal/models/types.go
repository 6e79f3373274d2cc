// Package models defines the core data types shared by the evaluators, the
// risk aggregator and the alert dispatcher.
package models

import "time"

// Severity grades a single finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Higher reports whether s ranks strictly above other.
func (s Severity) Higher(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// Finding is the outcome of one heuristic that fired.
type Finding struct {
	Kind      string                 `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	AutoBlock bool                   `json:"auto_block,omitempty"`
}

// Action is the outcome of aggregating a set of findings.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// RiskDecision is the aggregate of every finding for one event.
type RiskDecision struct {
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
	Action   Action    `json:"action"`
}

// Reasons returns the finding messages in order.
func (d RiskDecision) Reasons() []string {
	reasons := make([]string, 0, len(d.Findings))
	for _, f := range d.Findings {
		reasons = append(reasons, f.Message)
	}
	return reasons
}

// Kinds returns the finding kinds in order.
func (d RiskDecision) Kinds() []string {
	kinds := make([]string, 0, len(d.Findings))
	for _, f := range d.Findings {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

// TopFinding returns the first finding of the highest severity, or false
// when there are none.
func (d RiskDecision) TopFinding() (Finding, bool) {
	if len(d.Findings) == 0 {
		return Finding{}, false
	}
	top := d.Findings[0]
	for _, f := range d.Findings[1:] {
		if f.Severity.Higher(top.Severity) {
			top = f
		}
	}
	return top, true
}

// EventKind tags the Event union.
type EventKind string

const (
	EventNewPost      EventKind = "new_post"
	EventNewReply     EventKind = "new_reply"
	EventLoginAttempt EventKind = "login_attempt"
)

// LoginEvent is one authentication attempt.
type LoginEvent struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	Timestamp      time.Time `json:"timestamp"`
	NetworkAddress string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	Location       string    `json:"location"`
}

// Event is the unit of evaluation. Content is set for posts and replies,
// Login for login attempts.
type Event struct {
	Kind      EventKind   `json:"kind"`
	SubjectID string      `json:"subject_id"`
	AuthorID  string      `json:"author_id"`
	Content   string      `json:"content,omitempty"`
	Login     *LoginEvent `json:"login,omitempty"`
}

// HistoricalWindow is a user's past logins within the lookback, oldest first.
type HistoricalWindow []LoginEvent

// Alert source values.
const (
	SourceContent  = "content"
	SourceSecurity = "security"
)

// Alert is the persisted record of a flag or block decision.
type Alert struct {
	ID             string                 `json:"id"`
	IdempotencyKey string                 `json:"-"`
	UserID         string                 `json:"user_id"`
	SubjectID      string                 `json:"subject_id"`
	Source         string                 `json:"source"`
	Type           string                 `json:"alert_type"`
	Severity       Severity               `json:"severity"`
	Message        string                 `json:"message"`
	Details        map[string]interface{} `json:"details,omitempty"`
	AutoBlocked    bool                   `json:"auto_blocked"`
	Status         string                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
}
