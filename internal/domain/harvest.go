package domain

import "time"

// SourceKind identifies which upstream produced a payload or outcome.
type SourceKind string

const (
	SourceAPI  SourceKind = "api"
	SourceHTML SourceKind = "html"
)

// OutcomeStatus classifies the result of a single fetch attempt.
type OutcomeStatus string

const (
	StatusOK             OutcomeStatus = "ok"
	StatusRateLimited    OutcomeStatus = "rate_limited"
	StatusNotFound       OutcomeStatus = "not_found"
	StatusTransientError OutcomeStatus = "transient_error"
	StatusTimeout        OutcomeStatus = "timeout"
)

// WorkItem is one catalog entry scheduled for harvesting.
type WorkItem struct {
	AppID    int64
	StoreURL string
}

// FetchOutcome reports one HTTP attempt against one source.
type FetchOutcome struct {
	AppID   int64
	Source  SourceKind
	Status  OutcomeStatus
	Latency time.Duration
}

// Violation names a contract rule a record failed to satisfy.
type Violation struct {
	Field string
	Rule  string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Rule
}

// RunTotals summarizes how the pending work list was drained.
type RunTotals struct {
	Succeeded       int
	Invalid         int
	SkippedTerminal int
	Abandoned       int
}

// Drained reports how many items reached a terminal disposition this run.
func (t RunTotals) Drained() int {
	return t.Succeeded + t.Invalid + t.SkippedTerminal + t.Abandoned
}
