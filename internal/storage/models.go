package storage

import "time"

// Request is one handled inbound event, as kept in the history.
// Kind and Identifier are audit strings; the descriptor itself is never stored.
type Request struct {
	ID         int64
	RequestID  string
	Transport  string
	UserKey    string
	Event      string // "text", "callback"
	Kind       string // link kind, empty when nothing was classified
	Identifier string
	Variant    string
	Outcome    string // domerrors.Code of the outcome
	Duration   time.Duration
	CreatedAt  time.Time
}

// OutcomeCount is the number of requests that ended with one outcome.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// Stats summarizes the history since a point in time.
type Stats struct {
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	Users    int            `json:"users"`
	Outcomes []OutcomeCount `json:"outcomes"`
}
