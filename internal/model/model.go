// Package model defines the shared data structures the scheduler core
// operates on: feed configuration, per-feed link state, history sampling
// records, and parsed feed items.
package model

// LastStatus classifies the outcome of the most recent action taken
// against a feed.
type LastStatus string

const (
	StatusUnknown      LastStatus = "unknown"
	StatusOk           LastStatus = "ok"
	StatusNotModified  LastStatus = "not_modified"
	StatusClientError  LastStatus = "client_error"
	StatusServerError  LastStatus = "server_error"
	StatusNetworkError LastStatus = "network_error"
)

// Outcome classifies how an action's response should drive cadence and
// history sampling.
type Outcome string

const (
	OutcomeOk        Outcome = "ok"
	OutcomeNotMod    Outcome = "not_modified"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
)

// Method is the HTTP method an action used.
type Method string

const (
	MethodHead Method = "HEAD"
	MethodGet  Method = "GET"
)

// FeedConfig is the immutable (until reingest) catalog row for a feed.
// Owned by ingest; the scheduler only reads it.
type FeedConfig struct {
	ID               string
	URL              string
	Domain           string
	BasePollSeconds  int64
}

// LinkState is the scheduler's per-feed schedule, validator, and failure
// record. The scheduler exclusively owns writes to this entity.
type LinkState struct {
	FeedID             string
	CurrentPollSeconds int64
	JitterFraction     float64
	MaxPollSeconds     int64
	NextPollAtMs       int64
	LastStatus         LastStatus
	FailureStreak      int
	ETag               string
	LastModified       string
	ContentHash        string
	LastSuccessAtMs    int64 // 0 means unset
}

// HasValidators reports whether the state carries a conditional-request
// validator usable for a HEAD request.
func (s LinkState) HasValidators() bool {
	return s.ETag != "" || s.LastModified != ""
}

// HistoryRecord is an append-only, probabilistically-sampled record of a
// single action attempt.
type HistoryRecord struct {
	FeedID        string
	AttemptedAtMs int64
	Method        Method
	StatusClass   string
	HTTPCode      int // 0 when not applicable (e.g. network error)
	BytesRead     int64
	DurationMs    int64
	Outcome       Outcome
}

// FeedItem is a single parsed entry from a feed body, upserted on
// (FeedID, ItemID).
type FeedItem struct {
	FeedID        string
	ItemID        string
	Title         string
	Link          string
	Content       string
	PublishedAtMs int64
}
