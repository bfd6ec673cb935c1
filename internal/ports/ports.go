// Package ports defines the external contracts the scheduler core
// consumes: persistence, HTTP execution, time, and randomness. Production
// implementations live in internal/repo, internal/httpfetch, and
// internal/clockrand; tests substitute in-memory fakes.
package ports

import (
	"context"
	"time"

	"github.com/bryan-buckman/feedscheduler/internal/model"
)

// Repo is the persistence contract. All methods are safe for concurrent
// use by multiple feeds' tasks within the same tick.
type Repo interface {
	// DueFeeds returns feeds with NextPollAtMs <= nowMs, ascending by that
	// time and tie-broken by FeedID, capped at limit. Feeds with no
	// LatestState row are included (first-observation semantics).
	DueFeeds(ctx context.Context, nowMs int64, limit int) ([]model.FeedConfig, error)

	// LatestState returns the persisted LinkState for a feed, or ok=false
	// if none exists yet.
	LatestState(ctx context.Context, feedID string) (state model.LinkState, ok bool, err error)

	// UpsertLatestState durably writes the latest LinkState, keyed by
	// FeedID. This is the one write the scheduler's correctness depends on.
	UpsertLatestState(ctx context.Context, state model.LinkState) error

	// RecordHistory appends a history row. May be dropped under pressure;
	// not transactional with UpsertLatestState.
	RecordHistory(ctx context.Context, rec model.HistoryRecord) error

	// UpsertItems idempotently stores parsed feed items, keyed by
	// (FeedID, ItemID).
	UpsertItems(ctx context.Context, feedID string, items []model.FeedItem) error

	// UpsertFeedsBulk is the ingest-side bulk load of FeedConfig rows,
	// chunked at chunkSize. timezone is validated (time.LoadLocation) as
	// IANA zone name up front, failing the whole bulk load fast on a
	// misconfigured AppConfig.Timezone rather than only surfacing the bad
	// value later when something tries to display with it (see
	// cmd/seedfeeds's -export, which localizes its OPML DateCreated with
	// the same value).
	UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, chunkSize int, timezone string) error
}

// HTTPErrorKind distinguishes the three ways an HTTP action can fail
// without an HTTP status code.
type HTTPErrorKind int

const (
	// ErrKindNone means the error isn't one of the distinguished kinds.
	ErrKindNone HTTPErrorKind = iota
	ErrKindTimeout
	ErrKindNetwork
	ErrKindProtocol
)

// HTTPError wraps a transport-level failure with its distinguished kind.
type HTTPError struct {
	Kind HTTPErrorKind
	Err  error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// Response is the normalized result of a HEAD or GET.
type Response struct {
	Status    int
	Headers   map[string]string // lower-cased header names
	BodyBytes []byte            // GET only; nil for HEAD
}

// HTTP executes conditional HEAD/GET requests, following up to 5
// redirects internally.
type HTTP interface {
	Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (Response, error)
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (Response, error)
}

// Clock supplies wall-clock epoch milliseconds. Monotonicity is not
// assumed, and callers do not clamp a backwards step: it shows up as a
// negative action duration or a longer wait before the next tick.
type Clock interface {
	NowEpochMs() int64
}

// RandomSource supplies uniform [0,1) floats and must be safe for
// concurrent callers.
type RandomSource interface {
	NextF64() float64
}

// FeedParser turns a fetched GET body into feed items. Implemented in
// internal/parse via gofeed.
type FeedParser interface {
	Parse(feedURL string, body []byte) ([]model.FeedItem, error)
}
