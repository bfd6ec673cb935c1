// Package actions implements the HEAD and GET action skeleton from
// spec.md §4.2: acquire guards, build a conditional request, send it,
// interpret the response, evolve LinkState, and persist. Every exit path
// — success, per-feed error, or context cancellation — releases guards in
// host-then-global order and never writes persistence steps 2/3 (history,
// items) without step 1 (latest state) having succeeded first.
package actions

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedscheduler/internal/concurrency"
	"github.com/bryan-buckman/feedscheduler/internal/feedhash"
	"github.com/bryan-buckman/feedscheduler/internal/linkstate"
	"github.com/bryan-buckman/feedscheduler/internal/model"
	"github.com/bryan-buckman/feedscheduler/internal/ports"
)

// Per-request timeouts (spec.md §4.2): 30s connect+headers for HEAD, 60s
// total (connect+headers+body) for GET.
const (
	HeadTimeout = 30 * time.Second
	GetTimeout  = 60 * time.Second
)

// infraRetryDelay is the single retry backoff for a transient
// infrastructure failure writing latest state (spec.md §7).
const infraRetryDelay = 100 * time.Millisecond

// Executor wires the ports an action needs. All fields are required.
type Executor struct {
	HTTP              ports.HTTP
	Repo              ports.Repo
	Clock             ports.Clock
	Rand              ports.RandomSource
	Parser            ports.FeedParser
	Guards            *concurrency.Guards
	Log               logrus.FieldLogger
	HistorySampleRate float64
	UserAgent         string
}

// Result summarizes what an action did, for tick-processor-level logging
// and metrics; it is not persisted directly.
type Result struct {
	State      model.LinkState
	Outcome    model.Outcome
	HTTPCode   int
	DurationMs int64
	NewItems   int
}

// DoHead executes the conditional HEAD action. On an upstream 200, it
// promotes to a GET within the same tick (spec.md §4.2), releasing the
// HEAD's guards first rather than holding two guard slots at once.
func (e *Executor) DoHead(ctx context.Context, feed model.FeedConfig, state model.LinkState) (Result, error) {
	release, err := e.Guards.Acquire(ctx, feed.Domain)
	if err != nil {
		return Result{State: state}, err
	}

	startMs := e.Clock.NowEpochMs()
	resp, reqErr := e.HTTP.Head(ctx, feed.URL, conditionalHeaders(state), HeadTimeout)
	release()
	durationMs := e.Clock.NowEpochMs() - startMs

	if reqErr != nil {
		return e.finish(ctx, feed, state, model.MethodHead, startMs, durationMs, 0, 0, outcomeFromErr(reqErr))
	}

	if resp.Status == 200 {
		// Promote to GET in the same tick; the body wasn't returned by HEAD.
		return e.DoGet(ctx, feed, state)
	}

	if resp.Status == 304 {
		next := state
		next.LastStatus = model.StatusNotModified
		return e.finishWithState(ctx, feed, next, model.MethodHead, startMs, durationMs, resp.Status, 0, model.OutcomeNotMod, nil)
	}

	outcome := classifyStatus(resp.Status)
	next := state
	if outcome == model.OutcomeFatal {
		next.ETag = ""
		next.LastModified = ""
	}
	next.LastStatus = statusFromOutcome(outcome, resp.Status)
	return e.finishWithState(ctx, feed, next, model.MethodHead, startMs, durationMs, resp.Status, 0, outcome, nil)
}

// DoGet executes the (possibly conditional) GET action, parsing and
// upserting items on a changed 200 body.
func (e *Executor) DoGet(ctx context.Context, feed model.FeedConfig, state model.LinkState) (Result, error) {
	release, err := e.Guards.Acquire(ctx, feed.Domain)
	if err != nil {
		return Result{State: state}, err
	}

	headers := map[string]string{}
	if state.LastStatus == model.StatusOk {
		for k, v := range conditionalHeaders(state) {
			headers[k] = v
		}
	}

	startMs := e.Clock.NowEpochMs()
	resp, reqErr := e.HTTP.Get(ctx, feed.URL, headers, GetTimeout)
	release()
	durationMs := e.Clock.NowEpochMs() - startMs

	if reqErr != nil {
		return e.finish(ctx, feed, state, model.MethodGet, startMs, durationMs, 0, 0, outcomeFromErr(reqErr))
	}

	bytesRead := int64(len(resp.BodyBytes))

	if resp.Status == 304 {
		next := state
		next.LastStatus = model.StatusNotModified
		return e.finishWithState(ctx, feed, next, model.MethodGet, startMs, durationMs, resp.Status, bytesRead, model.OutcomeNotMod, nil)
	}

	if resp.Status == 200 {
		hash := feedhash.Stable(resp.BodyBytes)
		newContent := hash != state.ContentHash || state.ContentHash == ""

		next := state
		next.ContentHash = hash
		next.ETag = headerValue(resp.Headers, "etag")
		next.LastModified = headerValue(resp.Headers, "last-modified")
		next.LastStatus = model.StatusOk
		next.LastSuccessAtMs = startMs

		var items []model.FeedItem
		if newContent {
			items, err = e.Parser.Parse(feed.URL, resp.BodyBytes)
			if err != nil {
				// Unparseable body is a Fatal per-feed outcome (spec.md §7).
				next.ETag = ""
				next.LastModified = ""
				next.LastStatus = model.StatusClientError
				return e.finishWithState(ctx, feed, next, model.MethodGet, startMs, durationMs, resp.Status, bytesRead, model.OutcomeFatal, nil)
			}
		}

		result, err := e.finishWithState(ctx, feed, next, model.MethodGet, startMs, durationMs, resp.Status, bytesRead, model.OutcomeOk, cadenceOverride(newContent))
		if err != nil {
			return result, err
		}
		if newContent && len(items) > 0 {
			for i := range items {
				items[i].FeedID = feed.ID
			}
			if err := e.Repo.UpsertItems(ctx, feed.ID, items); err != nil {
				e.Log.WithError(err).WithField("feed_id", feed.ID).Warn("upsert items failed (best-effort)")
			} else {
				result.NewItems = len(items)
			}
		}
		return result, nil
	}

	outcome := classifyStatus(resp.Status)
	next := state
	if outcome == model.OutcomeFatal {
		next.ETag = ""
		next.LastModified = ""
	}
	next.LastStatus = statusFromOutcome(outcome, resp.Status)

	var retryAfterMs int64
	if resp.Status == 429 {
		retryAfterMs = retryAfterMillis(resp.Headers)
	}
	return e.finishWithState(ctx, feed, next, model.MethodGet, startMs, durationMs, resp.Status, bytesRead, outcome, &cadenceHint{retryAfterMs: retryAfterMs})
}

// cadenceHint carries extra facts ApplyOutcome needs beyond the outcome
// itself (whether a 200 carried new content, or a Retry-After floor).
type cadenceHint struct {
	newContent   bool
	retryAfterMs int64
}

func cadenceOverride(newContent bool) *cadenceHint {
	return &cadenceHint{newContent: newContent}
}

// finish handles the network/timeout/protocol-error exit path, which has
// no HTTP status to key off of.
func (e *Executor) finish(ctx context.Context, feed model.FeedConfig, state model.LinkState, method model.Method, startMs, durationMs int64, httpCode int, bytesRead int64, outcome model.Outcome) (Result, error) {
	next := state
	if outcome == model.OutcomeFatal {
		next.ETag = ""
		next.LastModified = ""
	}
	next.LastStatus = statusFromOutcome(outcome, httpCode)
	return e.finishWithState(ctx, feed, next, method, startMs, durationMs, httpCode, bytesRead, outcome, nil)
}

// finishWithState evolves cadence, then persists per spec.md §4.2's
// durability order: latest state first (durable, retried once), then
// best-effort history sampling. Callers append item upserts afterward.
func (e *Executor) finishWithState(ctx context.Context, feed model.FeedConfig, state model.LinkState, method model.Method, startMs, durationMs int64, httpCode int, bytesRead int64, outcome model.Outcome, hint *cadenceHint) (Result, error) {
	nowMs := e.Clock.NowEpochMs()
	rand := e.Rand.NextF64()

	in := linkstate.CadenceInput{Outcome: outcome}
	if hint != nil {
		in.NewContent = hint.newContent
		in.RetryAfterMs = hint.retryAfterMs
	}
	next := linkstate.ApplyOutcome(state, feed.BasePollSeconds, in, nowMs, rand)

	if err := e.upsertStateWithRetry(ctx, next); err != nil {
		e.Log.WithError(err).WithField("feed_id", feed.ID).Error("upsert latest state failed after retry; feed skipped this tick")
		return Result{State: state, Outcome: outcome, HTTPCode: httpCode, DurationMs: durationMs}, err
	}

	if e.Rand.NextF64() < e.HistorySampleRate {
		rec := model.HistoryRecord{
			FeedID:        feed.ID,
			AttemptedAtMs: startMs,
			Method:        method,
			StatusClass:   statusClass(httpCode, outcome),
			HTTPCode:      httpCode,
			BytesRead:     bytesRead,
			DurationMs:    durationMs,
			Outcome:       outcome,
		}
		if err := e.Repo.RecordHistory(ctx, rec); err != nil {
			e.Log.WithError(err).WithField("feed_id", feed.ID).Warn("record history failed (best-effort)")
		}
	}

	return Result{State: next, Outcome: outcome, HTTPCode: httpCode, DurationMs: durationMs}, nil
}

func (e *Executor) upsertStateWithRetry(ctx context.Context, state model.LinkState) error {
	err := e.Repo.UpsertLatestState(ctx, state)
	if err == nil {
		return nil
	}
	select {
	case <-time.After(infraRetryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.Repo.UpsertLatestState(ctx, state)
}

func conditionalHeaders(state model.LinkState) map[string]string {
	h := map[string]string{}
	if state.ETag != "" {
		h["If-None-Match"] = state.ETag
	}
	if state.LastModified != "" {
		h["If-Modified-Since"] = state.LastModified
	}
	return h
}

func headerValue(headers map[string]string, key string) string {
	return headers[key]
}

// classifyStatus maps an HTTP status code to an Outcome per the HEAD/GET
// contract tables (spec.md §4.2). Only called for non-200/304 statuses;
// 3xx is never observed here since the HTTP port follows redirects
// internally.
func classifyStatus(status int) model.Outcome {
	switch {
	case status == 408 || status == 429:
		return model.OutcomeRetryable
	case status >= 400 && status < 500:
		return model.OutcomeFatal
	case status >= 500:
		return model.OutcomeRetryable
	default:
		return model.OutcomeRetryable
	}
}

func statusFromOutcome(outcome model.Outcome, httpCode int) model.LastStatus {
	switch outcome {
	case model.OutcomeOk:
		return model.StatusOk
	case model.OutcomeNotMod:
		return model.StatusNotModified
	case model.OutcomeFatal:
		return model.StatusClientError
	default:
		if httpCode >= 500 {
			return model.StatusServerError
		}
		return model.StatusNetworkError
	}
}

func statusClass(httpCode int, outcome model.Outcome) string {
	switch {
	case httpCode >= 200 && httpCode < 300:
		return "2xx"
	case httpCode >= 300 && httpCode < 400:
		return "3xx"
	case httpCode >= 400 && httpCode < 500:
		return "4xx"
	case httpCode >= 500 && httpCode < 600:
		return "5xx"
	case outcome == model.OutcomeRetryable:
		return "network"
	default:
		return "unknown"
	}
}

// outcomeFromErr classifies a transport-level failure (no HTTP status)
// into Retryable or Fatal. Oversize bodies are the one Protocol-kind
// error the spec names explicitly as Fatal; other Protocol errors
// (malformed request construction) are treated the same way since they
// won't resolve by retrying unchanged inputs either. httpfetch reports
// exceeding the redirect cap as a Network error, so that case is
// Retryable.
func outcomeFromErr(err error) model.Outcome {
	var httpErr *ports.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Kind {
		case ports.ErrKindTimeout, ports.ErrKindNetwork:
			return model.OutcomeRetryable
		case ports.ErrKindProtocol:
			return model.OutcomeFatal
		}
	}
	return model.OutcomeRetryable
}

// retryAfterMillis parses a Retry-After header as a seconds count (the
// date form is not handled: feeds sending it are rare enough that
// falling back to the computed cadence is acceptable).
func retryAfterMillis(headers map[string]string) int64 {
	v := headers["retry-after"]
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return secs * 1000
}
