// Package linkstate implements the per-feed decision function: a pure
// state machine over model.LinkState that decides, for a given feed and
// wall-clock time, whether to sleep, send a conditional HEAD, or send a
// GET — and that evolves cadence and failure tracking from an action's
// outcome. Nothing here performs I/O; randomness and time are always
// explicit inputs. Base cadence (spec.md's `base`) lives on
// model.FeedConfig, not model.LinkState, so every cadence computation
// below takes it as an explicit parameter rather than recovering it from
// state.
package linkstate

import (
	"github.com/bryan-buckman/feedscheduler/internal/model"
)

// ActionKind tags the variant a NextAction holds.
type ActionKind int

const (
	ActionSleep ActionKind = iota
	ActionDoHead
	ActionDoGet
)

// NextAction is the decision function's result: a tagged variant, never
// both a sleep and a request.
type NextAction struct {
	Kind         ActionKind
	SleepUntilMs int64 // valid when Kind == ActionSleep
}

// clampInterval bounds an interval, in milliseconds, to [base*500, max*1500].
func clampInterval(ms, baseSeconds, maxSeconds int64) int64 {
	lo := baseSeconds * 500
	hi := maxSeconds * 1500
	if ms < lo {
		return lo
	}
	if ms > hi {
		return hi
	}
	return ms
}

// Initial seeds a LinkState for a feed observed for the first time. The
// first poll is scheduled immediately.
func Initial(feedID string, baseSeconds, maxSeconds int64, jitterFraction float64, nowMs int64) model.LinkState {
	return model.LinkState{
		FeedID:             feedID,
		CurrentPollSeconds: baseSeconds,
		JitterFraction:     jitterFraction,
		MaxPollSeconds:     maxSeconds,
		NextPollAtMs:       nowMs,
		LastStatus:         model.StatusUnknown,
		FailureStreak:      0,
	}
}

// Decide is the total function (state, now) -> {Sleep, DoHead, DoGet}.
func Decide(state model.LinkState, nowMs int64) NextAction {
	if nowMs < state.NextPollAtMs {
		return NextAction{Kind: ActionSleep, SleepUntilMs: state.NextPollAtMs}
	}
	if state.HasValidators() &&
		(state.LastStatus == model.StatusOk || state.LastStatus == model.StatusNotModified) &&
		state.FailureStreak == 0 {
		return NextAction{Kind: ActionDoHead}
	}
	return NextAction{Kind: ActionDoGet}
}

// CadenceInput carries the facts an action observed that drive the
// post-action cadence update, separate from the mechanics of fetching.
type CadenceInput struct {
	Outcome    model.Outcome
	NewContent bool // only meaningful when Outcome == OutcomeOk
	// RetryAfterMs, when > 0, is a lower bound on NextPollAtMs (HTTP 429
	// Retry-After), applied after jitter clamping.
	RetryAfterMs int64
}

// ApplyOutcome evolves state per spec.md §4.1 steps 1-2: compute target
// cadence from the outcome relative to the feed's configured base
// cadence, then apply jitter and clamp. rand must be in [0,1). Returns
// the updated state; callers persist it.
func ApplyOutcome(state model.LinkState, baseSeconds int64, in CadenceInput, nowMs int64, rand float64) model.LinkState {
	next := state

	switch in.Outcome {
	case model.OutcomeOk:
		if in.NewContent || state.ContentHash == "" {
			next.CurrentPollSeconds = maxI64(baseSeconds, state.CurrentPollSeconds/2)
		} else {
			next.CurrentPollSeconds = minI64(state.MaxPollSeconds, scaleUp(state.CurrentPollSeconds))
		}
		next.FailureStreak = 0
	case model.OutcomeNotMod:
		next.CurrentPollSeconds = minI64(state.MaxPollSeconds, scaleUp(state.CurrentPollSeconds))
		next.FailureStreak = 0
	case model.OutcomeRetryable:
		next.FailureStreak = state.FailureStreak + 1
		streak := next.FailureStreak
		if streak > 8 {
			streak = 8
		}
		next.CurrentPollSeconds = minI64(state.MaxPollSeconds, baseSeconds*powInt64(2, streak))
	case model.OutcomeFatal:
		next.CurrentPollSeconds = state.MaxPollSeconds
		next.FailureStreak = state.FailureStreak + 1
	}

	// Clamp current to [base, max] (invariant, spec.md §8 property 9).
	if next.CurrentPollSeconds < baseSeconds {
		next.CurrentPollSeconds = baseSeconds
	}
	if next.CurrentPollSeconds > next.MaxPollSeconds {
		next.CurrentPollSeconds = next.MaxPollSeconds
	}

	intervalMs := next.CurrentPollSeconds * 1000
	jitterMs := int64(float64(intervalMs) * next.JitterFraction * (2*rand - 1))
	total := clampInterval(intervalMs+jitterMs, baseSeconds, next.MaxPollSeconds)
	nextAt := nowMs + total
	if in.RetryAfterMs > 0 && nowMs+in.RetryAfterMs > nextAt {
		nextAt = nowMs + in.RetryAfterMs
	}
	next.NextPollAtMs = nextAt
	return next
}

func scaleUp(current int64) int64 {
	return int64(float64(current) * 1.5)
}

func powInt64(base int64, exp int) int64 {
	result := int64(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
