package linkstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedscheduler/internal/model"
)

func TestInitial_FirstPollImmediate(t *testing.T) {
	st := Initial("f1", 60, 3600, 0.2, 1000)
	assert.Equal(t, int64(1000), st.NextPollAtMs)
	assert.Equal(t, int64(60), st.CurrentPollSeconds)
	assert.Equal(t, model.StatusUnknown, st.LastStatus)
}

func TestDecide_SleepWhenNotDue(t *testing.T) {
	st := Initial("f1", 60, 3600, 0, 1000)
	st.NextPollAtMs = 5000
	action := Decide(st, 1000)
	require.Equal(t, ActionSleep, action.Kind)
	assert.Equal(t, int64(5000), action.SleepUntilMs)
}

func TestDecide_HeadWhenValidatorsAndHealthy(t *testing.T) {
	st := Initial("f1", 60, 3600, 0, 1000)
	st.ETag = `"a"`
	st.LastStatus = model.StatusOk
	st.FailureStreak = 0
	assert.Equal(t, ActionDoHead, Decide(st, 1000).Kind)
}

func TestDecide_GetWhenNoValidatorsOrUnhealthy(t *testing.T) {
	st := Initial("f1", 60, 3600, 0, 1000)
	assert.Equal(t, ActionDoGet, Decide(st, 1000).Kind)

	st.ETag = `"a"`
	st.LastStatus = model.StatusOk
	st.FailureStreak = 1
	assert.Equal(t, ActionDoGet, Decide(st, 1000).Kind)
}

// S2 — Conditional HEAD 304: current = min(max, 120*1.5) = 180.
func TestApplyOutcome_NotModifiedScalesUp(t *testing.T) {
	st := model.LinkState{
		FeedID:             "f1",
		CurrentPollSeconds: 120,
		MaxPollSeconds:     3600,
		JitterFraction:     0,
		LastStatus:         model.StatusOk,
	}
	next := ApplyOutcome(st, 60, CadenceInput{Outcome: model.OutcomeNotMod}, 10_000, 0.5)
	assert.Equal(t, int64(180), next.CurrentPollSeconds)
	assert.Equal(t, int64(10_000+180_000), next.NextPollAtMs)
	assert.Zero(t, next.FailureStreak)
}

// S3 — three transient 503s then recovery.
func TestApplyOutcome_RetryableEscalatesThenRecovers(t *testing.T) {
	st := model.LinkState{CurrentPollSeconds: 60, MaxPollSeconds: 3600, JitterFraction: 0}
	for i := 0; i < 3; i++ {
		st = ApplyOutcome(st, 60, CadenceInput{Outcome: model.OutcomeRetryable}, 0, 0.5)
	}
	assert.Equal(t, 3, st.FailureStreak)
	assert.Equal(t, int64(480), st.CurrentPollSeconds) // 60*2^3

	st.ContentHash = "" // first success counts as new content
	recovered := ApplyOutcome(st, 60, CadenceInput{Outcome: model.OutcomeOk, NewContent: true}, 0, 0.5)
	assert.Zero(t, recovered.FailureStreak)
	assert.Equal(t, int64(60), recovered.CurrentPollSeconds)
}

// S5 — Fatal 404 parks the feed at max and clears validators (validator
// clearing is an action-layer responsibility; here we check cadence only).
func TestApplyOutcome_FatalParksAtMax(t *testing.T) {
	st := model.LinkState{CurrentPollSeconds: 60, MaxPollSeconds: 3600, JitterFraction: 0, FailureStreak: 0}
	next := ApplyOutcome(st, 60, CadenceInput{Outcome: model.OutcomeFatal}, 0, 0.5)
	assert.Equal(t, int64(3600), next.CurrentPollSeconds)
	assert.Equal(t, 1, next.FailureStreak)
}

// S6 — 429 Retry-After is a lower bound on NextPollAtMs.
func TestApplyOutcome_RetryAfterLowerBound(t *testing.T) {
	st := model.LinkState{CurrentPollSeconds: 60, MaxPollSeconds: 3600, JitterFraction: 0}
	next := ApplyOutcome(st, 60, CadenceInput{Outcome: model.OutcomeRetryable, RetryAfterMs: 30_000}, 0, 0.5)
	assert.GreaterOrEqual(t, next.NextPollAtMs, int64(30_000))
}

// Property 1 / 9: jitter-clamped interval and clamped current for a wide
// sweep of outcomes and rand values.
func TestApplyOutcome_IntervalAndCurrentAlwaysClamped(t *testing.T) {
	base := int64(60)
	outcomes := []model.Outcome{model.OutcomeOk, model.OutcomeNotMod, model.OutcomeRetryable, model.OutcomeFatal}
	for _, oc := range outcomes {
		for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
			st := model.LinkState{CurrentPollSeconds: 600, MaxPollSeconds: 3600, JitterFraction: 0.2}
			next := ApplyOutcome(st, base, CadenceInput{Outcome: oc, NewContent: true}, 100_000, r)
			assert.GreaterOrEqual(t, next.CurrentPollSeconds, base)
			assert.LessOrEqual(t, next.CurrentPollSeconds, next.MaxPollSeconds)
			delta := next.NextPollAtMs - 100_000
			assert.GreaterOrEqual(t, delta, base*500)
			assert.LessOrEqual(t, delta, next.MaxPollSeconds*1500)
		}
	}
}
