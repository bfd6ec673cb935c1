package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/feedscheduler/internal/concurrency"
	"github.com/bryan-buckman/feedscheduler/internal/linkstate"
	"github.com/bryan-buckman/feedscheduler/internal/model"
	"github.com/bryan-buckman/feedscheduler/internal/ports"
)

// --- in-memory port fakes ---

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowEpochMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

type fixedRand struct{ v float64 }

func (r fixedRand) NextF64() float64 { return r.v }

// memRepo is a minimal in-memory ports.Repo for action-level tests.
type memRepo struct {
	mu       sync.Mutex
	states   map[string]model.LinkState
	history  []model.HistoryRecord
	items    map[string][]model.FeedItem
	failOnce bool
}

func newMemRepo() *memRepo {
	return &memRepo{states: map[string]model.LinkState{}, items: map[string][]model.FeedItem{}}
}

func (r *memRepo) DueFeeds(ctx context.Context, nowMs int64, limit int) ([]model.FeedConfig, error) {
	return nil, nil
}

func (r *memRepo) LatestState(ctx context.Context, feedID string) (model.LinkState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[feedID]
	return s, ok, nil
}

func (r *memRepo) UpsertLatestState(ctx context.Context, state model.LinkState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOnce {
		r.failOnce = false
		return assertErr
	}
	r.states[state.FeedID] = state
	return nil
}

func (r *memRepo) RecordHistory(ctx context.Context, rec model.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
	return nil
}

func (r *memRepo) UpsertItems(ctx context.Context, feedID string, items []model.FeedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[feedID] = append(r.items[feedID], items...)
	return nil
}

func (r *memRepo) UpsertFeedsBulk(ctx context.Context, feeds []model.FeedConfig, chunkSize int, timezone string) error {
	return nil
}

var assertErr = errAssert{}

type errAssert struct{}

func (errAssert) Error() string { return "simulated repo failure" }

type fakeParser struct {
	items []model.FeedItem
	err   error
}

func (p *fakeParser) Parse(feedURL string, body []byte) ([]model.FeedItem, error) {
	return p.items, p.err
}

// httpStub is a scripted ports.HTTP fake: each call consumes the next
// entry in its sequence, then holds on the last one.
type httpStub struct {
	mu       sync.Mutex
	headSeq  []stubResp
	getSeq   []stubResp
	headIdx  int
	getIdx   int
	getCalls int
}

type stubResp struct {
	resp ports.Response
	err  error
}

func (h *httpStub) Head(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (ports.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.headSeq[h.headIdx]
	if h.headIdx < len(h.headSeq)-1 {
		h.headIdx++
	}
	return r.resp, r.err
}

func (h *httpStub) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (ports.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.getCalls++
	r := h.getSeq[h.getIdx]
	if h.getIdx < len(h.getSeq)-1 {
		h.getIdx++
	}
	return r.resp, r.err
}

func newExecutor(repo *memRepo, http ports.HTTP, parser ports.FeedParser, clock *fakeClock, rand float64) *Executor {
	logger := logrus.New()
	logger.SetOutput(discardWriter{})
	return &Executor{
		HTTP:              http,
		Repo:              repo,
		Clock:             clock,
		Rand:              fixedRand{v: rand},
		Parser:            parser,
		Guards:            concurrency.NewGuards(16, 4),
		Log:               logger,
		HistorySampleRate: 0, // deterministic: never sample, unless test overrides
		UserAgent:         "feedscheduler-test/1.0",
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// --- S1: First-observation GET with new content ---

func TestDoGet_S1_FirstObservationNewContent(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := linkstate.Initial(feed.ID, feed.BasePollSeconds, 3600, 0, 0)

	http := &httpStub{getSeq: []stubResp{{resp: ports.Response{
		Status:    200,
		Headers:   map[string]string{"etag": `"a"`},
		BodyBytes: []byte("v1"),
	}}}}
	parser := &fakeParser{items: []model.FeedItem{{ItemID: "i1", Title: "hello"}}}
	repo := newMemRepo()
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, parser, clock, 0.5)

	result, err := exec.DoGet(context.Background(), feed, state)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOk, result.Outcome)
	assert.Equal(t, int64(60), result.State.CurrentPollSeconds)
	assert.Equal(t, `"a"`, result.State.ETag)
	assert.NotEmpty(t, result.State.ContentHash)
	assert.Equal(t, int64(60_000), result.State.NextPollAtMs)
	assert.Equal(t, 1, result.NewItems)

	persisted, ok, _ := repo.LatestState(context.Background(), "f1")
	require.True(t, ok)
	assert.Equal(t, result.State, persisted)
	assert.Len(t, repo.items["f1"], 1)
}

// --- S2: Conditional HEAD 304 ---

func TestDoHead_S2_NotModifiedScalesUp(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := model.LinkState{
		FeedID:             "f1",
		CurrentPollSeconds: 120,
		MaxPollSeconds:     3600,
		JitterFraction:     0,
		ETag:               `"a"`,
		LastStatus:         model.StatusOk,
	}

	http := &httpStub{headSeq: []stubResp{{resp: ports.Response{Status: 304}}}}
	repo := newMemRepo()
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, &fakeParser{}, clock, 0.5)

	result, err := exec.DoHead(context.Background(), feed, state)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotMod, result.Outcome)
	assert.Equal(t, int64(180), result.State.CurrentPollSeconds)
	assert.Equal(t, 0, http.getCalls)
	assert.Empty(t, repo.items["f1"])
}

// --- HEAD promotes to GET on upstream 200 ---

func TestDoHead_PromotesToGetOn200(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := model.LinkState{FeedID: "f1", CurrentPollSeconds: 60, MaxPollSeconds: 3600, ETag: `"a"`, LastStatus: model.StatusOk}

	http := &httpStub{
		headSeq: []stubResp{{resp: ports.Response{Status: 200}}},
		getSeq:  []stubResp{{resp: ports.Response{Status: 200, BodyBytes: []byte("v2"), Headers: map[string]string{"etag": `"b"`}}}},
	}
	repo := newMemRepo()
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, &fakeParser{}, clock, 0.5)

	result, err := exec.DoHead(context.Background(), feed, state)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOk, result.Outcome)
	assert.Equal(t, 1, http.getCalls)
	assert.Equal(t, `"b"`, result.State.ETag)
}

// --- S5: Fatal 404 clears validators and parks at max ---

func TestDoGet_S5_Fatal404ParksAndClearsValidators(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := model.LinkState{FeedID: "f1", CurrentPollSeconds: 60, MaxPollSeconds: 3600, ETag: `"a"`, LastStatus: model.StatusOk}

	http := &httpStub{getSeq: []stubResp{{resp: ports.Response{Status: 404}}}}
	repo := newMemRepo()
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, &fakeParser{}, clock, 0.5)

	result, err := exec.DoGet(context.Background(), feed, state)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFatal, result.Outcome)
	assert.Equal(t, int64(3600), result.State.CurrentPollSeconds)
	assert.Empty(t, result.State.ETag)
	assert.Equal(t, 1, result.State.FailureStreak)
}

// --- S6: 429 Retry-After lower bound ---

func TestDoGet_S6_RetryAfterLowerBound(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := model.LinkState{FeedID: "f1", CurrentPollSeconds: 60, MaxPollSeconds: 3600}

	http := &httpStub{getSeq: []stubResp{{resp: ports.Response{Status: 429, Headers: map[string]string{"retry-after": "30"}}}}}
	repo := newMemRepo()
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, &fakeParser{}, clock, 0.5)

	result, err := exec.DoGet(context.Background(), feed, state)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRetryable, result.Outcome)
	assert.GreaterOrEqual(t, result.State.NextPollAtMs, int64(30_000))
}

// --- infra-write retry: first UpsertLatestState fails, retried once ---

func TestDoGet_InfraWriteRetriedOnce(t *testing.T) {
	feed := model.FeedConfig{ID: "f1", URL: "https://example.com/feed", Domain: "example.com", BasePollSeconds: 60}
	state := linkstate.Initial(feed.ID, feed.BasePollSeconds, 3600, 0, 0)

	http := &httpStub{getSeq: []stubResp{{resp: ports.Response{Status: 200, BodyBytes: []byte("v1")}}}}
	repo := newMemRepo()
	repo.failOnce = true
	clock := &fakeClock{now: 0}
	exec := newExecutor(repo, http, &fakeParser{}, clock, 0.5)

	result, err := exec.DoGet(context.Background(), feed, state)
	require.NoError(t, err)
	_, ok, _ := repo.LatestState(context.Background(), "f1")
	assert.True(t, ok)
	assert.Equal(t, model.OutcomeOk, result.Outcome)
}
