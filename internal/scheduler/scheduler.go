// Package scheduler is the orchestrator: it drives a fixed-interval tick
// loop, loads the due batch each tick, fans process_feed out across it,
// and owns the graceful-shutdown drain. It is grounded in the teacher's
// Fetcher/Poller split (internal/rss/fetcher.go kept one goroutine per
// domain ticker; here a single tick loop fans out instead, per spec.md
// §4.4) and in Resinat-Resin's probe.Manager Start/Stop/WaitGroup
// drain idiom (internal/probe/manager.go).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/feedscheduler/internal/actions"
	"github.com/bryan-buckman/feedscheduler/internal/linkstate"
	"github.com/bryan-buckman/feedscheduler/internal/model"
	"github.com/bryan-buckman/feedscheduler/internal/ports"
	"github.com/bryan-buckman/feedscheduler/internal/statusapi"
)

// Scheduler fans due feeds out to the action executor on a fixed tick
// cadence. A tick never overlaps the next: RunForever waits for the
// entire batch to finish before sleeping the remainder of the interval.
type Scheduler struct {
	Repo ports.Repo
	Exec *actions.Executor
	Clock ports.Clock
	Log  logrus.FieldLogger

	// Metrics is optional; when set, RunTick and ProcessFeed report the
	// due queue depth and per-outcome counts to it.
	Metrics *statusapi.Metrics

	TickInterval   time.Duration
	DueBatchSize   int
	MaxPollSeconds int64
	JitterFraction float64

	// ProcessingConcurrency bounds how many process_feed calls run at
	// once per tick — the "processing slot" pool of spec.md §4.4, kept
	// distinct from (and sized larger than) Exec.Guards' global HTTP
	// semaphore so feeds can sit in their decision/persistence phase
	// without consuming a network-admission slot. Zero means unbounded
	// (one goroutine per due feed).
	ProcessingConcurrency int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Scheduler. All fields on the returned value besides
// the unexported channels are the ones callers are expected to have
// already set on the struct literal; New only initializes lifecycle
// state.
func New(s Scheduler) *Scheduler {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	return &s
}

// RunForever blocks, running ticks at TickInterval until ctx is
// cancelled or Stop is called. A tick that runs longer than
// TickInterval is followed immediately by the next, never skipped.
func (s *Scheduler) RunForever(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		start := s.Clock.NowEpochMs()
		s.RunTick(ctx)
		elapsedMs := s.Clock.NowEpochMs() - start

		wait := s.TickInterval - time.Duration(elapsedMs)*time.Millisecond
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// Stop signals RunForever to stop after its current tick and waits up
// to drain for it to return. Per spec.md §7, infrastructure shutdown is
// bounded, not indefinite: a tick stuck past drain is abandoned, not
// waited on forever.
func (s *Scheduler) Stop(drain time.Duration) bool {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
		return true
	case <-time.After(drain):
		return false
	}
}

// RunTick loads the due batch and fans process_feed out across it,
// bounded by the global/per-host guards inside Exec, and waits for every
// feed in the batch to finish before returning (invariant: at most one
// state write per feed per tick, and ticks never overlap).
func (s *Scheduler) RunTick(ctx context.Context) {
	now := s.Clock.NowEpochMs()
	feeds, err := s.Repo.DueFeeds(ctx, now, s.DueBatchSize)
	if err != nil {
		s.Log.WithError(err).Error("due feeds query failed; tick skipped")
		return
	}
	if s.Metrics != nil {
		s.Metrics.DueQueueDepth.Set(float64(len(feeds)))
	}
	if len(feeds) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.ProcessingConcurrency > 0 {
		g.SetLimit(s.ProcessingConcurrency)
	}
	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			s.ProcessFeed(gctx, feed)
			return nil
		})
	}
	_ = g.Wait() // ProcessFeed never returns an error; per-feed failures are swallowed there.
}

// ProcessFeed loads a feed's LinkState (seeding one on first
// observation), decides whether to sleep/HEAD/GET, and executes the
// chosen action. Per-feed errors are logged and swallowed here — per
// spec.md §7, a single feed's failure never propagates above
// process_feed.
func (s *Scheduler) ProcessFeed(ctx context.Context, feed model.FeedConfig) {
	log := s.Log.WithField("feed_id", feed.ID)

	state, ok, err := s.Repo.LatestState(ctx, feed.ID)
	if err != nil {
		log.WithError(err).Error("latest state query failed; feed skipped this tick")
		return
	}

	now := s.Clock.NowEpochMs()
	if !ok {
		state = linkstate.Initial(feed.ID, feed.BasePollSeconds, s.MaxPollSeconds, s.JitterFraction, now)
	}

	next := linkstate.Decide(state, now)

	var (
		result actions.Result
		actErr error
	)
	switch next.Kind {
	case linkstate.ActionSleep:
		return
	case linkstate.ActionDoHead:
		result, actErr = s.Exec.DoHead(ctx, feed, state)
	case linkstate.ActionDoGet:
		result, actErr = s.Exec.DoGet(ctx, feed, state)
	}

	if actErr != nil {
		log.WithError(actErr).Warn("action did not complete")
		return
	}
	if s.Metrics != nil {
		s.Metrics.OutcomeCounters.WithLabelValues(string(result.Outcome)).Inc()
	}
	entry := log.WithFields(logrus.Fields{
		"outcome":     result.Outcome,
		"http_code":   result.HTTPCode,
		"duration_ms": result.DurationMs,
		"new_items":   result.NewItems,
	})
	switch result.Outcome {
	case model.OutcomeFatal:
		entry.Warn("tick processed feed")
	case model.OutcomeRetryable:
		entry.Info("tick processed feed")
	default:
		entry.Debug("tick processed feed")
	}
}
