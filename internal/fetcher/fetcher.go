// Package fetcher acquires one listing page through a bounded load and poll protocol.
//
// A fetch never fails just because the page is slow: after the navigation and poll
// bounds elapse the page load is cancelled and whatever rendered is returned. The
// only escalation is a positively detected anti-bot challenge, which suspends the
// fetch until an operator confirms it has been solved in the live browser. That
// wait has no timeout; only cancelling the context ends it.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/browser"
	"github.com/JakeFAU/ershoufang-crawler/internal/clock/system"
	"github.com/JakeFAU/ershoufang-crawler/internal/metrics"
)

// Clock abstracts time so poll timelines can be simulated.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Notice describes a pending challenge for the operator.
type Notice struct {
	URL string
}

// Confirmer blocks until the operator reports a challenge as solved.
type Confirmer interface {
	AwaitConfirmation(ctx context.Context, notice Notice) error
}

// Outcome is what one acquisition produced.
type Outcome struct {
	Markup string
	// ContentConfirmed is true when the content marker was positively observed.
	ContentConfirmed    bool
	ChallengeWasPresent bool
}

// Config bounds each phase of the protocol and names the markers to look for.
type Config struct {
	NavigationTimeout time.Duration
	PollTimeout       time.Duration
	PollInterval      time.Duration
	// CancelSettle is how long to wait after the cancel signal before reading markup.
	CancelSettle    time.Duration
	ContentMarker   browser.Marker
	ChallengeMarker browser.Marker
}

// DefaultConfig returns the bounds and markers used for lianjia result pages.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 5 * time.Second,
		PollTimeout:       2500 * time.Millisecond,
		PollInterval:      250 * time.Millisecond,
		CancelSettle:      time.Second,
		ContentMarker:     browser.Marker{Selector: ".sellListContent"},
		ChallengeMarker: browser.Marker{
			Selector: ".geetest_captcha",
			Phrases:  []string{"人机验证", "geetest_captcha", "点击按钮开始验证", "请按语序依次点击"},
		},
	}
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// Fetcher drives a browser.Session through the acquisition protocol.
// It is not safe for concurrent use; the session it drives is single-tab.
type Fetcher struct {
	session   browser.Session
	confirmer Confirmer
	cfg       Config
	clock     Clock
	observer  Observer
	logger    *zap.Logger
	state     atomic.Int32
}

// New constructs a Fetcher. Zero durations in cfg fall back to DefaultConfig.
func New(session browser.Session, confirmer Confirmer, cfg Config, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		session:   session,
		confirmer: confirmer,
		cfg:       cfg.withDefaults(),
		clock:     system.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.CancelSettle < 0 {
		c.CancelSettle = 0
	}
	if c.ContentMarker.IsZero() {
		c.ContentMarker = def.ContentMarker
	}
	if c.ChallengeMarker.IsZero() {
		c.ChallengeMarker = def.ChallengeMarker
	}
	return c
}

// State reports the state of the acquisition in progress (Idle between calls).
func (f *Fetcher) State() State {
	return State(f.state.Load())
}

// Acquire loads url and returns its markup. Automation failures are returned as
// *TransientFetchError; cancellation of ctx is returned as the context error.
func (f *Fetcher) Acquire(ctx context.Context, url string) (Outcome, error) {
	defer f.transition(StateIdle)
	logger := f.logger.With(zap.String("url", url))
	start := f.clock.Now()

	f.transition(StateLoading)
	logger.Info("loading page")
	if err := f.session.Navigate(ctx, url, f.cfg.NavigationTimeout); err != nil {
		switch {
		case ctx.Err() != nil:
			return Outcome{}, ctx.Err()
		case errors.Is(err, browser.ErrNavigationTimeout):
			logger.Info("page load timed out; main content may already be rendered")
		default:
			return f.fail(url, err)
		}
	}

	f.transition(StatePolling)
	found, err := f.poll(ctx, true)
	if err != nil {
		return f.failOrCancel(ctx, url, err)
	}

	var outcome Outcome
	challenge := found.challenge
	if !found.content && !found.challenge {
		logger.Warn("no content or challenge marker before poll bound; stopping page load")
		if err := f.session.SendCancelSignal(ctx); err != nil {
			return f.failOrCancel(ctx, url, err)
		}
		if err := f.clock.Sleep(ctx, f.cfg.CancelSettle); err != nil {
			return Outcome{}, err
		}
		// The frozen page can still carry a challenge that rendered late.
		challenge, err = f.session.HasMarker(ctx, f.cfg.ChallengeMarker)
		if err != nil {
			return f.failOrCancel(ctx, url, err)
		}
	} else {
		outcome.ContentConfirmed = found.content && !found.challenge
	}
	metrics.ObserveFetchDuration(f.clock.Now().Sub(start))

	if challenge {
		outcome.ChallengeWasPresent = true
		confirmed, err := f.resolveChallenge(ctx, url, logger)
		if err != nil {
			return f.failOrCancel(ctx, url, err)
		}
		outcome.ContentConfirmed = confirmed
	}

	f.transition(StateContentReady)
	markup, err := f.session.CurrentMarkup(ctx)
	if err != nil {
		return f.failOrCancel(ctx, url, err)
	}
	outcome.Markup = markup
	if !outcome.ContentConfirmed {
		logger.Warn("page may be incomplete; using current markup")
	}
	return outcome, nil
}

// resolveChallenge suspends on the operator and then re-polls for content only.
func (f *Fetcher) resolveChallenge(ctx context.Context, url string, logger *zap.Logger) (bool, error) {
	f.transition(StateChallengeDetected)
	metrics.ObserveChallenge()
	logger.Warn("anti-bot challenge detected; waiting for operator")

	f.transition(StateAwaitingManualResolution)
	waitStart := f.clock.Now()
	if err := f.confirmer.AwaitConfirmation(ctx, Notice{URL: url}); err != nil {
		return false, fmt.Errorf("await confirmation: %w", err)
	}
	metrics.ObserveManualWait(f.clock.Now().Sub(waitStart))
	logger.Info("operator confirmed challenge resolution")

	f.transition(StatePolling)
	found, err := f.poll(ctx, false)
	if err != nil {
		return false, err
	}
	if found.content {
		logger.Info("content confirmed after verification")
	} else {
		logger.Warn("content still missing after verification")
	}
	return found.content, nil
}

type signals struct {
	content   bool
	challenge bool
}

// poll checks the markers every PollInterval until one fires or PollTimeout elapses.
func (f *Fetcher) poll(ctx context.Context, watchChallenge bool) (signals, error) {
	deadline := f.clock.Now().Add(f.cfg.PollTimeout)
	for {
		var (
			found signals
			err   error
		)
		if watchChallenge {
			found.challenge, err = f.session.HasMarker(ctx, f.cfg.ChallengeMarker)
			if err != nil {
				return signals{}, fmt.Errorf("check challenge marker: %w", err)
			}
		}
		found.content, err = f.session.HasMarker(ctx, f.cfg.ContentMarker)
		if err != nil {
			return signals{}, fmt.Errorf("check content marker: %w", err)
		}
		if found.challenge || found.content {
			return found, nil
		}

		remaining := deadline.Sub(f.clock.Now())
		if remaining <= 0 {
			return signals{}, nil
		}
		if err := f.clock.Sleep(ctx, min(f.cfg.PollInterval, remaining)); err != nil {
			return signals{}, err
		}
	}
}

func (f *Fetcher) failOrCancel(ctx context.Context, url string, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	return f.fail(url, err)
}

func (f *Fetcher) fail(url string, err error) (Outcome, error) {
	from := f.State()
	f.transition(StateFailed)
	f.logger.Error("page acquisition failed", zap.String("url", url), zap.Stringer("state", from), zap.Error(err))
	return Outcome{}, &TransientFetchError{URL: url, State: from, Err: err}
}

func (f *Fetcher) transition(to State) {
	from := State(f.state.Swap(int32(to)))
	if from == to {
		return
	}
	if f.observer != nil {
		f.observer(from, to)
	}
	f.logger.Debug("fetch state", zap.Stringer("from", from), zap.Stringer("to", to))
}
