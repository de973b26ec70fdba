// Package crawl drives page acquisition and extraction across a contiguous page range.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/clock/system"
	"github.com/JakeFAU/ershoufang-crawler/internal/fetcher"
	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
	"github.com/JakeFAU/ershoufang-crawler/internal/metrics"
	"github.com/JakeFAU/ershoufang-crawler/internal/notify"
	"github.com/JakeFAU/ershoufang-crawler/internal/sink"
)

const (
	releaseTimeout = 10 * time.Second
	publishTimeout = 15 * time.Second
	sampleRunes    = 20
)

// PageFetcher acquires the markup of one page.
type PageFetcher interface {
	Acquire(ctx context.Context, url string) (fetcher.Outcome, error)
}

// Extractor converts markup to records.
type Extractor interface {
	Extract(markup string) []listing.Record
}

// Releaser is the browser session owned by the run.
type Releaser interface {
	Close(ctx context.Context) error
}

// Sleeper pauses between pages.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Deps are the collaborators of a Controller. Publisher and Logger are optional.
type Deps struct {
	Session   Releaser
	Fetcher   PageFetcher
	Extractor Extractor
	Sink      sink.Sink
	Publisher notify.Publisher
	Logger    *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSleeper replaces the wall-clock pause.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithRand replaces the uniform [0,1) source used for politeness delays.
func WithRand(f func() float64) Option {
	return func(c *Controller) { c.rand = f }
}

// WithRunID tags logs and the published summary.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithNow replaces the clock stamped on the published summary.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the session for the duration of one run.
type Controller struct {
	cfg       Config
	session   Releaser
	fetcher   PageFetcher
	extractor Extractor
	sink      sink.Sink
	publisher notify.Publisher
	logger    *zap.Logger

	sleeper Sleeper
	rand    func() float64
	now     func() time.Time
	runID   string
}

// New validates cfg and wires the controller.
func New(cfg Config, deps Deps, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("crawl config: %w", err)
	}
	if deps.Session == nil || deps.Fetcher == nil || deps.Extractor == nil || deps.Sink == nil {
		return nil, errors.New("crawl: session, fetcher, extractor and sink are required")
	}
	c := &Controller{
		cfg:       cfg,
		session:   deps.Session,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		sink:      deps.Sink,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		sleeper:   system.New(),
		rand:      rand.Float64,
		now:       time.Now,
	}
	if c.publisher == nil {
		c.publisher = notify.Nop{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID != "" {
		c.logger = c.logger.With(zap.String("run_id", c.runID))
	}
	return c, nil
}

// Run crawls StartPage..MaxPage. Cancelling ctx stops the loop but whatever was
// collected is still flushed, and the session is released on every path. The
// returned error is non-nil only when the flush fails.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	res := Result{
		RunID: c.runID,
		State: State{StartPage: c.cfg.StartPage, MaxPage: c.cfg.MaxPage, Records: []listing.Record{}},
	}
	defer c.release(ctx)

	c.logger.Info("crawl starting",
		zap.Int("start_page", c.cfg.StartPage),
		zap.Int("max_page", c.cfg.MaxPage),
	)
	res.State.Reason = c.loop(ctx, &res)
	res.State.Terminated = true
	switch res.State.Reason {
	case ReasonInterrupted:
		c.logger.Warn("crawl interrupted", zap.Int("page", res.State.CurrentPage))
	case ReasonEmptyPage:
		c.logger.Info("page has no listings; stopping", zap.Int("page", res.State.CurrentPage))
	default:
		c.logger.Info("page range exhausted")
	}
	metrics.ObserveRun(string(res.State.Reason))

	res.Summary = listing.Summarize(res.State.Records)
	if err := c.flush(ctx, &res); err != nil {
		return res, err
	}
	c.publish(ctx, res)
	return res, nil
}

func (c *Controller) loop(ctx context.Context, res *Result) Reason {
	for page := c.cfg.StartPage; page <= c.cfg.MaxPage; page++ {
		if ctx.Err() != nil {
			return ReasonInterrupted
		}
		res.State.CurrentPage = page
		url := PageURL(c.cfg.URLTemplate, page)
		logger := c.logger.With(zap.Int("page", page))
		logger.Info("fetching page", zap.String("url", url))

		outcome, err := c.fetcher.Acquire(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return ReasonInterrupted
			}
			res.PagesFailed++
			metrics.ObservePage(metrics.PageFailed)
			var tfe *fetcher.TransientFetchError
			if errors.As(err, &tfe) {
				logger.Warn("page failed; skipping", zap.Stringer("state", tfe.State), zap.Error(tfe.Err))
			} else {
				logger.Warn("page failed; skipping", zap.Error(err))
			}
			continue
		}
		res.PagesFetched++
		if outcome.ChallengeWasPresent {
			res.Challenges++
		}

		records := c.extractor.Extract(outcome.Markup)
		if len(records) == 0 {
			metrics.ObservePage(metrics.PageEmpty)
			return ReasonEmptyPage
		}
		if outcome.ContentConfirmed {
			metrics.ObservePage(metrics.PageConfirmed)
		} else {
			metrics.ObservePage(metrics.PageDegraded)
		}
		metrics.ObserveRecords(len(records))
		res.State.Records = append(res.State.Records, records...)
		logger.Info("page collected",
			zap.Int("records", len(records)),
			zap.Int("total", len(res.State.Records)),
			zap.String("sample", sample(records[0])),
		)

		// Only a collected page is followed by a pause.
		if page < c.cfg.MaxPage {
			if err := c.pause(ctx); err != nil {
				return ReasonInterrupted
			}
		}
	}
	return ReasonCompleted
}

func (c *Controller) pause(ctx context.Context) error {
	low, high := c.cfg.DelayMin, c.cfg.DelayMax
	d := low + time.Duration(c.rand()*float64(high-low))
	if d > high {
		d = high
	}
	c.logger.Debug("politeness delay", zap.Duration("delay", d))
	metrics.ObservePolitenessDelay(d)
	return c.sleeper.Sleep(ctx, d)
}

func (c *Controller) flush(ctx context.Context, res *Result) error {
	if len(res.State.Records) == 0 {
		c.logger.Warn("nothing collected; output not written")
		return nil
	}
	// An interrupted run still writes what it collected.
	if err := c.sink.WriteAll(context.WithoutCancel(ctx), res.State.Records, c.cfg.ColumnOrder); err != nil {
		c.logger.Error("writing records failed", zap.Int("records", len(res.State.Records)), zap.Error(err))
		return fmt.Errorf("flush %d records: %w", len(res.State.Records), err)
	}
	res.Flushed = true
	c.logger.Info("records written",
		zap.Int("records", len(res.State.Records)),
		zap.String("destination", c.cfg.Destination),
	)
	return nil
}

func (c *Controller) publish(ctx context.Context, res Result) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	summary := notify.RunSummary{
		RunID:        res.RunID,
		StartPage:    res.State.StartPage,
		LastPage:     res.State.CurrentPage,
		PagesFetched: res.PagesFetched,
		PagesFailed:  res.PagesFailed,
		Challenges:   res.Challenges,
		Reason:       string(res.State.Reason),
		Destination:  c.cfg.Destination,
		Prices:       res.Summary,
		FinishedAt:   c.now().UTC(),
	}
	if err := c.publisher.Publish(pubCtx, summary); err != nil {
		c.logger.Warn("publishing run summary failed", zap.Error(err))
	}
}

func (c *Controller) release(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.session.Close(closeCtx); err != nil {
		c.logger.Warn("closing browser session failed", zap.Error(err))
		return
	}
	c.logger.Info("browser session closed")
}

func sample(r listing.Record) string {
	title := []rune(r.Title)
	if len(title) > sampleRunes {
		title = title[:sampleRunes]
	}
	return string(title) + "... - " + r.TotalPrice
}
