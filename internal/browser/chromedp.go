package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
	defaultOpTimeout = 10 * time.Second

	// webdriverMask hides the automation flag most bot checks look at first.
	webdriverMask = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`
)

// ChromedpConfig controls how the Chrome session is launched and warmed up.
type ChromedpConfig struct {
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// HomeURL is visited once before cookies are injected so they bind to the right origin.
	HomeURL      string
	CookieDomain string
	WarmupWait   time.Duration
	// OpTimeout bounds markup reads and key dispatches.
	OpTimeout time.Duration
}

// Chromedp implements Session on top of a single chromedp browser tab.
type Chromedp struct {
	cfg    ChromedpConfig
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewChromedp prepares the allocator and tab context. Chrome is not launched until Open.
func NewChromedp(cfg ChromedpConfig, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return &Chromedp{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
}

// OpenChromedp launches Chrome, masks the webdriver flag and visits the home page.
// Any failure here is reported as ErrInit and the session is released.
func OpenChromedp(ctx context.Context, cfg ChromedpConfig, logger *zap.Logger) (*Chromedp, error) {
	s := NewChromedp(cfg, logger)
	if err := s.warmup(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	return s, nil
}

func (c ChromedpConfig) withDefaults() ChromedpConfig {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
	return c
}

func allocatorOptions(cfg ChromedpConfig) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
}

func (s *Chromedp) warmup(ctx context.Context) error {
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(webdriverMask).Do(ctx); err != nil {
				return fmt.Errorf("mask webdriver: %w", err)
			}
			return nil
		}),
	}
	if s.cfg.HomeURL != "" {
		actions = append(actions, chromedp.Navigate(s.cfg.HomeURL))
		if s.cfg.WarmupWait > 0 {
			actions = append(actions, chromedp.Sleep(s.cfg.WarmupWait))
		}
	}
	// The first Run allocates the browser and must use the tab context itself.
	if err := chromedp.Run(s.browserCtx); err != nil {
		return fmt.Errorf("chromedp launch: %w", err)
	}
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	s.logger.Info("browser ready", zap.Bool("headless", s.cfg.Headless), zap.String("home_url", s.cfg.HomeURL))
	return nil
}

// Navigate issues a navigation bounded by timeout.
func (s *Chromedp) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	navCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(navCtx, chromedp.Navigate(url))
	return classifyNavError(ctx, err)
}

// classifyNavError maps a chromedp navigation error onto the session error set.
func classifyNavError(parent context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return fmt.Errorf("navigate: %w", parent.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
}

// CurrentMarkup evaluates document.documentElement.outerHTML without waiting for the load event.
func (s *Chromedp) CurrentMarkup(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}
	var html string
	err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	if err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}
	return html, nil
}

// HasMarker snapshots the markup and evaluates m against it.
func (s *Chromedp) HasMarker(ctx context.Context, m Marker) (bool, error) {
	html, err := s.CurrentMarkup(ctx)
	if err != nil {
		return false, err
	}
	return m.Match(html), nil
}

// SendCancelSignal presses Escape and stops the page load, like a user would.
func (s *Chromedp) SendCancelSignal(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.run(ctx, chromedp.KeyEvent(kb.Escape), page.StopLoading()); err != nil {
		return fmt.Errorf("stop loading: %w", err)
	}
	return nil
}

// InjectCookies sets each cookie on the configured domain. Failures are logged per cookie.
func (s *Chromedp) InjectCookies(ctx context.Context, cookies map[string]string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	injected := 0
	for _, name := range names {
		setCookie := network.SetCookie(name, cookies[name]).WithPath("/")
		if s.cfg.CookieDomain != "" {
			setCookie = setCookie.WithDomain(s.cfg.CookieDomain)
		}
		if err := s.run(ctx, setCookie); err != nil {
			s.logger.Warn("add cookie failed", zap.String("cookie", name), zap.Error(err))
			continue
		}
		injected++
	}
	s.logger.Info("cookies injected", zap.Int("injected", injected), zap.Int("total", len(names)))
	return nil
}

// Close tears down the tab and the allocator.
func (s *Chromedp) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browserCancel()
	s.allocCancel()
	s.logger.Info("browser closed")
	return nil
}

func (s *Chromedp) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.OpTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (s *Chromedp) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// forwardCancel cancels a browser-scoped context when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
