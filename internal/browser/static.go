package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// StaticConfig controls the plain HTTP session.
type StaticConfig struct {
	UserAgent string
	// HomeURL is the origin cookies are attached to.
	HomeURL      string
	CookieDomain string
}

// Static implements Session with a Colly collector. It does not execute JavaScript,
// so it only suits properties that render their listings server-side.
type Static struct {
	cfg       StaticConfig
	logger    *zap.Logger
	collector *colly.Collector

	mu     sync.Mutex
	markup string
	closed bool
	// visit identifies the navigation whose response may set markup.
	visit uint64
}

// NewStatic builds a Static session.
func NewStatic(cfg StaticConfig, logger *zap.Logger) *Static {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	return &Static{cfg: cfg, logger: logger, collector: c}
}

// Navigate fetches url and keeps the body as the current markup. The previous
// page's markup is discarded first, so a timed-out page reads as empty.
func (s *Static) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	visit, err := s.beginVisit()
	if err != nil {
		return err
	}
	collector := s.collector.Clone()
	if timeout > 0 {
		collector.SetRequestTimeout(timeout)
	}
	collector.OnResponse(func(r *colly.Response) {
		s.setMarkup(visit, string(r.Body))
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil && len(r.Body) > 0 {
			s.setMarkup(visit, string(r.Body))
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The abandoned visit keeps running; its response must not land.
		s.abandonVisit(visit)
		return fmt.Errorf("navigate: %w", ctx.Err())
	case err := <-done:
		return classifyHTTPError(err)
	}
}

func classifyHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNavigation, err)
}

// CurrentMarkup returns the last response body.
func (s *Static) CurrentMarkup(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.markup, nil
}

// HasMarker evaluates m against the last response body.
func (s *Static) HasMarker(ctx context.Context, m Marker) (bool, error) {
	html, err := s.CurrentMarkup(ctx)
	if err != nil {
		return false, err
	}
	return m.Match(html), nil
}

// SendCancelSignal is a no-op: responses are read whole.
func (s *Static) SendCancelSignal(_ context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return nil
}

// InjectCookies stores cookies in the collector jar for HomeURL.
func (s *Static) InjectCookies(_ context.Context, cookies map[string]string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.cfg.HomeURL == "" {
		s.logger.Warn("no home url configured; cookies skipped", zap.Int("total", len(cookies)))
		return nil
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	jar := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		jar = append(jar, &http.Cookie{
			Name:   name,
			Value:  cookies[name],
			Domain: s.cfg.CookieDomain,
			Path:   "/",
		})
	}
	if err := s.collector.SetCookies(s.cfg.HomeURL, jar); err != nil {
		s.logger.Warn("set cookies failed", zap.Error(err))
		return nil
	}
	s.logger.Info("cookies injected", zap.Int("total", len(jar)))
	return nil
}

// Close marks the session closed.
func (s *Static) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Static) beginVisit() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	s.visit++
	s.markup = ""
	return s.visit, nil
}

func (s *Static) abandonVisit(visit uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visit == visit {
		s.visit++
	}
}

func (s *Static) setMarkup(visit uint64, markup string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visit != visit {
		return
	}
	s.markup = markup
}

func (s *Static) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
