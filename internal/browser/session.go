// Package browser provides the page-automation sessions the crawler drives.
//
// A Session is a single stateful browser tab (or its HTTP equivalent). The crawl
// controller owns it for the whole run; only the page fetcher issues commands on it.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInit reports that a session could not be constructed. Nothing has been crawled when it occurs.
	ErrInit = errors.New("browser session init failed")
	// ErrNavigationTimeout reports that a navigation did not finish within its deadline.
	// Whatever has rendered so far is still available; callers should continue.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrNavigation reports a failed navigation (network error, crashed target, ...).
	ErrNavigation = errors.New("navigation failed")
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("browser session closed")
)

// Session is the capability surface the page fetcher depends on.
type Session interface {
	// Navigate loads url, giving up waiting after timeout. A timeout is reported as ErrNavigationTimeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// CurrentMarkup returns the markup rendered so far.
	CurrentMarkup(ctx context.Context) (string, error)
	// HasMarker reports whether the current markup matches m.
	HasMarker(ctx context.Context, m Marker) (bool, error)
	// SendCancelSignal asks the page to stop loading, freezing what has rendered.
	SendCancelSignal(ctx context.Context) error
	// InjectCookies sets cookies best-effort; individual failures are logged, not returned.
	InjectCookies(ctx context.Context, cookies map[string]string) error
	// Close releases the underlying browser resources. It is safe to call more than once.
	Close(ctx context.Context) error
}
