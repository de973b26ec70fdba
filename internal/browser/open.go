package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendChromedp = "chromedp"
	BackendStatic   = "static"
)

// Options selects and configures a session backend.
type Options struct {
	Backend  string
	Chromedp ChromedpConfig
	Static   StaticConfig
	Cookies  map[string]string
}

// Open constructs the configured session and injects cookies into it.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		session Session
		err     error
	)
	switch opts.Backend {
	case "", BackendChromedp:
		session, err = OpenChromedp(ctx, opts.Chromedp, logger.Named("chromedp"))
	case BackendStatic:
		session = NewStatic(opts.Static, logger.Named("static"))
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrInit, opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if len(opts.Cookies) > 0 {
		if err := session.InjectCookies(ctx, opts.Cookies); err != nil {
			_ = session.Close(ctx)
			return nil, fmt.Errorf("%w: inject cookies: %w", ErrInit, err)
		}
	}
	return session, nil
}
