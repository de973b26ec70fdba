package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleMarkup = `<html><body><ul class="sellListContent"><li>house</li></ul>` +
	`<div class="note">点击按钮开始验证</div></body></html>`

func TestMarkerMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		marker Marker
		markup string
		want   bool
	}{
		{name: "selector found", marker: Marker{Selector: ".sellListContent"}, markup: sampleMarkup, want: true},
		{name: "selector missing", marker: Marker{Selector: ".geetest_captcha"}, markup: sampleMarkup, want: false},
		{name: "phrase found", marker: Marker{Phrases: []string{"人机验证", "点击按钮开始验证"}}, markup: sampleMarkup, want: true},
		{name: "blank phrases ignored", marker: Marker{Phrases: []string{"", "  "}}, markup: sampleMarkup, want: false},
		{name: "empty markup", marker: Marker{Selector: "body"}, markup: "", want: false},
		{name: "invalid selector", marker: Marker{Selector: "[[["}, markup: sampleMarkup, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.marker.Match(tt.markup))
		})
	}
}

func TestMarkerIsZero(t *testing.T) {
	t.Parallel()

	require.True(t, Marker{}.IsZero())
	require.True(t, Marker{Selector: " ", Phrases: []string{""}}.IsZero())
	require.False(t, Marker{Phrases: []string{"x"}}.IsZero())
}

func TestClassifyNavError(t *testing.T) {
	t.Parallel()

	require.NoError(t, classifyNavError(context.Background(), nil))

	err := classifyNavError(context.Background(), fmt.Errorf("wait: %w", context.DeadlineExceeded))
	require.ErrorIs(t, err, ErrNavigationTimeout)

	err = classifyNavError(context.Background(), errors.New("net::ERR_CONNECTION_RESET"))
	require.ErrorIs(t, err, ErrNavigation)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = classifyNavError(ctx, context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrNavigation)
}

func TestChromedpConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := ChromedpConfig{}.withDefaults()
	require.Equal(t, defaultUserAgent, cfg.UserAgent)
	require.Equal(t, 1920, cfg.WindowWidth)
	require.Equal(t, 1080, cfg.WindowHeight)
	require.Equal(t, defaultOpTimeout, cfg.OpTimeout)
	require.NotEmpty(t, allocatorOptions(cfg))
}

func TestChromedpClosedSessionRejectsCalls(t *testing.T) {
	t.Parallel()

	s := NewChromedp(ChromedpConfig{}, zap.NewNop())
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "close is idempotent")

	ctx := context.Background()
	require.ErrorIs(t, s.Navigate(ctx, "https://example.com", time.Second), ErrSessionClosed)
	_, err := s.CurrentMarkup(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, s.SendCancelSignal(ctx), ErrSessionClosed)
	require.ErrorIs(t, s.InjectCookies(ctx, map[string]string{"a": "b"}), ErrSessionClosed)
}

func TestStaticNavigateAndMarkers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(sampleMarkup))
	}))
	defer srv.Close()

	s := NewStatic(StaticConfig{HomeURL: srv.URL}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Navigate(ctx, srv.URL+"/pg1/", time.Second))
	require.NoError(t, s.Navigate(ctx, srv.URL+"/pg1/", time.Second), "revisits are allowed")

	markup, err := s.CurrentMarkup(ctx)
	require.NoError(t, err)
	require.Contains(t, markup, "sellListContent")

	ok, err := s.HasMarker(ctx, Marker{Selector: ".sellListContent"})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.SendCancelSignal(ctx))
	require.NoError(t, s.InjectCookies(ctx, map[string]string{"lianjia_token": "abc"}))
}

func TestStaticNavigateTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	s := NewStatic(StaticConfig{}, zap.NewNop())
	err := s.Navigate(context.Background(), srv.URL, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrNavigationTimeout)
}

func TestStaticNavigateHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStatic(StaticConfig{}, zap.NewNop())
	err := s.Navigate(context.Background(), srv.URL, time.Second)
	require.ErrorIs(t, err, ErrNavigation)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Options{Backend: "lynx"}, zap.NewNop())
	require.ErrorIs(t, err, ErrInit)
}

func TestOpenStaticBackend(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Options{
		Backend: BackendStatic,
		Static:  StaticConfig{HomeURL: "https://bj.lianjia.com/", CookieDomain: ".lianjia.com"},
		Cookies: map[string]string{"select_city": "110000"},
	}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &Static{}, s)
	require.NoError(t, s.Close(context.Background()))
}

func slowPageServer(t *testing.T, slow string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == slow {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><ul class="sellListContent"><li>%s</li></ul></body></html>`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticTimedOutPageDropsPreviousMarkup(t *testing.T) {
	t.Parallel()

	srv := slowPageServer(t, "/pg2/", 500*time.Millisecond)
	s := NewStatic(StaticConfig{}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, srv.URL+"/pg1/", time.Second))
	markup, err := s.CurrentMarkup(ctx)
	require.NoError(t, err)
	require.Contains(t, markup, "/pg1/")

	err = s.Navigate(ctx, srv.URL+"/pg2/", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNavigationTimeout)
	markup, err = s.CurrentMarkup(ctx)
	require.NoError(t, err)
	require.Empty(t, markup)

	ok, err := s.HasMarker(ctx, Marker{Selector: ".sellListContent"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStaticCancelledVisitNeverSetsMarkup(t *testing.T) {
	t.Parallel()

	srv := slowPageServer(t, "/pg1/", 200*time.Millisecond)
	s := NewStatic(StaticConfig{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Navigate(ctx, srv.URL+"/pg1/", 2*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Never(t, func() bool {
		markup, _ := s.CurrentMarkup(context.Background())
		return markup != ""
	}, 500*time.Millisecond, 20*time.Millisecond)
}
