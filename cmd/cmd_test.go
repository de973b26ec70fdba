package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/browser"
	"github.com/JakeFAU/ershoufang-crawler/internal/crawl"
	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

func fragment(code, title, price string) string {
	return fmt.Sprintf(`<li class="clear LOGVIEWDATA LOGCLICKDATA">
  <div class="title"><a href="https://bj.lianjia.com/ershoufang/%[1]s.html" data-housecode="%[1]s">%[2]s</a></div>
  <div class="positionInfo"><a>天通苑</a> - <a>昌平</a></div>
  <div class="houseInfo">3室1厅 | 120平米 | 南 | 简装 | 高楼层(共18层) | 2008年建 | 塔楼</div>
  <div class="totalPrice"><span>%[3]s</span><i>万</i></div>
  <div class="unitPrice"><span>50,000元/平</span></div>
</li>`, code, title, price)
}

func listingServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu   sync.Mutex
		hits []string
	)
	pages := map[string][]string{
		"/ershoufang/pg1/": {fragment("1001", "一号", "500"), fragment("1002", "二号", "300")},
		"/ershoufang/pg2/": {fragment("2001", "三号", "400")},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html><body><ul class="sellListContent">%s</ul></body></html>`,
			strings.Join(pages[r.URL.Path], "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), hits...)
	}
}

func writeConfig(t *testing.T, dir, baseURL, output string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
crawl:
  start_page: 1
  max_page: 5
  url_template: "%[1]s/ershoufang/pg{page}/"
  delay_min_seconds: 0
  delay_max_seconds: 0
fetch:
  navigation_timeout: 2s
  poll_timeout: 200ms
  poll_interval: 10ms
  cancel_settle: 0s
browser:
  backend: static
  home_url: "%[1]s/"
output:
  destination: "%[2]s"
logging:
  development: false
  level: error
`, baseURL, output)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.Equal(t, "ershoufang "+Version+"\n", out.String())
}

func TestCrawlCommandWritesCSV(t *testing.T) {
	t.Parallel()

	srv, hits := listingServer(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "out", "listings.csv")
	cfgPath := writeConfig(t, dir, srv.URL, output)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"crawl", "--config", cfgPath})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, []string{"/ershoufang/pg1/", "/ershoufang/pg2/", "/ershoufang/pg3/"}, hits())

	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("\xEF\xBB\xBF")))
	rows, err := csv.NewReader(bytes.NewReader(raw[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, listing.OrderColumns(listing.DefaultColumnOrder), rows[0])
	require.Equal(t, "一号", rows[1][0])
	require.Equal(t, "三号", rows[3][0])

	require.Contains(t, out.String(), "3 条房源")
	require.Contains(t, out.String(), "300.0 - 500.0")
	require.Contains(t, out.String(), output)
}

func TestCrawlCommandFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	srv, hits := listingServer(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, srv.URL, filepath.Join(dir, "ignored.csv"))
	output := filepath.Join(dir, "flag.csv")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"crawl", "--config", cfgPath, "--max-page", "1", "--output", output})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, []string{"/ershoufang/pg1/"}, hits())
	_, err := os.Stat(output)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ignored.csv"))
	require.True(t, os.IsNotExist(err))
}

func TestCrawlCommandRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "http://127.0.0.1:1", filepath.Join(dir, "out.csv"))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--config", cfgPath, "--backend", "lynx"})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "browser.backend")
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var empty bytes.Buffer
	printSummary(&empty, crawl.Result{}, "out.csv")
	require.Contains(t, empty.String(), "nothing collected")

	var full bytes.Buffer
	printSummary(&full, crawl.Result{
		Flushed: true,
		Summary: listing.Summary{Count: 2, PricedCount: 1, MinPrice: 380, MaxPrice: 380, AveragePrice: 380},
	}, "out.csv")
	require.Contains(t, full.String(), "2 条房源")
	require.Contains(t, full.String(), "380.0 - 380.0")
	require.Contains(t, full.String(), "out.csv")

	var unpriced bytes.Buffer
	printSummary(&unpriced, crawl.Result{Summary: listing.Summary{Count: 1}}, "out.csv")
	require.NotContains(t, unpriced.String(), "价格范围")
	require.NotContains(t, unpriced.String(), "out.csv")
}

type closeCountingSession struct {
	browser.Session
	closed int
}

func (s *closeCountingSession) Close(context.Context) error {
	s.closed++
	return nil
}

func quietViper(destination string) *viper.Viper {
	v := viper.New()
	v.Set("output.destination", destination)
	v.Set("logging.development", false)
	v.Set("logging.level", "error")
	return v
}

func quietCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	return cmd
}

func TestRunCrawlBrowserFailureLeavesSinkUntouched(t *testing.T) {
	t.Parallel()

	initErr := fmt.Errorf("%w: chrome not found", browser.ErrInit)
	failing := func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		return nil, initErr
	}
	// An unreachable database would fail loudly if the sink were opened.
	err := runCrawl(context.Background(), quietCommand(), quietViper("postgres://u:p@127.0.0.1:1/crawl"), "", failing)
	require.ErrorIs(t, err, browser.ErrInit)
	require.ErrorContains(t, err, "open browser")
	require.NotContains(t, err.Error(), "open sink")
}

func TestRunCrawlSinkFailureReleasesSession(t *testing.T) {
	t.Parallel()

	session := &closeCountingSession{}
	opener := func(context.Context, browser.Options, *zap.Logger) (browser.Session, error) {
		return session, nil
	}
	err := runCrawl(context.Background(), quietCommand(), quietViper("gs://bucket-only"), "", opener)
	require.ErrorContains(t, err, "open sink")
	require.False(t, errors.Is(err, browser.ErrInit))
	require.Equal(t, 1, session.closed)
}
