package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ershoufang-crawler/internal/browser"
	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	require.Equal(t, 1, cfg.Crawl.StartPage)
	require.Equal(t, 100, cfg.Crawl.MaxPage)
	require.Equal(t, "https://bj.lianjia.com/ershoufang/pg{page}/", cfg.Crawl.URLTemplate)
	require.Equal(t, listing.DefaultColumnOrder, cfg.Crawl.ColumnOrder)
	require.Equal(t, 5*time.Second, cfg.Fetch.NavigationTimeout)
	require.Equal(t, 2500*time.Millisecond, cfg.Fetch.PollTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.Fetch.PollInterval)
	require.Equal(t, time.Second, cfg.Fetch.CancelSettle)
	require.Equal(t, ".sellListContent", cfg.Fetch.ContentSelector)
	require.Equal(t, browser.BackendChromedp, cfg.Browser.Backend)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, "lianjia_ershoufang_beijing.csv", cfg.Output.Destination)
	require.True(t, cfg.Operator.Console)
	require.True(t, cfg.Logging.Development)

	run := cfg.RunConfig()
	require.Equal(t, 3*time.Second, run.DelayMin)
	require.Equal(t, 6*time.Second, run.DelayMax)
	require.Equal(t, cfg.Output.Destination, run.Destination)

	fc := cfg.FetcherConfig()
	require.Equal(t, ".sellListContent", fc.ContentMarker.Selector)
	require.Contains(t, fc.ChallengeMarker.Phrases, "人机验证")
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  start_page: 20
  max_page: 40
  url_template: "https://sh.lianjia.com/ershoufang/pg%d/"
  delay_min_seconds: 1.5
  delay_max_seconds: 2
  column_order: [total_price, title]
fetch:
  navigation_timeout: 8s
  poll_timeout: 4s
  poll_interval: 500ms
  cancel_settle: 0s
browser:
  backend: static
  headless: true
  cookies:
    - "lianjia_uuid=abc; select_city=110000"
    - "SERVERID=xyz"
output:
  destination: "gs://bucket/listings.csv"
operator:
  console: false
  http_addr: "127.0.0.1:8089"
notify:
  pubsub_project: proj
  pubsub_topic: runs
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	require.Equal(t, 20, cfg.Crawl.StartPage)
	require.Equal(t, 40, cfg.Crawl.MaxPage)
	require.Equal(t, []string{"total_price", "title"}, cfg.Crawl.ColumnOrder)
	require.Equal(t, 1500*time.Millisecond, cfg.RunConfig().DelayMin)
	require.Equal(t, 8*time.Second, cfg.Fetch.NavigationTimeout)
	require.Zero(t, cfg.Fetch.CancelSettle)
	require.Equal(t, browser.BackendStatic, cfg.Browser.Backend)
	require.Equal(t, "127.0.0.1:8089", cfg.Operator.HTTPAddr)
	require.Equal(t, "debug", cfg.Logging.Level)

	opts, err := cfg.BrowserOptions()
	require.NoError(t, err)
	require.Equal(t, browser.BackendStatic, opts.Backend)
	require.True(t, opts.Chromedp.Headless)
	require.Equal(t, map[string]string{
		"lianjia_uuid": "abc",
		"select_city":  "110000",
		"SERVERID":     "xyz",
	}, opts.Cookies)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBoundFlagOverridesDefault(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("crawl.max_page", 3)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Crawl.MaxPage)
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "start page zero", mutate: func(c *Config) { c.Crawl.StartPage = 0 }},
		{name: "max below start", mutate: func(c *Config) { c.Crawl.MaxPage = 0 }},
		{name: "template without slot", mutate: func(c *Config) { c.Crawl.URLTemplate = "https://bj.lianjia.com/" }},
		{name: "inverted delays", mutate: func(c *Config) { c.Crawl.DelayMinSeconds = 9 }},
		{name: "zero poll timeout", mutate: func(c *Config) { c.Fetch.PollTimeout = 0 }},
		{name: "interval above timeout", mutate: func(c *Config) { c.Fetch.PollInterval = 3 * time.Second }},
		{name: "negative settle", mutate: func(c *Config) { c.Fetch.CancelSettle = -time.Second }},
		{name: "no content selector", mutate: func(c *Config) { c.Fetch.ContentSelector = " " }},
		{name: "no destination", mutate: func(c *Config) { c.Output.Destination = "" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Browser.Backend = "selenium" }},
		{name: "bad cookie", mutate: func(c *Config) { c.Browser.Cookies = []string{"novalue"} }},
		{name: "no confirmation channel", mutate: func(c *Config) { c.Operator.Console = false }},
		{name: "half pubsub", mutate: func(c *Config) { c.Notify.PubSubProject = "proj" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestCookieMapAllowsEmptyValue(t *testing.T) {
	t.Parallel()

	cfg := Config{Browser: BrowserConfig{Cookies: []string{"a=; b=2;"}}}
	cookies, err := cfg.CookieMap()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "", "b": "2"}, cookies)
}
