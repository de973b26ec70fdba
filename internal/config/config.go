// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/ershoufang-crawler/internal/browser"
	"github.com/JakeFAU/ershoufang-crawler/internal/crawl"
	"github.com/JakeFAU/ershoufang-crawler/internal/fetcher"
	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

// EnvPrefix namespaces environment overrides, e.g. ERSHOUFANG_CRAWL_MAX_PAGE=20.
const EnvPrefix = "ERSHOUFANG"

// Config captures every knob of a crawl run.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Output   OutputConfig   `mapstructure:"output"`
	Operator OperatorConfig `mapstructure:"operator"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig bounds the page range and pacing.
type CrawlConfig struct {
	StartPage       int      `mapstructure:"start_page"`
	MaxPage         int      `mapstructure:"max_page"`
	URLTemplate     string   `mapstructure:"url_template"`
	DelayMinSeconds float64  `mapstructure:"delay_min_seconds"`
	DelayMaxSeconds float64  `mapstructure:"delay_max_seconds"`
	ColumnOrder     []string `mapstructure:"column_order"`
}

// FetchConfig bounds the load and poll protocol and names its markers.
type FetchConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CancelSettle      time.Duration `mapstructure:"cancel_settle"`
	ContentSelector   string        `mapstructure:"content_selector"`
	ChallengeSelector string        `mapstructure:"challenge_selector"`
	ChallengePhrases  []string      `mapstructure:"challenge_phrases"`
}

// BrowserConfig selects the session backend.
type BrowserConfig struct {
	Backend      string `mapstructure:"backend"`
	Headless     bool   `mapstructure:"headless"`
	UserAgent    string `mapstructure:"user_agent"`
	HomeURL      string `mapstructure:"home_url"`
	CookieDomain string `mapstructure:"cookie_domain"`
	// Cookies are "name=value" entries; one entry may hold several pairs separated by ";".
	Cookies    []string      `mapstructure:"cookies"`
	WarmupWait time.Duration `mapstructure:"warmup_wait"`
}

// OutputConfig names where records are written.
type OutputConfig struct {
	Destination string `mapstructure:"destination"`
}

// OperatorConfig controls how challenge confirmations reach the crawler.
type OperatorConfig struct {
	Console  bool   `mapstructure:"console"`
	HTTPAddr string `mapstructure:"http_addr"`
	APIKey   string `mapstructure:"api_key"`
}

// NotifyConfig enables run summary publication when both fields are set.
type NotifyConfig struct {
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ConfigName is the file searched for in ./ and $HOME/.ershoufang when no path is given.
const ConfigName = "ershoufang"

// Load builds a Config from defaults, an optional file, and the environment.
// Flags bound to v before the call take precedence over all three.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ershoufang")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	def := fetcher.DefaultConfig()

	v.SetDefault("crawl.start_page", 1)
	v.SetDefault("crawl.max_page", 100)
	v.SetDefault("crawl.url_template", "https://bj.lianjia.com/ershoufang/pg{page}/")
	v.SetDefault("crawl.delay_min_seconds", 3.0)
	v.SetDefault("crawl.delay_max_seconds", 6.0)
	v.SetDefault("crawl.column_order", listing.DefaultColumnOrder)
	v.SetDefault("fetch.navigation_timeout", def.NavigationTimeout)
	v.SetDefault("fetch.poll_timeout", def.PollTimeout)
	v.SetDefault("fetch.poll_interval", def.PollInterval)
	v.SetDefault("fetch.cancel_settle", def.CancelSettle)
	v.SetDefault("fetch.content_selector", def.ContentMarker.Selector)
	v.SetDefault("fetch.challenge_selector", def.ChallengeMarker.Selector)
	v.SetDefault("fetch.challenge_phrases", def.ChallengeMarker.Phrases)
	v.SetDefault("browser.backend", browser.BackendChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.home_url", "https://bj.lianjia.com/")
	v.SetDefault("browser.cookie_domain", ".lianjia.com")
	v.SetDefault("browser.cookies", []string{})
	v.SetDefault("browser.warmup_wait", 2*time.Second)
	v.SetDefault("output.destination", "lianjia_ershoufang_beijing.csv")
	v.SetDefault("operator.console", true)
	v.SetDefault("operator.http_addr", "")
	v.SetDefault("operator.api_key", "")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if err := c.RunConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	f := c.Fetch
	if f.NavigationTimeout <= 0 || f.PollTimeout <= 0 || f.PollInterval <= 0 {
		errs = append(errs, errors.New("fetch timeouts and poll interval must be > 0"))
	}
	if f.PollInterval > f.PollTimeout {
		errs = append(errs, fmt.Errorf("fetch.poll_interval %s exceeds fetch.poll_timeout %s", f.PollInterval, f.PollTimeout))
	}
	if f.CancelSettle < 0 {
		errs = append(errs, errors.New("fetch.cancel_settle must be >= 0"))
	}
	if strings.TrimSpace(f.ContentSelector) == "" {
		errs = append(errs, errors.New("fetch.content_selector is required"))
	}
	if strings.TrimSpace(c.Output.Destination) == "" {
		errs = append(errs, errors.New("output.destination is required"))
	}
	switch c.Browser.Backend {
	case browser.BackendChromedp, browser.BackendStatic:
	default:
		errs = append(errs, fmt.Errorf("browser.backend %q is not supported", c.Browser.Backend))
	}
	if _, err := c.CookieMap(); err != nil {
		errs = append(errs, err)
	}
	if !c.Operator.Console && c.Operator.HTTPAddr == "" {
		errs = append(errs, errors.New("enable operator.console or set operator.http_addr to confirm challenges"))
	}
	if (c.Notify.PubSubProject == "") != (c.Notify.PubSubTopic == "") {
		errs = append(errs, errors.New("notify.pubsub_project and notify.pubsub_topic must be set together"))
	}
	return errors.Join(errs...)
}

// RunConfig converts the crawl section to the controller's value object.
func (c Config) RunConfig() crawl.Config {
	return crawl.Config{
		StartPage:   c.Crawl.StartPage,
		MaxPage:     c.Crawl.MaxPage,
		URLTemplate: c.Crawl.URLTemplate,
		DelayMin:    seconds(c.Crawl.DelayMinSeconds),
		DelayMax:    seconds(c.Crawl.DelayMaxSeconds),
		ColumnOrder: c.Crawl.ColumnOrder,
		Destination: c.Output.Destination,
	}
}

// FetcherConfig converts the fetch section to the fetcher's bounds and markers.
func (c Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		NavigationTimeout: c.Fetch.NavigationTimeout,
		PollTimeout:       c.Fetch.PollTimeout,
		PollInterval:      c.Fetch.PollInterval,
		CancelSettle:      c.Fetch.CancelSettle,
		ContentMarker:     browser.Marker{Selector: c.Fetch.ContentSelector},
		ChallengeMarker: browser.Marker{
			Selector: c.Fetch.ChallengeSelector,
			Phrases:  c.Fetch.ChallengePhrases,
		},
	}
}

// BrowserOptions converts the browser section for browser.Open.
func (c Config) BrowserOptions() (browser.Options, error) {
	cookies, err := c.CookieMap()
	if err != nil {
		return browser.Options{}, err
	}
	b := c.Browser
	return browser.Options{
		Backend: b.Backend,
		Chromedp: browser.ChromedpConfig{
			Headless:     b.Headless,
			UserAgent:    b.UserAgent,
			HomeURL:      b.HomeURL,
			CookieDomain: b.CookieDomain,
			WarmupWait:   b.WarmupWait,
		},
		Static: browser.StaticConfig{
			UserAgent:    b.UserAgent,
			HomeURL:      b.HomeURL,
			CookieDomain: b.CookieDomain,
		},
		Cookies: cookies,
	}, nil
}

// CookieMap parses browser.cookies. Names keep their case.
func (c Config) CookieMap() (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range c.Browser.Cookies {
		for _, pair := range strings.Split(entry, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, ok := strings.Cut(pair, "=")
			name = strings.TrimSpace(name)
			if !ok || name == "" {
				return nil, fmt.Errorf("browser.cookies entry %q is not name=value", pair)
			}
			out[name] = strings.TrimSpace(value)
		}
	}
	return out, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
