package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/browser"
	"github.com/JakeFAU/ershoufang-crawler/internal/config"
	"github.com/JakeFAU/ershoufang-crawler/internal/crawl"
	"github.com/JakeFAU/ershoufang-crawler/internal/extract"
	"github.com/JakeFAU/ershoufang-crawler/internal/fetcher"
	"github.com/JakeFAU/ershoufang-crawler/internal/id/uuid"
	"github.com/JakeFAU/ershoufang-crawler/internal/logging"
	"github.com/JakeFAU/ershoufang-crawler/internal/metrics"
	"github.com/JakeFAU/ershoufang-crawler/internal/notify"
	"github.com/JakeFAU/ershoufang-crawler/internal/operator"
	"github.com/JakeFAU/ershoufang-crawler/internal/sink"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl from
// crawl.start_page to crawl.max_page and writes what it collected.
func newCrawlCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl listing pages and write the collected records",
		Long: `Opens a browser session, walks the configured page range and stops early
at the first page without listings. When an anti-bot challenge appears the
crawl waits until an operator confirms it was solved, either by pressing
Enter on the console or through POST /v1/challenge/confirm on the operator
HTTP server. Ctrl-C stops the crawl; records gathered so far are still written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCrawl(ctx, cmd, v, *cfgFile, browser.Open)
		},
	}

	flags := cmd.Flags()
	flags.Int("start-page", 0, "first page to crawl")
	flags.Int("max-page", 0, "last page to crawl")
	flags.String("output", "", "destination: a CSV path, gs://bucket/object or a postgres:// DSN (comma separated for several)")
	flags.Bool("headless", false, "run the browser without a window")
	flags.String("backend", "", "session backend: chromedp or static")
	flags.String("http-addr", "", "listen address of the operator HTTP server")
	bindFlag(v, "crawl.start_page", cmd, "start-page")
	bindFlag(v, "crawl.max_page", cmd, "max-page")
	bindFlag(v, "output.destination", cmd, "output")
	bindFlag(v, "browser.headless", cmd, "headless")
	bindFlag(v, "browser.backend", cmd, "backend")
	bindFlag(v, "operator.http_addr", cmd, "http-addr")

	return cmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	_ = v.BindPFlag(key, cmd.Flags().Lookup(name))
}

// sessionOpener starts the browser session for a run.
type sessionOpener func(ctx context.Context, opts browser.Options, logger *zap.Logger) (browser.Session, error)

func runCrawl(ctx context.Context, cmd *cobra.Command, v *viper.Viper, cfgFile string, open sessionOpener) error {
	if v.GetBool("verbose") {
		v.Set("logging.level", "debug")
	}
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	publisher, err := openPublisher(ctx, cfg.Notify, logger.Named("notify"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			logger.Warn("closing publisher failed", zap.Error(cerr))
		}
	}()

	confirmer, shutdown, err := buildConfirmer(cfg.Operator, cmd.InOrStdin(), cmd.OutOrStdout(), logger.Named("operator"))
	if err != nil {
		return err
	}
	defer shutdown()

	opts, err := cfg.BrowserOptions()
	if err != nil {
		return err
	}
	// The session comes up before any output target is touched.
	session, err := open(ctx, opts, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}

	out, err := sink.Open(ctx, cfg.Output.Destination, sink.Options{RunID: runID, Logger: logger.Named("sink")})
	if err != nil {
		_ = session.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("closing sink failed", zap.Error(cerr))
		}
	}()

	destination := sink.Redact(cfg.Output.Destination)
	runCfg := cfg.RunConfig()
	runCfg.Destination = destination

	f := fetcher.New(session, confirmer, cfg.FetcherConfig(), logger.Named("fetcher"))
	controller, err := crawl.New(runCfg, crawl.Deps{
		Session:   session,
		Fetcher:   f,
		Extractor: extract.New(logger.Named("extract")),
		Sink:      out,
		Publisher: publisher,
		Logger:    logger.Named("crawl"),
	}, crawl.WithRunID(runID))
	if err != nil {
		_ = session.Close(context.WithoutCancel(ctx))
		return err
	}

	res, err := controller.Run(ctx)
	printSummary(cmd.OutOrStdout(), res, destination)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}

func openPublisher(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (notify.Publisher, error) {
	if cfg.PubSubProject == "" {
		return notify.Nop{}, nil
	}
	p, err := notify.OpenPubSub(ctx, cfg.PubSubProject, cfg.PubSubTopic, logger)
	if err != nil {
		return nil, fmt.Errorf("open publisher: %w", err)
	}
	return p, nil
}

// buildConfirmer combines the console and the operator HTTP server, whichever
// are enabled. The returned func stops the server.
func buildConfirmer(cfg config.OperatorConfig, in io.Reader, out io.Writer, logger *zap.Logger) (fetcher.Confirmer, func(), error) {
	var confirmers operator.Any
	if cfg.Console {
		confirmers = append(confirmers, operator.NewConsole(in, out))
	}
	if cfg.HTTPAddr == "" {
		if len(confirmers) == 0 {
			return nil, nil, operator.ErrNoConfirmers
		}
		return confirmers, func() {}, nil
	}

	gate := operator.NewGate()
	confirmers = append(confirmers, gate)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           operator.NewServer(gate, cfg.APIKey, logger).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		logger.Info("operator server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("operator server failed", zap.Error(err))
		}
	}()
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("operator server shutdown failed", zap.Error(err))
		}
	}
	return confirmers, shutdown, nil
}

func printSummary(w io.Writer, res crawl.Result, destination string) {
	s := res.Summary
	if s.Count == 0 {
		fmt.Fprintln(w, "未爬取到任何二手房数据 (nothing collected)")
		return
	}
	fmt.Fprintf(w, "爬取完成 (done): %d 条房源 (listings)\n", s.Count)
	if s.PricedCount > 0 {
		fmt.Fprintf(w, "价格范围 (price range): %.1f - %.1f 万\n", s.MinPrice, s.MaxPrice)
		fmt.Fprintf(w, "平均价格 (average): %.1f 万\n", s.AveragePrice)
	}
	if res.Flushed {
		fmt.Fprintf(w, "数据已保存到 (written to): %s\n", destination)
	}
}
