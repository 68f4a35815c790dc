package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/api"
	"github.com/JakeFAU/linkgate/internal/config"
	"github.com/JakeFAU/linkgate/internal/crawl"
	"github.com/JakeFAU/linkgate/internal/logging"
	"github.com/JakeFAU/linkgate/internal/metrics"
	"github.com/JakeFAU/linkgate/internal/page"
	"github.com/JakeFAU/linkgate/internal/progress"
	"github.com/JakeFAU/linkgate/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/linkgate/internal/publisher/pubsub"
	"github.com/JakeFAU/linkgate/internal/report"
	"github.com/JakeFAU/linkgate/internal/server"
	"github.com/JakeFAU/linkgate/internal/sieve"
	"github.com/JakeFAU/linkgate/internal/storage/gcs"
	"github.com/JakeFAU/linkgate/internal/storage/local"
)

// ErrBrokenLinks is returned by 'check' when the report is not clean.
var ErrBrokenLinks = errors.New("broken links found")

const shutdownTimeout = 5 * time.Second

// newCheckCmd creates the 'check' subcommand.
func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Serves the site, crawls it and reports broken links",
		Long: `Starts a static file server for --dir, waits for it to announce
readiness, then crawls from the site root. Every link and #fragment is
checked in the --domain URL space. The report goes to stdout and, when
configured, to a report directory or GCS bucket and a Pub/Sub topic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.Flags(), cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.String("dir", ".", "built site directory")
	flags.String("domain", "", "published site root, e.g. https://docs.example.com")
	flags.String("root-path", "/", "path the crawl starts from")
	flags.Int("port", config.DefaultPort, "local port for the static server")
	flags.String("format", "text", "report format: text, json or markdown")
	flags.Int("max-pages", 0, "stop after this many pages (0 = no limit)")
	flags.StringSlice("exclude", nil, "path patterns to skip (exact, prefix/ or glob)")
	flags.String("report-dir", "", "also write the report under this directory")
	flags.String("metrics", "", "serve /metrics and /v1/status on this address")
	flags.String("log-level", "info", "log level")
	flags.Bool("development", false, "human-readable development logging")
	return cmd
}

func runCheck(ctx context.Context, flags *pflag.FlagSet, out io.Writer) error {
	cfg, err := config.Load(cfgFile, flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	sv, err := sieve.New(cfg.Site.Domain)
	if err != nil {
		return err
	}
	start := sv.Domain().ResolveReference(&url.URL{Path: cfg.Site.RootPath})
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(cfg.Site.Dir)
	if err != nil {
		return fmt.Errorf("resolve site dir: %w", err)
	}

	command := cfg.Server.Command
	if len(command) == 0 {
		if command, err = defaultServeCommand(); err != nil {
			return err
		}
	}
	sup, err := server.New(server.Config{
		Command:      command,
		Env:          cfg.Server.Env,
		ReadyMarker:  cfg.Server.ReadyMarker,
		ReadyTimeout: cfg.Server.ReadyTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("init server supervisor: %w", err)
	}

	hub, stopProgress, err := startProgress(cfg, logger)
	if err != nil {
		return err
	}
	defer stopProgress()

	crawlID := uuid.New()
	logger = logger.With(zap.String("crawl_id", crawlID.String()))

	var res crawl.Result
	err = sup.WithServer(ctx, dir, cfg.Server.Port, func(ctx context.Context, port int) error {
		initial, maxDelay := cfg.Backoff()
		fetcher, err := page.NewFetcher(page.FetcherConfig{
			BaseURL:           fmt.Sprintf("http://localhost:%d", port),
			UserAgent:         cfg.Crawl.UserAgent,
			Timeout:           cfg.FetchTimeout(),
			Retry:             page.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, initial, maxDelay),
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		}, logger.Named("fetcher"))
		if err != nil {
			return fmt.Errorf("init fetcher: %w", err)
		}
		director := crawl.NewDirector(fetcher, sv,
			crawl.WithMaxPages(cfg.Crawl.MaxPages),
			crawl.WithExcludePatterns(cfg.Crawl.Exclude),
			crawl.WithLogger(logger),
			crawl.WithEmitter(hub),
			crawl.WithCrawlID(crawlID),
		)
		res, err = director.Run(ctx, start)
		return err
	})
	if err != nil {
		return fmt.Errorf("check site: %w", err)
	}
	rep := report.New(sv.Domain().String(), res, time.Now().UTC())
	w, err := report.NewWriter(format, out)
	if err != nil {
		return err
	}
	if err := w.Write(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := publishReport(ctx, cfg, rep, format, logger); err != nil {
		return err
	}

	if !rep.Passed() {
		return fmt.Errorf("%w: %d on %s", ErrBrokenLinks, len(rep.Broken), rep.Site)
	}
	return nil
}

// defaultServeCommand runs this binary's own static server.
func defaultServeCommand() ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate linkgate executable: %w", err)
	}
	return []string{exe, "serve", "--dir", "{dir}", "--port", "{port}"}, nil
}

// startProgress wires the progress hub to its sinks and, when configured,
// the admin server that exposes them. The returned stop func flushes the
// hub and shuts the admin server down.
func startProgress(cfg config.Config, logger *zap.Logger) (*progress.Hub, func(), error) {
	reg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("init metrics sink: %w", err)
	}
	status := sinks.NewStatusSink()
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		status,
	)

	var stopAdmin func(context.Context) error
	if cfg.Metrics.Addr != "" {
		requests, err := metrics.NewHTTP(reg)
		if err != nil {
			closeHub(hub, logger)
			return nil, nil, fmt.Errorf("init admin metrics: %w", err)
		}
		admin := api.NewServer(reg, status, logger, api.WithRequestMetrics(requests))
		_, stop, err := admin.Start(cfg.Metrics.Addr)
		if err != nil {
			closeHub(hub, logger)
			return nil, nil, fmt.Errorf("start admin server: %w", err)
		}
		stopAdmin = stop
	}

	return hub, func() {
		closeHub(hub, logger)
		if stopAdmin == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopAdmin(ctx); err != nil {
			logger.Warn("Failed to stop admin server", zap.Error(err))
		}
	}, nil
}

func closeHub(hub *progress.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("Failed to flush progress events", zap.Error(err))
	}
}

// publishReport stores the report and sends the crawl-finished notification
// when either destination is configured. A GCS bucket wins over a local dir.
func publishReport(ctx context.Context, cfg config.Config, rep *report.Report, format report.Format, logger *zap.Logger) error {
	opts := report.PublishOptions{Format: format, Topic: cfg.PubSub.TopicName}

	switch {
	case cfg.Report.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close gcs client", zap.Error(err))
			}
		}()
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Report.GCSBucket, Prefix: cfg.Report.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		opts.Store = store
	case cfg.Report.Dir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Report.Dir})
		if err != nil {
			return fmt.Errorf("init report dir: %w", err)
		}
		opts.Store = store
	}

	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close pubsub client", zap.Error(err))
			}
		}()
		pub := pubsubpublisher.New(client)
		defer pub.Close()
		opts.Publisher = pub
	}

	if opts.Store == nil && opts.Publisher == nil {
		return nil
	}
	pubn, err := report.Publish(ctx, rep, opts)
	if err != nil {
		return err
	}
	logger.Info("Report published",
		zap.String("report_uri", pubn.ReportURI),
		zap.String("message_id", pubn.MessageID),
	)
	return nil
}
