package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"twdl/internal/downloader"
	"twdl/pkg/auth"
	"twdl/pkg/config"
	"twdl/pkg/hls"
	"twdl/pkg/logger"
	"twdl/pkg/manifest"
	"twdl/pkg/models"
	"twdl/pkg/ratelimit"
	"twdl/pkg/storage"
	"twdl/pkg/twitter"
	"twdl/pkg/ui"
)

var (
	// Download command flags
	outputDir   string
	workers     int
	parallel    bool
	cookieFlag  string
	accountName string
	hlsStrategy string
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <tweets.json>",
	Short: "Download all media referenced by an exported tweet archive",
	Long: `Download the photos, videos, and animated GIFs referenced by an exported
tweet archive.

The archive is a JSON file holding tweets with their media URLs, either as
a bare array or wrapped in a {"metadata": ..., "tweets": [...]} document.

Protected media requires a session cookie, configured through:
  - Stored sessions (use 'twdl auth login' to store)
  - The TWDL_COOKIE environment variable
  - The --cookie flag or a configuration file

Media already present on disk is skipped, so an interrupted run can simply
be repeated.`,
	Example: `  # Download using default settings
  twdl download tweets.json

  # Download to a specific directory with concurrent workers
  twdl download tweets.json --output ./archive --parallel --workers 5

  # Use a specific stored session
  twdl download tweets.json --account myhandle

  # Hand HLS manifests straight to ffmpeg
  twdl download tweets.json --hls-strategy ffmpeg`,
	Args: cobra.ExactArgs(1),
	Run:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads (default: ./downloads)")
	downloadCmd.Flags().IntVar(&workers, "workers", 3, "number of concurrent download workers")
	downloadCmd.Flags().BoolVar(&parallel, "parallel", false, "download with a concurrent worker pool instead of sequentially")
	downloadCmd.Flags().StringVar(&cookieFlag, "cookie", "", "session cookie header for protected media")
	downloadCmd.Flags().StringVarP(&accountName, "account", "a", "", "use a specific stored session")
	downloadCmd.Flags().StringVar(&hlsStrategy, "hls-strategy", "", "HLS handling: segments or ffmpeg")
}

func runDownload(cmd *cobra.Command, args []string) {
	inputPath := args[0]

	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if workers != 3 {
		flags["workers"] = workers
	}
	if cookieFlag != "" {
		flags["cookie"] = cookieFlag
	}
	if hlsStrategy != "" {
		flags["hls-strategy"] = hlsStrategy
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration: " + err.Error())
		os.Exit(1)
	}

	logger.Initialize(&cfg.Logging)
	logger.WithField("version", version).Info("twdl starting")

	resolveSession(cfg)

	tweets, err := models.LoadTweets(inputPath)
	if err != nil {
		ui.PrintError("Failed to load tweet archive: " + err.Error())
		os.Exit(1)
	}
	models.EnsureReferers(tweets)

	totalMedia := models.CountMedia(tweets)
	ui.PrintInfo("Archive", inputPath)
	ui.PrintInfo("Tweets", fmt.Sprintf("%d", len(tweets)))
	ui.PrintInfo("Media items", fmt.Sprintf("%d", totalMedia))

	store, err := storage.NewManager(cfg.Output.ImagesDirectory, cfg.Output.VideosDirectory, cfg.Output.BaseDirectory)
	if err != nil {
		ui.PrintError("Failed to prepare output directories: " + err.Error())
		os.Exit(1)
	}

	// Cooldown and limiter are shared for the whole run: the origin's
	// rate limit applies per account, not per connection.
	cooldown := ratelimit.NewCooldown(cfg.RateLimit.CooldownFloor, cfg.RateLimit.CooldownCap, cfg.RateLimit.CooldownMultiplier)
	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.RequestsPerMinute, time.Minute)

	factory := func() downloader.MediaFetcher {
		return newFetcher(cfg, store, cooldown, limiter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcherCfg := downloader.DefaultConfig()
	dispatcherCfg.Workers = cfg.Download.ConcurrentDownloads
	dispatcherCfg.Pacing = cfg.Download.ItemPacing

	d := downloader.NewDispatcher(dispatcherCfg, factory, logger.GetLogger())

	var stats downloader.Stats
	if parallel {
		display := ui.NewProgressDisplay(totalMedia)
		d.SetDisplay(display)
		d.Start()

		// A signal mid-run halts the pool immediately instead of
		// letting the drain poll run its course.
		go func() {
			<-ctx.Done()
			d.Stop(false)
		}()

		for _, tweet := range tweets {
			if ctx.Err() != nil {
				break
			}
			d.Enqueue(tweet)
		}
		stats = d.Stop(true)
		display.Finish()
	} else {
		stats = d.DownloadBatch(ctx, tweets)
	}

	manifestPath := filepath.Join(cfg.Output.BaseDirectory, cfg.Output.ManifestFile)
	doc := manifest.Build(tweets, cfg.Output.BaseDirectory)
	if err := manifest.Save(doc, manifestPath); err != nil {
		logger.WithError(err).Error("failed to write manifest")
		ui.PrintWarning("Failed to write manifest: " + err.Error())
	} else {
		ui.PrintInfo("Manifest", manifestPath)
	}

	fmt.Println()
	ui.PrintInfo("Downloaded", fmt.Sprintf("%d", stats.Succeeded))
	if stats.Skipped > 0 {
		ui.PrintInfo("Skipped", fmt.Sprintf("%d", stats.Skipped))
	}
	tracker := d.Tracker()
	ui.PrintInfo("Elapsed", tracker.Elapsed().Round(time.Second).String())
	if stats.Succeeded > 0 {
		ui.PrintInfo("Rate", fmt.Sprintf("%.1f/min", tracker.Rate()))
	}
	if stats.Failed > 0 {
		ui.PrintWarning(fmt.Sprintf("%d downloads failed, rerun to retry", stats.Failed))
		os.Exit(1)
	}

	ui.PrintSuccess("All media downloaded")
}

// resolveSession fills the cookie and user agent from the session store
// when the config carries none.
func resolveSession(cfg *config.Config) {
	if cfg.Twitter.Cookie != "" && accountName == "" {
		return
	}

	manager, err := auth.NewManager()
	if err != nil {
		logger.WithError(err).Debug("session manager unavailable")
		return
	}

	var session *auth.Session
	if accountName != "" {
		session, err = manager.Retrieve(accountName)
		if err != nil {
			ui.PrintError("Session not found: " + accountName)
			ui.PrintInfo("Hint", "Use 'twdl auth list' to see stored sessions")
			os.Exit(1)
		}
	} else {
		session, err = manager.RetrieveDefault()
		if err != nil {
			// Public media downloads work without a session
			logger.Debug("no stored session, continuing anonymously")
			return
		}
	}

	cfg.Twitter.Cookie = session.Cookie
	if session.UserAgent != "" {
		cfg.Twitter.UserAgent = session.UserAgent
	}
	logger.WithField("handle", session.Handle).Info("using stored session")
	ui.PrintInfo("Session", session.Handle)
}

// newFetcher assembles the per-worker download chain: HTTP client, HLS
// reconstructor, and the retrying single-item fetcher on top.
func newFetcher(cfg *config.Config, store *storage.Manager, cooldown *ratelimit.Cooldown, limiter ratelimit.Limiter) *twitter.Fetcher {
	log := logger.GetLogger()

	client := twitter.NewClient(cfg.Download.DownloadTimeout, cfg.Twitter.UserAgent, cfg.Twitter.Cookie, log)
	client.SetLimiter(limiter)

	ffmpeg := hls.NewFFmpeg(cfg.HLS.FFmpegBinary, cfg.HLS.FFmpegTimeout, log)
	reconstructor := hls.NewReconstructor(client, store, ffmpeg, hls.Config{
		Strategy:       cfg.HLS.Strategy,
		BaseReferer:    cfg.Twitter.BaseReferer,
		SegmentTimeout: cfg.HLS.SegmentTimeout,
		UserAgent:      cfg.Twitter.UserAgent,
		Cookie:         cfg.Twitter.Cookie,
	}, log)

	return twitter.NewFetcher(client, store, cooldown, reconstructor, twitter.FetchConfig{
		Attempts:    cfg.Download.RetryAttempts,
		BackoffBase: cfg.Download.RetryBackoffBase,
		BackoffCap:  cfg.Download.RetryBackoffCap,
		BaseReferer: cfg.Twitter.BaseReferer,
	}, log)
}
