package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
	"twdl/pkg/models"
	"twdl/pkg/retry"
	"twdl/pkg/ui"
)

// Stats aggregates the outcome of a dispatch run. Skipped counts items
// that are unfetchable by construction (blob: URLs); they are neither
// successes nor failures.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Config bounds dispatcher behavior
type Config struct {
	// Workers is the bounded worker pool size for queued mode
	Workers int
	// Pacing is the sleep between items in synchronous batch mode
	Pacing time.Duration
	// DrainTimeout bounds how long Stop(true) waits for the queue to empty
	DrainTimeout time.Duration
	// JoinTimeout bounds how long shutdown waits for workers to exit
	JoinTimeout time.Duration
}

// DefaultConfig returns dispatcher defaults
func DefaultConfig() Config {
	return Config{
		Workers:      3,
		Pacing:       500 * time.Millisecond,
		DrainTimeout: 60 * time.Second,
		JoinTimeout:  30 * time.Second,
	}
}

// Dispatcher routes media items to fetchers, either synchronously over a
// batch of tweets or through a bounded worker pool fed by producers.
//
// In queued mode a single coordinating goroutine owns the backlog and
// all counters; producers only send onto the enqueue channel. Workers
// report through a buffered result channel the coordinator drains.
type Dispatcher struct {
	cfg        Config
	pool       *WorkerPool
	newFetcher FetcherFactory
	display    *ui.ProgressDisplay
	tracker    *ui.StatusTracker
	logger     logger.Logger

	enqueueCh chan DownloadTask
	quitCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once

	// Written by the coordinator (pending/total also by Enqueue), read
	// anywhere.
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	pending   atomic.Int64
}

// NewDispatcher creates a dispatcher. The factory is invoked once per
// worker so no HTTP client is shared across goroutines.
func NewDispatcher(cfg Config, newFetcher FetcherFactory, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	return &Dispatcher{
		cfg:        cfg,
		pool:       NewWorkerPool(cfg.Workers, newFetcher, log),
		newFetcher: newFetcher,
		tracker:    ui.NewStatusTracker(),
		logger:     log,
		enqueueCh:  make(chan DownloadTask, 64),
		quitCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// SetDisplay attaches a progress display updated as items complete
func (d *Dispatcher) SetDisplay(display *ui.ProgressDisplay) {
	d.display = display
}

// Tracker returns the run's timing stats. Read it only after the run
// finished (DownloadBatch returned, or Stop).
func (d *Dispatcher) Tracker() *ui.StatusTracker {
	return d.tracker
}

// DownloadBatch processes every media item of the given tweets in
// sequence, pacing between items to avoid origin throttling. Per-item
// failures never abort the batch; the returned stats reflect partial
// success.
func (d *Dispatcher) DownloadBatch(ctx context.Context, tweets []*models.Tweet) Stats {
	var stats Stats

	totalMedia := models.CountMedia(tweets)
	if totalMedia == 0 {
		d.logger.Info("no media to download")
		return stats
	}

	d.logger.InfoWithFields("downloading media", map[string]interface{}{
		"total": totalMedia,
	})

	fetcher := d.newFetcher()
	display := d.display
	if display == nil {
		display = ui.NewProgressDisplay(totalMedia)
	} else {
		display.SetTotal(totalMedia)
	}

	for _, tweet := range tweets {
		for _, item := range tweet.Media {
			stats.Total++

			path, err := fetcher.Fetch(ctx, item, tweet.TweetID)
			d.count(&stats, tweet.TweetID, item, err)
			display.Update(path, err != nil && !isSkip(err))

			if ctx.Err() != nil {
				d.logger.Warn("batch download cancelled")
				return stats
			}
			if err := retry.Wait(ctx, d.cfg.Pacing); err != nil {
				return stats
			}
		}
	}

	display.Finish()
	d.logger.InfoWithFields("batch download finished", map[string]interface{}{
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
		"elapsed":   d.tracker.Elapsed(),
		"rate":      d.tracker.Rate(),
	})
	return stats
}

// Start launches the worker pool and the coordinating goroutine for
// queued mode.
func (d *Dispatcher) Start() {
	d.pool.Start()
	go d.coordinate()
}

// Enqueue pushes one DownloadTask per media item of the tweet and
// updates the expected total. Safe to call from any producer goroutine;
// tasks enqueued after shutdown began are dropped.
func (d *Dispatcher) Enqueue(tweet *models.Tweet) {
	for _, item := range tweet.Media {
		if item == nil {
			continue
		}
		task := DownloadTask{TweetID: tweet.TweetID, Item: item}

		// Checked first: the buffered enqueue channel would otherwise
		// still accept sends after the coordinator has exited.
		select {
		case <-d.quitCh:
			d.logger.WarnWithFields("dispatcher stopping, task dropped", map[string]interface{}{
				"tweet_id":    tweet.TweetID,
				"media_index": item.MediaIndex,
			})
			return
		default:
		}

		select {
		case d.enqueueCh <- task:
			d.total.Add(1)
			d.pending.Add(1)
			if d.display != nil {
				d.display.SetTotal(int(d.total.Load()))
			}
		case <-d.quitCh:
			d.logger.WarnWithFields("dispatcher stopping, task dropped", map[string]interface{}{
				"tweet_id":    tweet.TweetID,
				"media_index": item.MediaIndex,
			})
			return
		}
	}
}

// Stop shuts the queued dispatcher down. With waitForCompletion the
// queue is polled until empty, bounded by DrainTimeout; workers are then
// halted and joined, bounded by JoinTimeout. Work still outstanding past
// those bounds is abandoned with a warning. Without waitForCompletion
// the halt is immediate.
func (d *Dispatcher) Stop(waitForCompletion bool) Stats {
	if waitForCompletion {
		// A concurrent Stop(false), e.g. from a signal handler, breaks
		// the poll early.
		deadline := time.Now().Add(d.cfg.DrainTimeout)
		for time.Now().Before(deadline) && d.pending.Load() > 0 && !d.stopping() {
			time.Sleep(200 * time.Millisecond)
		}
		if remaining := d.pending.Load(); remaining > 0 && !d.stopping() {
			d.logger.WarnWithFields("drain timeout expired", map[string]interface{}{
				"outstanding": remaining,
			})
		}
	}

	d.stopOnce.Do(func() {
		close(d.quitCh)
	})

	select {
	case <-d.doneCh:
	case <-time.After(d.cfg.JoinTimeout + time.Second):
		d.logger.Warn("dispatcher shutdown timed out, abandoning outstanding work")
	}

	return d.Stats()
}

// stopping reports whether shutdown has been requested
func (d *Dispatcher) stopping() bool {
	select {
	case <-d.quitCh:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the aggregate counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Total:     int(d.total.Load()),
		Succeeded: int(d.succeeded.Load()),
		Failed:    int(d.failed.Load()),
		Skipped:   int(d.skipped.Load()),
	}
}

// coordinate is the single goroutine that owns the backlog: it accepts
// producer tasks, feeds the pool, and reaps results. No other goroutine
// touches the backlog or mutates completion counts.
func (d *Dispatcher) coordinate() {
	defer close(d.doneCh)

	var backlog []DownloadTask

	for {
		// Only offer a submission when there is something to submit
		var submitCh chan<- DownloadTask
		var next DownloadTask
		if len(backlog) > 0 {
			submitCh = d.pool.Tasks()
			next = backlog[0]
		}

		select {
		case task := <-d.enqueueCh:
			backlog = append(backlog, task)

		case submitCh <- next:
			backlog = backlog[1:]

		case result := <-d.pool.Results():
			d.applyResult(result)

		case <-d.quitCh:
			d.shutdown(backlog)
			return
		}
	}
}

// shutdown halts the pool and drains straggler results, bounded by the
// join timeout. Backlogged tasks are abandoned, not retried.
func (d *Dispatcher) shutdown(backlog []DownloadTask) {
	if len(backlog) > 0 {
		d.logger.WarnWithFields("abandoning queued tasks", map[string]interface{}{
			"abandoned": len(backlog),
		})
	}

	d.pool.Halt()
	d.pool.Close()

	deadline := time.After(d.cfg.JoinTimeout)
	for {
		select {
		case result, ok := <-d.pool.Results():
			if !ok {
				return
			}
			d.applyResult(result)
		case <-deadline:
			d.logger.Warn("worker join timed out, abandoning in-flight tasks")
			return
		}
	}
}

// applyResult folds one worker result into the counters
func (d *Dispatcher) applyResult(result DownloadResult) {
	d.pending.Add(-1)

	switch {
	case result.Err == nil:
		d.succeeded.Add(1)
		d.tracker.Downloaded++
	case isSkip(result.Err):
		d.skipped.Add(1)
		d.tracker.Skipped++
	default:
		d.failed.Add(1)
		d.tracker.Failed++
		d.logger.WarnWithFields("media download failed", map[string]interface{}{
			"tweet_id":    result.Task.TweetID,
			"media_index": result.Task.Item.MediaIndex,
			"error":       result.Err.Error(),
		})
	}

	if d.display != nil {
		d.display.Update(result.LocalPath, result.Err != nil && !isSkip(result.Err))
	}
}

// count folds one synchronous fetch outcome into batch stats
func (d *Dispatcher) count(stats *Stats, tweetID string, item *models.MediaItem, err error) {
	switch {
	case err == nil:
		stats.Succeeded++
		d.tracker.Downloaded++
	case isSkip(err):
		stats.Skipped++
		d.tracker.Skipped++
	default:
		stats.Failed++
		d.tracker.Failed++
		d.logger.WarnWithFields("media download failed", map[string]interface{}{
			"tweet_id":    tweetID,
			"media_index": item.MediaIndex,
			"error":       err.Error(),
		})
	}
}

// isSkip reports whether an error marks an unfetchable-by-construction
// item rather than a real failure.
func isSkip(err error) bool {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed.Type == errs.ErrorTypeUnsupportedScheme
	}
	return false
}
