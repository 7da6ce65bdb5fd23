package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"twdl/pkg/logger"
	"twdl/pkg/models"
)

// DownloadTask pairs a media item with its tweet id. The item pointer
// aliases the tweet's media list: the fetcher writes LocalPath/FileSize
// through it, so the caller sees results without a return channel. The
// queue owns the item only while it is being processed.
type DownloadTask struct {
	TweetID string
	Item    *models.MediaItem
}

// DownloadResult represents the outcome of one task
type DownloadResult struct {
	Task      DownloadTask
	LocalPath string
	Err       error
	Duration  time.Duration
}

// MediaFetcher downloads one media item, mutating it in place on
// success. Satisfied by twitter.Fetcher (which delegates HLS manifests
// to the reconstructor).
type MediaFetcher interface {
	Fetch(ctx context.Context, item *models.MediaItem, tweetID string) (string, error)
}

// FetcherFactory builds one fetcher per worker. Fetchers carry their own
// HTTP client; sharing one across workers would share mutable header
// state between concurrent requests.
type FetcherFactory func() MediaFetcher

// WorkerPool manages concurrent download workers
type WorkerPool struct {
	numWorkers  int
	taskQueue   chan DownloadTask
	resultQueue chan DownloadResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	newFetcher  FetcherFactory
	logger      logger.Logger
}

// NewWorkerPool creates a download worker pool
func NewWorkerPool(numWorkers int, newFetcher FetcherFactory, log logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		taskQueue:   make(chan DownloadTask, numWorkers*2),
		resultQueue: make(chan DownloadResult, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		newFetcher:  newFetcher,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Close signals that no more tasks will be submitted. Workers finish the
// queued tasks and exit; the result queue closes after the last one.
func (wp *WorkerPool) Close() {
	close(wp.taskQueue)
	go func() {
		wp.wg.Wait()
		close(wp.resultQueue)
	}()
}

// Halt cancels in-flight cooperation points (backoff sleeps, request
// contexts) so workers stop as soon as their current blocking call
// returns. Tasks still queued are never started.
func (wp *WorkerPool) Halt() {
	wp.cancel()
}

// Join waits for all workers to exit, bounded by the given timeout.
// It reports whether the join completed in time.
func (wp *WorkerPool) Join(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Submit adds a download task to the queue
func (wp *WorkerPool) Submit(task DownloadTask) error {
	select {
	case wp.taskQueue <- task:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Tasks exposes the task channel for select-based submission
func (wp *WorkerPool) Tasks() chan<- DownloadTask {
	return wp.taskQueue
}

// Results returns the result channel for consuming download results
func (wp *WorkerPool) Results() <-chan DownloadResult {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	fetcher := wp.newFetcher()

	wp.logger.DebugWithFields("worker started", map[string]interface{}{
		"worker_id": id,
	})

	for task := range wp.taskQueue {
		// A halt prevents new task starts but never interrupts the task
		// already in flight.
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("worker stopping, halt requested", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := wp.processTask(fetcher, task, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("worker stopping, halt requested while reporting", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}

	wp.logger.DebugWithFields("worker stopping, task queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

// processTask handles a single download task
func (wp *WorkerPool) processTask(fetcher MediaFetcher, task DownloadTask, workerID int) DownloadResult {
	start := time.Now()

	wp.logger.DebugWithFields("worker processing task", map[string]interface{}{
		"worker_id":   workerID,
		"tweet_id":    task.TweetID,
		"media_index": task.Item.MediaIndex,
	})

	path, err := fetcher.Fetch(wp.ctx, task.Item, task.TweetID)

	return DownloadResult{
		Task:      task,
		LocalPath: path,
		Err:       err,
		Duration:  time.Since(start),
	}
}
