package downloader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
	"twdl/pkg/models"
)

// outcomeByURL fetches according to the URL: "fail" anywhere in the URL
// yields a server error, "blob:" an unsupported-scheme skip, anything
// else success.
func outcomeByURL(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
	switch {
	case strings.HasPrefix(item.URL, "blob:"):
		return "", errs.New(errs.ErrorTypeUnsupportedScheme, 0, "unsupported media URL scheme")
	case strings.Contains(item.URL, "fail"):
		return "", errs.New(errs.ErrorTypeServerError, 500, "server error")
	default:
		return "/downloads/" + tweetID + ".jpg", nil
	}
}

func testTweets() []*models.Tweet {
	return []*models.Tweet{
		{
			TweetID: "1",
			Media: []*models.MediaItem{
				{Type: models.MediaTypePhoto, URL: "https://pbs.twimg.com/media/ok1.jpg", MediaIndex: 0},
				{Type: models.MediaTypePhoto, URL: "blob:https://x.com/abc", MediaIndex: 1},
			},
		},
		{
			TweetID: "2",
			Media: []*models.MediaItem{
				{Type: models.MediaTypeVideo, URL: "https://video.twimg.com/fail.m3u8", MediaIndex: 0},
				{Type: models.MediaTypePhoto, URL: "https://pbs.twimg.com/media/ok2.jpg", MediaIndex: 1},
			},
		},
	}
}

func quickConfig() Config {
	return Config{
		Workers:      2,
		Pacing:       time.Millisecond,
		DrainTimeout: 2 * time.Second,
		JoinTimeout:  time.Second,
	}
}

func newTestDispatcher(outcome func(context.Context, *models.MediaItem, string) (string, error)) (*Dispatcher, *logger.TestLogger) {
	log := logger.NewTestLogger()
	factory := func() MediaFetcher { return &fakeFetcher{outcome: outcome} }
	return NewDispatcher(quickConfig(), factory, log), log
}

func TestDownloadBatchStats(t *testing.T) {
	dispatcher, log := newTestDispatcher(outcomeByURL)

	stats := dispatcher.DownloadBatch(context.Background(), testTweets())

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", stats.Succeeded)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if !log.HasMessage("media download failed") {
		t.Error("real failures should be logged")
	}
}

func TestDownloadBatchEmptyInput(t *testing.T) {
	dispatcher, _ := newTestDispatcher(nil)

	stats := dispatcher.DownloadBatch(context.Background(), nil)

	if stats.Total != 0 || stats.Succeeded != 0 {
		t.Errorf("empty input should produce zero stats, got %+v", stats)
	}
}

func TestDownloadBatchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var fetched int
	dispatcher, _ := newTestDispatcher(func(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
		fetched++
		if fetched == 2 {
			cancel()
		}
		return "/downloads/x.jpg", nil
	})

	stats := dispatcher.DownloadBatch(ctx, testTweets())

	if fetched != 2 {
		t.Errorf("expected the batch to stop after cancellation, fetched %d", fetched)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2 (only processed items count)", stats.Total)
	}
}

func TestQueuedModeEndToEnd(t *testing.T) {
	dispatcher, _ := newTestDispatcher(outcomeByURL)
	dispatcher.Start()

	for _, tweet := range testTweets() {
		dispatcher.Enqueue(tweet)
	}

	stats := dispatcher.Stop(true)

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.Succeeded != 2 || stats.Failed != 1 || stats.Skipped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Succeeded+stats.Failed+stats.Skipped != stats.Total {
		t.Errorf("counters must add up to the total: %+v", stats)
	}
}

func TestQueuedModeConcurrentProducers(t *testing.T) {
	dispatcher, _ := newTestDispatcher(outcomeByURL)
	dispatcher.Start()

	done := make(chan struct{})
	for _, tweet := range testTweets() {
		tweet := tweet
		go func() {
			dispatcher.Enqueue(tweet)
			done <- struct{}{}
		}()
	}
	for range testTweets() {
		<-done
	}

	stats := dispatcher.Stop(true)
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
}

func TestStopWithoutWaitAbandonsWork(t *testing.T) {
	release := make(chan struct{})
	dispatcher, log := newTestDispatcher(func(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
		select {
		case <-release:
			return "/downloads/x.jpg", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	dispatcher.cfg.JoinTimeout = 200 * time.Millisecond
	dispatcher.Start()

	for _, tweet := range testTweets() {
		dispatcher.Enqueue(tweet)
	}
	defer close(release)

	start := time.Now()
	stats := dispatcher.Stop(false)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("immediate stop took too long: %v", elapsed)
	}
	if stats.Succeeded != 0 {
		t.Errorf("blocked fetches should not have succeeded, got %+v", stats)
	}
	if !log.HasMessage("abandoning queued tasks") && stats.Failed == 0 {
		// Workers interrupted mid-fetch report context errors; anything
		// still backlogged is logged as abandoned.
		t.Logf("stats after immediate stop: %+v", stats)
	}
}

func TestConcurrentHaltInterruptsDrain(t *testing.T) {
	release := make(chan struct{})
	dispatcher, _ := newTestDispatcher(func(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
		select {
		case <-release:
			return "/downloads/x.jpg", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	dispatcher.cfg.DrainTimeout = 30 * time.Second
	dispatcher.cfg.JoinTimeout = time.Second
	dispatcher.Start()

	for _, tweet := range testTweets() {
		dispatcher.Enqueue(tweet)
	}
	defer close(release)

	// Models a signal handler requesting an immediate halt while the
	// main goroutine is blocked in the completion drain.
	go func() {
		time.Sleep(50 * time.Millisecond)
		dispatcher.Stop(false)
	}()

	start := time.Now()
	dispatcher.Stop(true)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("drain should break on a concurrent halt, took %v", elapsed)
	}
}

func TestEnqueueAfterStopDropsTasks(t *testing.T) {
	dispatcher, log := newTestDispatcher(outcomeByURL)
	dispatcher.Start()
	dispatcher.Stop(true)

	dispatcher.Enqueue(testTweets()[0])

	if total := dispatcher.Stats().Total; total != 0 {
		t.Errorf("tasks enqueued after stop should be dropped, Total = %d", total)
	}
	if !log.HasMessage("dispatcher stopping, task dropped") {
		t.Error("dropped task should be logged")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dispatcher, _ := newTestDispatcher(outcomeByURL)
	dispatcher.Start()
	dispatcher.Enqueue(testTweets()[0])

	first := dispatcher.Stop(true)
	second := dispatcher.Stop(true)

	if first != second {
		t.Errorf("repeated Stop should return identical stats: %+v vs %+v", first, second)
	}
}

func TestTrackerFollowsBatchOutcomes(t *testing.T) {
	dispatcher, _ := newTestDispatcher(outcomeByURL)
	dispatcher.DownloadBatch(context.Background(), testTweets())

	tracker := dispatcher.Tracker()
	if tracker.Downloaded != 2 || tracker.Failed != 1 || tracker.Skipped != 1 {
		t.Errorf("tracker out of step with outcomes: %+v", tracker)
	}
	if tracker.Elapsed() <= 0 {
		t.Error("tracker should measure elapsed time")
	}
	if tracker.Rate() <= 0 {
		t.Error("tracker should report a download rate after successes")
	}
}

func TestTrackerFollowsQueuedOutcomes(t *testing.T) {
	dispatcher, _ := newTestDispatcher(outcomeByURL)
	dispatcher.Start()
	for _, tweet := range testTweets() {
		dispatcher.Enqueue(tweet)
	}
	dispatcher.Stop(true)

	tracker := dispatcher.Tracker()
	if tracker.Downloaded != 2 || tracker.Failed != 1 || tracker.Skipped != 1 {
		t.Errorf("tracker out of step with outcomes: %+v", tracker)
	}
}

func TestIsSkipClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unsupported scheme", errs.New(errs.ErrorTypeUnsupportedScheme, 0, "blob URL"), true},
		{"server error", errs.New(errs.ErrorTypeServerError, 500, "boom"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := isSkip(test.err); got != test.want {
				t.Errorf("isSkip(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
