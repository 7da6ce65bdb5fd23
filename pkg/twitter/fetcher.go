package twitter

import (
	"context"
	"net/http"
	"strings"
	"time"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
	"twdl/pkg/models"
	"twdl/pkg/ratelimit"
	"twdl/pkg/retry"
	"twdl/pkg/storage"
)

// HLSFetcher reconstructs a playable file from an HLS manifest URL.
// Satisfied by hls.Reconstructor.
type HLSFetcher interface {
	Fetch(ctx context.Context, item *models.MediaItem, tweetID string) (string, error)
}

// FetchConfig bounds the retry behavior of a Fetcher
type FetchConfig struct {
	// Attempts is the total attempt budget; 429 cycles count against it
	Attempts int
	// BackoffBase is the first generic-error retry delay
	BackoffBase time.Duration
	// BackoffCap caps the doubling generic-error delay
	BackoffCap time.Duration
	// BaseReferer is sent when an item has no originating tweet URL
	BaseReferer string
}

// DefaultFetchConfig returns the fetch budget the origin tolerates
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Attempts:    3,
		BackoffBase: 60 * time.Second,
		BackoffCap:  5 * time.Minute,
		BaseReferer: "https://twitter.com/",
	}
}

// Fetcher downloads one media item at a time. Each worker owns its own
// Fetcher (and HTTP client); only the Cooldown is shared across workers.
type Fetcher struct {
	client   *Client
	store    *storage.Manager
	cooldown *ratelimit.Cooldown
	hls      HLSFetcher
	cfg      FetchConfig
	backoff  retry.BackoffStrategy
	logger   logger.Logger
}

// NewFetcher creates a single-item fetcher
func NewFetcher(client *Client, store *storage.Manager, cooldown *ratelimit.Cooldown, hls HLSFetcher, cfg FetchConfig, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Fetcher{
		client:   client,
		store:    store,
		cooldown: cooldown,
		hls:      hls,
		cfg:      cfg,
		// No jitter: retries are already serialized per worker and the
		// schedule stays predictable (base, 2x, 4x, capped).
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  cfg.BackoffBase,
			MaxDelay:   cfg.BackoffCap,
			Multiplier: 2.0,
		},
		logger: log,
	}
}

// Fetch downloads one media item and records LocalPath/FileSize on it.
// Unfetchable items (empty or blob: URLs) return a typed
// unsupported_scheme error without any network call or retry; exhausted
// retries surface the last typed error. Neither aborts sibling items.
func (f *Fetcher) Fetch(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
	url := item.URL
	if url == "" || strings.HasPrefix(url, "blob:") {
		f.logger.DebugWithFields("skipping unfetchable media URL", map[string]interface{}{
			"tweet_id":    tweetID,
			"media_index": item.MediaIndex,
			"url":         url,
		})
		return "", errs.New(errs.ErrorTypeUnsupportedScheme, 0, "unfetchable URL scheme: %q", url)
	}

	// Request the highest-resolution photo variant unless the URL pins a
	// format explicitly.
	if item.Type == models.MediaTypePhoto && !strings.Contains(url, "format=") {
		url = strings.ReplaceAll(url, ":small", ":large")
		url = strings.ReplaceAll(url, ":thumb", ":large")
	}

	if strings.Contains(url, ".m3u8") {
		return f.hls.Fetch(ctx, item, tweetID)
	}

	// Idempotent skip: if a previous run already produced the target,
	// do not touch the network at all. The extension here is resolved
	// from the URL alone; the post-response check below covers targets
	// named from a content type.
	target := f.store.TargetPath(tweetID, item.MediaIndex, item.Type, storage.ResolveExtension(url, item.Type, ""))
	if f.store.IsComplete(target) {
		f.recordSuccess(item, target, 0)
		return target, nil
	}

	referer := item.TweetURL
	if referer == "" {
		referer = f.cfg.BaseReferer
	}

	var lastErr error

	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		resp, err := f.client.Get(ctx, url, referer)
		if err == nil {
			switch {
			case resp.StatusCode == 429:
				resp.Body.Close()
				wait := f.cooldown.Next()
				f.logger.WarnWithFields("rate limited, cooling down", map[string]interface{}{
					"url":      url,
					"wait":     wait,
					"attempt":  attempt,
					"attempts": f.cfg.Attempts,
				})
				lastErr = statusError(resp.StatusCode)
				if err := retry.Wait(ctx, wait); err != nil {
					return "", err
				}
				continue

			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				path, err := f.save(item, tweetID, url, resp)
				if err == nil {
					return path, nil
				}
				lastErr = err

			default:
				if resp.StatusCode == 401 || resp.StatusCode == 403 {
					f.logger.WarnWithFields("media fetch rejected, cookie or referer may be insufficient", map[string]interface{}{
						"url":    url,
						"status": resp.StatusCode,
					})
				}
				resp.Body.Close()
				lastErr = statusError(resp.StatusCode)
			}
		} else {
			lastErr = err
		}

		if attempt == f.cfg.Attempts {
			break
		}

		delay := f.backoff.NextDelay(attempt)
		f.logger.WarnWithFields("media download failed, retrying", map[string]interface{}{
			"url":      url,
			"error":    lastErr.Error(),
			"backoff":  delay,
			"attempt":  attempt,
			"attempts": f.cfg.Attempts,
		})
		if err := retry.Wait(ctx, delay); err != nil {
			return "", err
		}
	}

	f.logger.ErrorWithFields("media download failed permanently", map[string]interface{}{
		"tweet_id":    tweetID,
		"media_index": item.MediaIndex,
		"url":         url,
		"error":       lastErr.Error(),
	})
	return "", lastErr
}

// save streams a successful response body into the target file
func (f *Fetcher) save(item *models.MediaItem, tweetID, url string, resp *http.Response) (string, error) {
	defer resp.Body.Close()

	ext := storage.ResolveExtension(url, item.Type, resp.Header.Get("Content-Type"))
	target := f.store.TargetPath(tweetID, item.MediaIndex, item.Type, ext)

	// A concurrent or earlier run may have finished this target while we
	// were fetching; keep it and drop the body unread.
	if f.store.IsComplete(target) {
		f.recordSuccess(item, target, 0)
		return target, nil
	}

	written, err := f.store.SaveStream(resp.Body, target)
	if err != nil {
		return "", errs.New(errs.ErrorTypeUnknown, 0, "failed to persist media: %v", err)
	}

	f.recordSuccess(item, target, written)
	f.logger.InfoWithFields("media downloaded", map[string]interface{}{
		"tweet_id":    tweetID,
		"media_index": item.MediaIndex,
		"path":        target,
		"size":        written,
	})
	return target, nil
}

// recordSuccess writes the result back into the aliased media item
func (f *Fetcher) recordSuccess(item *models.MediaItem, target string, size int64) {
	if size == 0 {
		if existing, err := f.store.FileSize(target); err == nil {
			size = existing
		}
	}
	item.LocalPath = target
	item.FileSize = size
}
