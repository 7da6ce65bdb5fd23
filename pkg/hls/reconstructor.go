package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"

	errs "twdl/pkg/errors"
	"twdl/pkg/logger"
	"twdl/pkg/models"
	"twdl/pkg/storage"
)

// Getter performs streamed GETs with a Referer header. Satisfied by
// twitter.Client.
type Getter interface {
	Get(ctx context.Context, url, referer string) (*http.Response, error)
}

// Config holds HLS reconstruction settings
type Config struct {
	// Strategy is "segments" (download, concatenate, remux) or "ffmpeg"
	// (hand the manifest URL to ffmpeg in one call)
	Strategy string
	// BaseReferer is sent when an item carries no originating tweet URL
	BaseReferer string
	// SegmentTimeout bounds each individual segment download; zero leaves
	// segments bounded only by the client-wide timeout. One stalled
	// segment then costs at most this long before being skipped.
	SegmentTimeout time.Duration
	// UserAgent and Cookie are forwarded to ffmpeg in the direct strategy
	UserAgent string
	Cookie    string
}

// Reconstructor turns an HLS manifest into a single playable file:
// playlist resolution, sequential segment download, ordered
// concatenation, and a best-effort remux to mp4.
type Reconstructor struct {
	client Getter
	store  *storage.Manager
	ffmpeg *FFmpeg
	cfg    Config
	logger logger.Logger
}

// NewReconstructor creates an HLS reconstructor
func NewReconstructor(client Getter, store *storage.Manager, ffmpeg *FFmpeg, cfg Config, log logger.Logger) *Reconstructor {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "segments"
	}
	return &Reconstructor{
		client: client,
		store:  store,
		ffmpeg: ffmpeg,
		cfg:    cfg,
		logger: log,
	}
}

// Fetch reconstructs the stream behind item.URL and records
// LocalPath/FileSize on the item. The deliverable is an mp4 when the
// encoder cooperates, otherwise the raw transport stream.
func (r *Reconstructor) Fetch(ctx context.Context, item *models.MediaItem, tweetID string) (string, error) {
	mp4Target := r.store.TargetPath(tweetID, item.MediaIndex, item.Type, ".mp4")
	tsTarget := r.store.TargetPath(tweetID, item.MediaIndex, item.Type, ".ts")

	// Idempotent skip for either deliverable form
	for _, target := range []string{mp4Target, tsTarget} {
		if r.store.IsComplete(target) {
			r.recordSuccess(item, target, 0)
			return target, nil
		}
	}

	referer := item.TweetURL
	if referer == "" {
		referer = r.cfg.BaseReferer
	}

	scratch := filepath.Join(os.TempDir(), "twdl-hls-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if r.cfg.Strategy == "ffmpeg" && r.ffmpeg.Available() {
		return r.fetchDirect(ctx, item, referer, scratch, mp4Target)
	}
	return r.fetchSegments(ctx, item, tweetID, referer, scratch, mp4Target, tsTarget)
}

// fetchSegments is the segment-by-segment strategy with partial-failure
// tolerance: individual segment losses are skipped, only a fully empty
// download fails the item.
func (r *Reconstructor) fetchSegments(ctx context.Context, item *models.MediaItem, tweetID, referer, scratch, mp4Target, tsTarget string) (string, error) {
	segments, err := r.resolveSegments(ctx, item.URL, referer, 1)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", errs.New(errs.ErrorTypePlaylist, 0, "media playlist has no segments")
	}

	// Sequential on purpose: fanning out segment requests trips the
	// origin's per-connection limits.
	var downloaded []string
	for i, segURL := range segments {
		path := filepath.Join(scratch, fmt.Sprintf("seg_%05d.ts", i))
		if err := r.downloadSegment(ctx, segURL, referer, path); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.WarnWithFields("segment download failed, skipping", map[string]interface{}{
				"tweet_id": tweetID,
				"segment":  i,
				"url":      segURL,
				"error":    err.Error(),
			})
			continue
		}
		downloaded = append(downloaded, path)
	}

	if len(downloaded) == 0 {
		return "", errs.New(errs.ErrorTypePlaylist, 0, "no segments could be downloaded")
	}
	if len(downloaded) < len(segments) {
		r.logger.WarnWithFields("stream assembled with missing segments", map[string]interface{}{
			"tweet_id":   tweetID,
			"downloaded": len(downloaded),
			"total":      len(segments),
		})
	}

	streamPath := filepath.Join(scratch, "stream.ts")
	if err := concatSegments(downloaded, streamPath); err != nil {
		return "", fmt.Errorf("failed to concatenate segments: %w", err)
	}

	// Best-effort remux; a broken or absent encoder downgrades the
	// deliverable to the raw transport stream instead of failing.
	if r.ffmpeg.Available() {
		remuxed := filepath.Join(scratch, "stream.mp4")
		if err := r.ffmpeg.Remux(ctx, streamPath, remuxed); err == nil {
			return r.persist(item, remuxed, mp4Target)
		} else {
			r.logger.WarnWithFields("remux failed, delivering transport stream", map[string]interface{}{
				"tweet_id": tweetID,
				"error":    err.Error(),
			})
		}
	}

	return r.persist(item, streamPath, tsTarget)
}

// fetchDirect is the single-call ffmpeg strategy. No partial tolerance:
// any manifest or network error fails the whole item.
func (r *Reconstructor) fetchDirect(ctx context.Context, item *models.MediaItem, referer, scratch, mp4Target string) (string, error) {
	output := filepath.Join(scratch, "direct.mp4")
	headers := map[string]string{
		"Referer":    referer,
		"User-Agent": r.cfg.UserAgent,
		"Cookie":     r.cfg.Cookie,
	}

	if err := r.ffmpeg.RemuxFromManifest(ctx, item.URL, headers, output); err != nil {
		return "", err
	}
	return r.persist(item, output, mp4Target)
}

// resolveSegments fetches a manifest and returns the ordered segment
// URLs of its media playlist, following the highest-bandwidth variant
// of any master playlist on the way.
func (r *Reconstructor) resolveSegments(ctx context.Context, manifestURL, referer string, depth int) ([]string, error) {
	if depth > maxVariantDepth {
		return nil, errs.New(errs.ErrorTypePlaylist, 0, "master playlists nested deeper than %d", maxVariantDepth)
	}

	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return nil, errs.New(errs.ErrorTypePlaylist, 0, "invalid manifest URL %q: %v", manifestURL, err)
	}

	resp, err := r.client.Get(ctx, manifestURL, referer)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.ErrorTypePlaylist, resp.StatusCode, "manifest fetch returned status %d", resp.StatusCode)
	}

	playlist, listType, err := decodePlaylist(resp.Body)
	if err != nil {
		return nil, err
	}

	switch listType {
	case m3u8.MASTER:
		variantURI, err := selectVariant(playlist.(*m3u8.MasterPlaylist))
		if err != nil {
			return nil, err
		}
		return r.resolveSegments(ctx, resolveURL(baseURL, variantURI), referer, depth+1)
	case m3u8.MEDIA:
		return segmentURLs(playlist.(*m3u8.MediaPlaylist), baseURL), nil
	default:
		return nil, errs.New(errs.ErrorTypePlaylist, 0, "unrecognized playlist type")
	}
}

// downloadSegment fetches one segment into a scratch file
func (r *Reconstructor) downloadSegment(ctx context.Context, segURL, referer, path string) error {
	if r.cfg.SegmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SegmentTimeout)
		defer cancel()
	}

	resp, err := r.client.Get(ctx, segURL, referer)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.New(errs.TypeForStatusCode(resp.StatusCode), resp.StatusCode, "segment fetch returned status %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(path)
		return err
	}
	if closeErr != nil {
		os.Remove(path)
		return closeErr
	}
	return nil
}

// concatSegments binary-appends the segment files in order. The result's
// length is the sum of its parts; skipped segments contribute nothing.
func concatSegments(paths []string, output string) error {
	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, path := range paths {
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// persist moves a scratch artifact into the target path atomically and
// records the result on the media item.
func (r *Reconstructor) persist(item *models.MediaItem, source, target string) (string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("failed to open assembled stream: %w", err)
	}
	defer in.Close()

	written, err := r.store.SaveStream(in, target)
	if err != nil {
		return "", fmt.Errorf("failed to persist stream: %w", err)
	}

	r.recordSuccess(item, target, written)
	r.logger.InfoWithFields("stream reconstructed", map[string]interface{}{
		"path": target,
		"size": written,
	})
	return target, nil
}

// recordSuccess writes the result back into the aliased media item
func (r *Reconstructor) recordSuccess(item *models.MediaItem, target string, size int64) {
	if size == 0 {
		if existing, err := r.store.FileSize(target); err == nil {
			size = existing
		}
	}
	item.LocalPath = target
	item.FileSize = size
}
