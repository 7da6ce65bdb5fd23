package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"twdl/pkg/models"
)

// Manager routes media files to their target directories and performs
// atomic writes. The temp-file-then-rename pattern is the only mutual
// exclusion guarding target paths, including across processes.
type Manager struct {
	imagesDir string
	videosDir string
	baseDir   string
}

// NewManager creates a storage manager, creating the directories if needed
func NewManager(imagesDir, videosDir, baseDir string) (*Manager, error) {
	for _, dir := range []string{imagesDir, videosDir, baseDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	return &Manager{
		imagesDir: imagesDir,
		videosDir: videosDir,
		baseDir:   baseDir,
	}, nil
}

// DirFor returns the target directory for a media type: photos and video
// thumbnails under images, videos and animated GIFs under videos,
// anything else under the generic output directory.
func (m *Manager) DirFor(mediaType models.MediaType) string {
	switch mediaType {
	case models.MediaTypePhoto, models.MediaTypeVideoThumbnail:
		return m.imagesDir
	case models.MediaTypeVideo, models.MediaTypeAnimatedGIF:
		return m.videosDir
	default:
		return m.baseDir
	}
}

// TargetPath builds the final path for one media item:
// {tweet_id}_{media_index}{ext} under the type's directory.
func (m *Manager) TargetPath(tweetID string, mediaIndex int, mediaType models.MediaType, ext string) string {
	filename := fmt.Sprintf("%s_%d%s", tweetID, mediaIndex, ext)
	return filepath.Join(m.DirFor(mediaType), filename)
}

// IsComplete reports whether a target file already exists with content.
// A zero-byte file is treated as absent: an interrupted write must not
// suppress a fresh attempt.
func (m *Manager) IsComplete(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// SaveStream streams r into a uniquely-named temporary file next to
// target, then renames it into place. Returns the byte count written.
// The temp file is removed on any failure.
func (m *Manager) SaveStream(r io.Reader, target string) (int64, error) {
	tempPath := fmt.Sprintf("%s.%s.tmp", target, uuid.NewString())

	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to save media data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return written, nil
}

// FileSize returns the byte size of a file on disk
func (m *Manager) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteFileAtomic writes data to path with the same temp-file-and-rename
// discipline SaveStream uses, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tempPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
