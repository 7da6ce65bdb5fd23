// Package manifest builds and persists the JSON manifest describing a
// download run: which media items were seen, where each was stored, and
// aggregate counts for the run.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"twdl/pkg/models"
	"twdl/pkg/storage"
)

// Metadata summarizes a run
type Metadata struct {
	ExportedAt          string `json:"exported_at"`
	TotalTweetsIncluded int    `json:"total_tweets_included"`
	TotalMedia          int    `json:"total_media"`
	DownloadedMedia     int    `json:"downloaded_media"`
}

// Entry records one media item in the manifest. LocalPath is empty for
// items that were never downloaded.
type Entry struct {
	TweetID        string           `json:"tweet_id"`
	TweetURL       string           `json:"tweet_url,omitempty"`
	AuthorUsername string           `json:"author_username,omitempty"`
	CreatedAt      string           `json:"created_at,omitempty"`
	MediaIndex     int              `json:"media_index"`
	Type           models.MediaType `json:"type"`
	URL            string           `json:"url"`
	LocalPath      string           `json:"local_path,omitempty"`
	FileSize       int64            `json:"file_size,omitempty"`
}

// Document is the on-disk manifest shape
type Document struct {
	Metadata Metadata `json:"metadata"`
	Media    []Entry  `json:"media"`
}

// Build assembles a manifest document from the tweets of a run. Local
// paths are stored relative to baseDir when possible so the manifest
// stays valid if the output tree is moved.
func Build(tweets []*models.Tweet, baseDir string) *Document {
	doc := &Document{
		Metadata: Metadata{
			ExportedAt:          time.Now().UTC().Format(time.RFC3339),
			TotalTweetsIncluded: len(tweets),
		},
		Media: make([]Entry, 0, models.CountMedia(tweets)),
	}

	for _, tweet := range tweets {
		for _, item := range tweet.Media {
			if item == nil {
				continue
			}
			doc.Metadata.TotalMedia++

			entry := Entry{
				TweetID:        tweet.TweetID,
				TweetURL:       tweet.URL,
				AuthorUsername: tweet.AuthorUsername,
				CreatedAt:      tweet.CreatedAt,
				MediaIndex:     item.MediaIndex,
				Type:           item.Type,
				URL:            item.URL,
				FileSize:       item.FileSize,
			}
			if item.LocalPath != "" {
				doc.Metadata.DownloadedMedia++
				entry.LocalPath = relativize(item.LocalPath, baseDir)
			}
			doc.Media = append(doc.Media, entry)
		}
	}

	return doc
}

// Save writes the document to path atomically via the storage manager's
// temp-file-and-rename discipline.
func Save(doc *Document, path string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data)
}

// Load reads a previously saved manifest
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func relativize(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == path || len(rel) >= 2 && rel[:2] == ".." {
		return path
	}
	return rel
}
