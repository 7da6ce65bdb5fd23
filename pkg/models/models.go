package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// MediaType identifies what kind of media a MediaItem points at
type MediaType string

const (
	MediaTypePhoto          MediaType = "photo"
	MediaTypeVideo          MediaType = "video"
	MediaTypeAnimatedGIF    MediaType = "animated_gif"
	MediaTypeVideoThumbnail MediaType = "video_thumbnail"
)

// IsVideo reports whether the type is stored under the videos directory
func (t MediaType) IsVideo() bool {
	return t == MediaTypeVideo || t == MediaTypeAnimatedGIF
}

// MediaItem represents one piece of media attached to a tweet.
//
// ThumbnailURL and ResolvedFrom are only populated on video items that
// were resolved from a thumbnail during extraction. LocalPath and
// FileSize are set exactly once, by a successful download.
type MediaItem struct {
	Type         MediaType `json:"type"`
	URL          string    `json:"url"`
	MediaIndex   int       `json:"media_index"`
	TweetURL     string    `json:"tweet_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	ResolvedFrom string    `json:"resolved_from,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
}

// Tweet represents one previously-discovered post with its media list
type Tweet struct {
	TweetID        string       `json:"tweet_id"`
	URL            string       `json:"url,omitempty"`
	AuthorUsername string       `json:"author_username,omitempty"`
	CreatedAt      string       `json:"created_at,omitempty"`
	Text           string       `json:"text,omitempty"`
	Media          []*MediaItem `json:"media,omitempty"`
}

// resultsDocument is the saved-results JSON shape: {metadata, tweets:[...]}
type resultsDocument struct {
	Metadata map[string]interface{} `json:"metadata"`
	Tweets   []*Tweet               `json:"tweets"`
}

// LoadTweets reads tweets from a saved results file. Both the
// {metadata, tweets:[...]} document and a bare tweet array are accepted.
func LoadTweets(path string) ([]*Tweet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	return ParseTweets(data)
}

// ParseTweets decodes tweets from raw results JSON
func ParseTweets(data []byte) ([]*Tweet, error) {
	var doc resultsDocument
	if err := json.Unmarshal(data, &doc); err == nil && doc.Tweets != nil {
		return doc.Tweets, nil
	}

	var tweets []*Tweet
	if err := json.Unmarshal(data, &tweets); err == nil {
		return tweets, nil
	}

	return nil, fmt.Errorf("unsupported results JSON shape")
}

// EnsureReferers copies the tweet URL onto media items that lack one.
// Some origins refuse media requests without a Referer from the
// originating tweet.
func EnsureReferers(tweets []*Tweet) {
	for _, tweet := range tweets {
		if tweet.URL == "" {
			continue
		}
		for _, media := range tweet.Media {
			if media != nil && media.TweetURL == "" {
				media.TweetURL = tweet.URL
			}
		}
	}
}

// CountMedia returns the total number of media items across tweets
func CountMedia(tweets []*Tweet) int {
	total := 0
	for _, tweet := range tweets {
		total += len(tweet.Media)
	}
	return total
}
