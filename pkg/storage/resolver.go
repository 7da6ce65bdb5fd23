package storage

import (
	"strings"

	"twdl/pkg/models"
)

// knownSuffixes are the file suffixes trusted when found at the end of a
// URL path. Anything else falls through to the content-type table.
var knownSuffixes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".mp4":  true,
	".mov":  true,
	".webm": true,
}

// contentTypeSuffixes maps response content types to file suffixes
var contentTypeSuffixes = []struct {
	contentType string
	suffix      string
}{
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/gif", ".gif"},
	{"image/webp", ".webp"},
	{"video/mp4", ".mp4"},
	{"video/webm", ".webm"},
}

// ResolveExtension picks the file suffix for a media URL. Resolution
// order: the URL's own suffix if recognized, then the response
// content type, then a default by media type. Pure function.
func ResolveExtension(rawURL string, mediaType models.MediaType, contentType string) string {
	if idx := strings.LastIndex(rawURL, "."); idx >= 0 {
		ext := rawURL[idx:]
		// Drop query strings and legacy :size suffixes
		if cut := strings.IndexByte(ext, '?'); cut >= 0 {
			ext = ext[:cut]
		}
		if cut := strings.IndexByte(ext, ':'); cut >= 0 {
			ext = ext[:cut]
		}
		if knownSuffixes[strings.ToLower(ext)] {
			return ext
		}
	}

	for _, entry := range contentTypeSuffixes {
		if contentType != "" && strings.Contains(contentType, entry.contentType) {
			return entry.suffix
		}
	}

	switch mediaType {
	case models.MediaTypePhoto:
		return ".jpg"
	case models.MediaTypeVideo, models.MediaTypeAnimatedGIF:
		return ".mp4"
	default:
		return ".bin"
	}
}
