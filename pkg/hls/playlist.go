package hls

import (
	"io"
	"net/url"

	"github.com/grafov/m3u8"

	errs "twdl/pkg/errors"
)

// maxVariantDepth bounds master-playlist recursion; a well-formed master
// references media playlists one level down, but origins have been seen
// nesting masters once more.
const maxVariantDepth = 3

// decodePlaylist parses a manifest body into either a master or a media
// playlist.
func decodePlaylist(body io.Reader) (m3u8.Playlist, m3u8.ListType, error) {
	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, 0, errs.New(errs.ErrorTypePlaylist, 0, "failed to parse playlist: %v", err)
	}
	return playlist, listType, nil
}

// selectVariant picks the variant with the strictly highest bandwidth.
// Ties keep the first-seen variant.
func selectVariant(master *m3u8.MasterPlaylist) (string, error) {
	var bestURI string
	var bestBandwidth uint32
	first := true

	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		if first || variant.Bandwidth > bestBandwidth {
			bestURI = variant.URI
			bestBandwidth = variant.Bandwidth
			first = false
		}
	}

	if bestURI == "" {
		return "", errs.New(errs.ErrorTypePlaylist, 0, "master playlist has no variants")
	}
	return bestURI, nil
}

// segmentURLs extracts the ordered segment URIs from a media playlist,
// resolved against the playlist's own URL.
func segmentURLs(media *m3u8.MediaPlaylist, playlistURL *url.URL) []string {
	var urls []string
	for _, segment := range media.Segments {
		if segment == nil || segment.URI == "" {
			continue
		}
		urls = append(urls, resolveURL(playlistURL, segment.URI))
	}
	return urls
}

// resolveURL resolves a segment or variant reference against its
// playlist URL: absolute references pass through, root-relative ones
// resolve against the origin, anything else against the playlist's
// directory.
func resolveURL(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
