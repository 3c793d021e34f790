// Package identity reduces every inbound content reference to one canonical
// URL and hashes it into the registry-wide deduplication key. Both the poller
// and the direct submission path derive episode identity here, so the same
// video reached through either path always collides to a single episode row.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	youtubeIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`[?&]v=([a-zA-Z0-9_-]{11})`),
	}
	spacesPattern = regexp.MustCompile(`(?:twitter\.com|x\.com)/i/spaces/([a-zA-Z0-9]+)`)
)

// IsYouTubeURL reports whether the URL points at a YouTube video.
func IsYouTubeURL(url string) bool {
	return strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be")
}

// IsSpacesURL reports whether the URL points at an X Spaces recording.
func IsSpacesURL(url string) bool {
	return spacesPattern.MatchString(url)
}

// ExtractYouTubeVideoID pulls the 11-character video id out of any accepted
// YouTube URL shape (watch?v=, youtu.be/, /embed/).
func ExtractYouTubeVideoID(url string) (string, bool) {
	for _, p := range youtubeIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ExtractSpacesID pulls the recording id out of an X Spaces URL.
func ExtractSpacesID(url string) (string, bool) {
	if m := spacesPattern.FindStringSubmatch(url); m != nil {
		return m[1], true
	}
	return "", false
}

// Normalize rewrites a raw URL to its canonical form:
// YouTube videos become https://youtube.com/watch?v=<id>, Spaces recordings
// become https://x.com/i/spaces/<id>, anything else loses its query string.
func Normalize(rawURL string) string {
	if IsYouTubeURL(rawURL) {
		if id, ok := ExtractYouTubeVideoID(rawURL); ok {
			return "https://youtube.com/watch?v=" + id
		}
	}
	if id, ok := ExtractSpacesID(rawURL); ok {
		return "https://x.com/i/spaces/" + id
	}
	if i := strings.Index(rawURL, "?"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// UniqueID hashes the canonical URL into the episode deduplication key.
func UniqueID(rawURL string) string {
	sum := sha256.Sum256([]byte(Normalize(rawURL)))
	return hex.EncodeToString(sum[:])[:32]
}
