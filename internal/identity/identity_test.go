package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeYouTubeVariants(t *testing.T) {
	variants := []string{
		"https://www.youtube.com/watch?v=abc12345678",
		"https://youtube.com/watch?v=abc12345678&t=120",
		"https://youtu.be/abc12345678",
		"https://youtu.be/abc12345678?t=5",
		"https://www.youtube.com/embed/abc12345678",
	}

	for _, raw := range variants {
		assert.Equal(t, "https://youtube.com/watch?v=abc12345678", Normalize(raw), "raw URL: %s", raw)
	}
}

func TestUniqueIDCollidesForSameContent(t *testing.T) {
	a := UniqueID("https://youtu.be/abc12345678?t=5")
	b := UniqueID("https://www.youtube.com/watch?v=abc12345678")

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestUniqueIDDiffersAcrossContent(t *testing.T) {
	a := UniqueID("https://youtube.com/watch?v=abc12345678")
	b := UniqueID("https://youtube.com/watch?v=xyz98765432")

	assert.NotEqual(t, a, b)
}

func TestNormalizeSpaces(t *testing.T) {
	assert.Equal(t, "https://x.com/i/spaces/1dRJZEpyjlNGB", Normalize("https://twitter.com/i/spaces/1dRJZEpyjlNGB?s=20"))
	assert.Equal(t, "https://x.com/i/spaces/1dRJZEpyjlNGB", Normalize("https://x.com/i/spaces/1dRJZEpyjlNGB"))
}

func TestNormalizeStripsQueryForOtherURLs(t *testing.T) {
	assert.Equal(t, "https://example.com/podcast/ep1.mp3", Normalize("https://example.com/podcast/ep1.mp3?utm_source=rss"))
	assert.Equal(t, "https://example.com/podcast/ep1.mp3", Normalize("https://example.com/podcast/ep1.mp3"))
}

func TestExtractYouTubeVideoID(t *testing.T) {
	id, ok := ExtractYouTubeVideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1")
	assert.True(t, ok)
	assert.Equal(t, "dQw4w9WgXcQ", id)

	_, ok = ExtractYouTubeVideoID("https://www.youtube.com/@somechannel")
	assert.False(t, ok)
}
