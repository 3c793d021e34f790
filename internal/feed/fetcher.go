// Package feed turns a source into a sequence of raw entries ready for
// deduplication. YouTube sources are read through the channel's RSS feed,
// podcast sources through their own feed URL.
package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"briefcast/internal/models"

	"github.com/mmcdole/gofeed"
)

const youtubeFeedTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// Entry is one raw feed item before registration.
type Entry struct {
	ExternalID  string
	Title       string
	URL         string
	AudioURL    *string
	PublishedAt *time.Time
}

// Fetcher fetches all current entries of a source's feed.
type Fetcher interface {
	Fetch(ctx context.Context, source models.Source) ([]Entry, error)
}

type RSSFetcher struct {
	parser *gofeed.Parser
}

func NewRSSFetcher() *RSSFetcher {
	return &RSSFetcher{parser: gofeed.NewParser()}
}

func (f *RSSFetcher) Fetch(ctx context.Context, source models.Source) ([]Entry, error) {
	feedURL := source.URL
	if source.SourceType == models.SourceTypeYouTube {
		channelID, err := ExtractYouTubeChannelID(source.URL)
		if err != nil {
			return nil, err
		}
		feedURL = fmt.Sprintf(youtubeFeedTemplate, channelID)
	}

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feedURL, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		externalID := item.GUID
		if externalID == "" {
			externalID = item.Link
		}

		entries = append(entries, Entry{
			ExternalID:  externalID,
			Title:       item.Title,
			URL:         item.Link,
			AudioURL:    audioEnclosure(item),
			PublishedAt: item.PublishedParsed,
		})
	}
	return entries, nil
}

func audioEnclosure(item *gofeed.Item) *string {
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "audio/") && enc.URL != "" {
			url := enc.URL
			return &url
		}
	}
	return nil
}

// ExtractYouTubeChannelID accepts a channel URL, a feed URL with a channel_id
// parameter, or a bare channel id.
func ExtractYouTubeChannelID(url string) (string, error) {
	if i := strings.Index(url, "channel_id="); i >= 0 {
		id := url[i+len("channel_id="):]
		if j := strings.IndexAny(id, "&"); j >= 0 {
			id = id[:j]
		}
		return id, nil
	}
	if i := strings.Index(url, "/channel/"); i >= 0 {
		id := url[i+len("/channel/"):]
		if j := strings.IndexAny(id, "/?"); j >= 0 {
			id = id[:j]
		}
		return id, nil
	}
	if strings.HasPrefix(url, "UC") && !strings.Contains(url, "/") {
		return url, nil
	}
	return "", fmt.Errorf("could not extract channel id from %s", url)
}
