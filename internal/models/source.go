package models

import "time"

const (
	SourceTypeYouTube = "youtube"
	SourceTypePodcast = "podcast"
)

// Source is a subscribable feed: a YouTube channel or a podcast RSS feed.
type Source struct {
	ID            int        `db:"id"`
	URL           string     `db:"url"`
	Name          string     `db:"name"`
	SourceType    string     `db:"source_type"`
	LastCheckedAt *time.Time `db:"last_checked_at"`
	CreatedAt     time.Time  `db:"created_at"`
}
