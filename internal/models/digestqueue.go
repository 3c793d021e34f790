package models

import "time"

// DigestQueueItem marks an episode as pending delivery to a user. Removed only
// after a digest containing it was delivered on at least one channel.
type DigestQueueItem struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	EpisodeID int       `db:"episode_id"`
	DateAdded time.Time `db:"date_added"`
}
