package models

import "time"

// Subscription links a user to a source. One row per (user, source) pair.
type Subscription struct {
	ID        int       `db:"id"`
	UserID    int       `db:"user_id"`
	SourceID  int       `db:"source_id"`
	CreatedAt time.Time `db:"created_at"`
}
