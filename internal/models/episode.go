package models

import "time"

type Episode struct {
	ID           int        `db:"id"`
	SourceID     *int       `db:"source_id"`
	UniqueID     string     `db:"unique_id"`
	Title        *string    `db:"title"`
	URL          string     `db:"url"`
	AudioURL     *string    `db:"audio_url"`
	Transcript   *string    `db:"transcript"`
	Summary      *string    `db:"summary"`
	Status       string     `db:"status"`
	ErrorMessage *string    `db:"error_message"`
	PublishedAt  *time.Time `db:"published_at"`
	ProcessedAt  *time.Time `db:"processed_at"`
	CreatedAt    time.Time  `db:"created_at"`
}
