package db

import (
	"time"

	"briefcast/internal/models"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// CreateEpisode inserts a PENDING episode. sourceID is nil for one-off
// submissions. A unique_id conflict returns sql.ErrNoRows via the empty
// RETURNING set; callers racing an existing row should re-read by unique id.
func CreateEpisode(sourceID *int, uniqueID, title, url string, audioURL *string, publishedAt *time.Time) (models.Episode, error) {
	episode := models.Episode{}
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}
	err := DB.Get(&episode, `
		INSERT INTO episodes (source_id, unique_id, title, url, audio_url, published_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (unique_id) DO NOTHING
		RETURNING *`,
		sourceID, uniqueID, titlePtr, url, audioURL, publishedAt)
	return episode, err
}

func GetEpisode(id int) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE id = $1", id)
	return episode, err
}

func GetEpisodeByUniqueID(uniqueID string) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE unique_id = $1", uniqueID)
	return episode, err
}

func GetEpisodesBySourceID(sourceID int) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, "SELECT * FROM episodes WHERE source_id = $1 ORDER BY published_at DESC NULLS LAST", sourceID)
	return episodes, err
}

// ClaimEpisodeForProcessing moves an episode to PROCESSING. It succeeds only
// from PENDING or FAILED, so a concurrent invocation that already claimed the
// episode (or a completed one) makes this report false and the caller no-ops.
func ClaimEpisodeForProcessing(id int) (bool, error) {
	res, err := DB.Exec(`
		UPDATE episodes SET status = $1
		WHERE id = $2 AND status IN ($3, $4)`,
		StatusProcessing, id, StatusPending, StatusFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func UpdateEpisodeTitle(id int, title string) error {
	_, err := DB.Exec("UPDATE episodes SET title = $1 WHERE id = $2", title, id)
	return err
}

func UpdateEpisodeCompleted(id int, transcript, summary string) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, transcript = $2, summary = $3, error_message = NULL, processed_at = NOW()
		WHERE id = $4`,
		StatusCompleted, transcript, summary, id)
	return err
}

// UpdateEpisodeFailed marks the episode FAILED and drops any partially
// persisted transcript. An empty message stores NULL.
func UpdateEpisodeFailed(id int, message string) error {
	var msgPtr *string
	if message != "" {
		msgPtr = &message
	}
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, error_message = $2, transcript = NULL, summary = NULL
		WHERE id = $3`,
		StatusFailed, msgPtr, id)
	return err
}

// ResetEpisodeForReprocess is the manual FAILED -> PENDING transition. It also
// clears the stored error message.
func ResetEpisodeForReprocess(id int) error {
	_, err := DB.Exec(`
		UPDATE episodes SET status = $1, error_message = NULL WHERE id = $2`,
		StatusPending, id)
	return err
}
