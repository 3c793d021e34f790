package db

import (
	"briefcast/internal/models"

	"github.com/lib/pq"
)

// EnqueueDigestItem queues an episode for delivery to a user. Duplicate
// (user, episode) pairs are ignored, which makes racing fan-out and direct
// submission paths safe.
func EnqueueDigestItem(userID, episodeID int) error {
	_, err := DB.Exec(`
		INSERT INTO digest_queue (user_id, episode_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, episode_id) DO NOTHING`,
		userID, episodeID)
	return err
}

func GetDigestQueueByUserID(userID int) ([]models.DigestQueueItem, error) {
	var items []models.DigestQueueItem
	err := DB.Select(&items, "SELECT * FROM digest_queue WHERE user_id = $1 ORDER BY date_added", userID)
	return items, err
}

// DeleteDigestItems removes delivered queue entries. Items whose episodes are
// still pending stay queued.
func DeleteDigestItems(ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := DB.Exec("DELETE FROM digest_queue WHERE id = ANY($1)", pq.Array(ids))
	return err
}
