package db

import (
	"log"

	"briefcast/internal/models"
)

// AddSubscription subscribes a user to a source. Re-subscribing is a no-op
// that returns the existing row.
func AddSubscription(userID, sourceID int) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := DB.Get(sub, `
		INSERT INTO subscriptions (user_id, source_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, source_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING *`,
		userID, sourceID)
	if err != nil {
		log.Printf("Error adding subscription for user %d to source %d: %v", userID, sourceID, err)
		return nil, err
	}
	return sub, nil
}

func DeleteSubscription(userID, sourceID int) error {
	_, err := DB.Exec("DELETE FROM subscriptions WHERE user_id = $1 AND source_id = $2", userID, sourceID)
	return err
}

func GetSubscriptionsByUserID(userID int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := DB.Select(&subscriptions, "SELECT * FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return subscriptions, err
}

func GetSubscriptionsBySourceID(sourceID int) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := DB.Select(&subscriptions, "SELECT * FROM subscriptions WHERE source_id = $1", sourceID)
	return subscriptions, err
}
