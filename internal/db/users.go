package db

import (
	"errors"
	"log"

	"briefcast/internal/models"
)

// ErrNoContactChannel is returned when a user is created without any way to
// reach them.
var ErrNoContactChannel = errors.New("user needs an email or a telegram chat id")

func CreateUser(email, telegramChatID *string, preferredDigestTime, timezone string) (*models.User, error) {
	if (email == nil || *email == "") && (telegramChatID == nil || *telegramChatID == "") {
		return nil, ErrNoContactChannel
	}

	user := &models.User{}
	err := DB.Get(user, `
		INSERT INTO users (email, telegram_chat_id, preferred_digest_time, timezone)
		VALUES ($1, $2, $3, $4)
		RETURNING *`,
		email, telegramChatID, preferredDigestTime, timezone)
	if err != nil {
		log.Printf("Error creating user: %v", err)
		return nil, err
	}
	return user, nil
}

func GetUser(id int) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, "SELECT * FROM users WHERE id = $1", id)
	return user, err
}

func UpdateUser(id int, email, telegramChatID, preferredDigestTime, timezone *string) (*models.User, error) {
	user := &models.User{}
	err := DB.Get(user, `
		UPDATE users SET
			email = COALESCE($1, email),
			telegram_chat_id = COALESCE($2, telegram_chat_id),
			preferred_digest_time = COALESCE($3, preferred_digest_time),
			timezone = COALESCE($4, timezone)
		WHERE id = $5
		RETURNING *`,
		email, telegramChatID, preferredDigestTime, timezone, id)
	return user, err
}

// GetUsersByDigestHour returns users whose preferred digest time falls in the
// given hour. Only the hour component is matched.
func GetUsersByDigestHour(hour string) ([]models.User, error) {
	var users []models.User
	err := DB.Select(&users, "SELECT * FROM users WHERE preferred_digest_time LIKE $1", hour+":%")
	return users, err
}
