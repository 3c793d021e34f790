package models

import "time"

// User is a digest recipient. At least one of Email or TelegramChatID is set.
type User struct {
	ID                  int       `db:"id"`
	Email               *string   `db:"email"`
	TelegramChatID      *string   `db:"telegram_chat_id"`
	PreferredDigestTime string    `db:"preferred_digest_time"`
	Timezone            string    `db:"timezone"`
	CreatedAt           time.Time `db:"created_at"`
}
