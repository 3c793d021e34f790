package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"briefcast/internal/db"
	"briefcast/internal/models"

	"github.com/gorilla/mux"
)

type createUserRequest struct {
	Email               *string `json:"email"`
	TelegramChatID      *string `json:"telegram_chat_id"`
	PreferredDigestTime string  `json:"preferred_digest_time"`
	Timezone            string  `json:"timezone"`
}

type updateUserRequest struct {
	Email               *string `json:"email"`
	TelegramChatID      *string `json:"telegram_chat_id"`
	PreferredDigestTime *string `json:"preferred_digest_time"`
	Timezone            *string `json:"timezone"`
}

type subscribeRequest struct {
	SourceID int `json:"source_id"`
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.PreferredDigestTime == "" {
		req.PreferredDigestTime = "08:00"
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	user, err := db.CreateUser(req.Email, req.TelegramChatID, req.PreferredDigestTime, req.Timezone)
	if err != nil {
		if errors.Is(err, db.ErrNoContactChannel) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	updated, err := db.UpdateUser(user.ID, req.Email, req.TelegramChatID, req.PreferredDigestTime, req.Timezone)
	if err != nil {
		log.Printf("Error updating user %d: %v", user.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Subscribe links the user to a source; re-subscribing is a no-op.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if _, err := db.GetSource(req.SourceID); err != nil {
		http.Error(w, "Source not found", http.StatusNotFound)
		return
	}

	sub, err := db.AddSubscription(user.ID, req.SourceID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":         "Subscribed",
		"subscription_id": sub.ID,
	})
}

func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	sourceID, err := strconv.Atoi(mux.Vars(r)["sourceID"])
	if err != nil {
		http.Error(w, "Invalid source ID", http.StatusBadRequest)
		return
	}

	if err := db.DeleteSubscription(user.ID, sourceID); err != nil {
		log.Printf("Error unsubscribing user %d from source %d: %v", user.ID, sourceID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Unsubscribed"})
}

func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	subscriptions, err := db.GetSubscriptionsByUserID(user.ID)
	if err != nil {
		log.Printf("Error listing subscriptions for user %d: %v", user.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions)
}

func (h *Handlers) GetDigestQueue(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userFromPath(w, r)
	if !ok {
		return
	}

	items, err := db.GetDigestQueueByUserID(user.ID)
	if err != nil {
		log.Printf("Error listing digest queue for user %d: %v", user.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) userFromPath(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return nil, false
	}

	user, err := db.GetUser(id)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}
