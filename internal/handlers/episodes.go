package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"briefcast/internal/db"
	"briefcast/internal/identity"
	"briefcast/internal/models"
	"briefcast/pkg/tasks"

	"github.com/gorilla/mux"
)

type submitRequest struct {
	URL string `json:"url"`
	// If provided, the summary is delivered to this user when ready.
	UserID int `json:"user_id,omitempty"`
}

type submitResponse struct {
	Message   string `json:"message"`
	EpisodeID int    `json:"episode_id"`
	Status    string `json:"status"`
}

// SubmitEpisode handles a one-off URL submission. Identity-based dedup keeps
// one episode row per content item no matter how often it is submitted.
func (h *Handlers) SubmitEpisode(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	uniqueID := identity.UniqueID(req.URL)
	normalizedURL := identity.Normalize(req.URL)

	if existing, err := db.GetEpisodeByUniqueID(uniqueID); err == nil {
		h.handleExistingSubmission(w, existing, req)
		return
	}

	// A podcast URL is itself the audio reference; video URLs are not.
	var audioURL *string
	if !identity.IsYouTubeURL(normalizedURL) && !identity.IsSpacesURL(normalizedURL) {
		audioURL = &req.URL
	}

	episode, err := db.CreateEpisode(nil, uniqueID, "", normalizedURL, audioURL, nil)
	if err != nil {
		// Lost a creation race: the row exists now, queue against it instead.
		if existing, lookupErr := db.GetEpisodeByUniqueID(uniqueID); lookupErr == nil {
			h.handleExistingSubmission(w, existing, req)
			return
		}
		log.Printf("Error creating episode for %s: %v", normalizedURL, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if req.UserID != 0 {
		if err := db.EnqueueDigestItem(req.UserID, episode.ID); err != nil {
			log.Printf("Error queueing episode %d for user %d: %v", episode.ID, req.UserID, err)
		}
	}

	h.enqueueProcessing(episode.ID, 0)
	writeJSON(w, http.StatusAccepted, submitResponse{
		Message:   "Processing started",
		EpisodeID: episode.ID,
		Status:    db.StatusPending,
	})
}

func (h *Handlers) handleExistingSubmission(w http.ResponseWriter, episode models.Episode, req submitRequest) {
	switch episode.Status {
	case db.StatusCompleted:
		if req.UserID != 0 {
			h.enqueueImmediateDigest(req.UserID, episode.ID)
			writeJSON(w, http.StatusOK, submitResponse{
				Message:   "Summary already available, sending now",
				EpisodeID: episode.ID,
				Status:    episode.Status,
			})
			return
		}
		writeJSON(w, http.StatusOK, submitResponse{
			Message:   "Summary already available",
			EpisodeID: episode.ID,
			Status:    episode.Status,
		})

	case db.StatusFailed:
		if err := db.ResetEpisodeForReprocess(episode.ID); err != nil {
			log.Printf("Error resetting episode %d: %v", episode.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		// The immediate notification rides in the task payload, but a stale
		// task already queued for this episode would not carry it. The queue
		// entry guarantees the scheduled digest serves the user either way.
		if req.UserID != 0 {
			if err := db.EnqueueDigestItem(req.UserID, episode.ID); err != nil {
				log.Printf("Error queueing episode %d for user %d: %v", episode.ID, req.UserID, err)
			}
		}
		h.enqueueProcessing(episode.ID, req.UserID)
		writeJSON(w, http.StatusAccepted, submitResponse{
			Message:   "Retrying failed episode",
			EpisodeID: episode.ID,
			Status:    db.StatusPending,
		})

	default:
		// Still pending or processing: register interest, don't reprocess.
		if req.UserID != 0 {
			if err := db.EnqueueDigestItem(req.UserID, episode.ID); err != nil {
				log.Printf("Error queueing episode %d for user %d: %v", episode.ID, req.UserID, err)
			}
		}
		writeJSON(w, http.StatusOK, submitResponse{
			Message:   "Already processing",
			EpisodeID: episode.ID,
			Status:    episode.Status,
		})
	}
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.episodeFromPath(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"id":           episode.ID,
		"title":        episode.Title,
		"url":          episode.URL,
		"status":       episode.Status,
		"published_at": episode.PublishedAt,
		"processed_at": episode.ProcessedAt,
	}
	if episode.Status == db.StatusCompleted {
		resp["summary"] = episode.Summary
	}
	if episode.ErrorMessage != nil {
		resp["error_message"] = episode.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetEpisodeStatus(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.episodeFromPath(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"episode_id":  episode.ID,
		"status":      episode.Status,
		"has_summary": episode.Summary != nil,
	})
}

// ReprocessEpisode is the manual FAILED -> PENDING transition.
func (h *Handlers) ReprocessEpisode(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.episodeFromPath(w, r)
	if !ok {
		return
	}

	if episode.Status == db.StatusProcessing {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Already processing"})
		return
	}

	if err := db.ResetEpisodeForReprocess(episode.ID); err != nil {
		log.Printf("Error resetting episode %d: %v", episode.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.enqueueProcessing(episode.ID, 0)
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Reprocessing started"})
}

func (h *Handlers) episodeFromPath(w http.ResponseWriter, r *http.Request) (models.Episode, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid episode ID", http.StatusBadRequest)
		return models.Episode{}, false
	}

	episode, err := db.GetEpisode(id)
	if err != nil {
		http.Error(w, "Episode not found", http.StatusNotFound)
		return models.Episode{}, false
	}
	return episode, true
}

func (h *Handlers) enqueueProcessing(episodeID, notifyUserID int) {
	task, err := tasks.NewProcessEpisodeTask(episodeID, notifyUserID)
	if err != nil {
		log.Printf("Error creating process task for episode %d: %v", episodeID, err)
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("Error enqueuing process task for episode %d: %v", episodeID, err)
	}
}

func (h *Handlers) enqueueImmediateDigest(userID, episodeID int) {
	task, err := tasks.NewSendImmediateDigestTask(userID, episodeID)
	if err != nil {
		log.Printf("Error creating immediate digest task: %v", err)
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("Error enqueuing immediate digest task: %v", err)
	}
}
