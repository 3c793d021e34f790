package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"briefcast/internal/db"
	"briefcast/internal/models"
	"briefcast/pkg/tasks"

	"github.com/gorilla/mux"
)

type createSourceRequest struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	SourceType string `json:"source_type"`
}

func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := db.GetAllSources()
	if err != nil {
		log.Printf("Error listing sources: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

// CreateSource registers a feed and triggers its initial poll. Re-adding an
// existing URL returns the existing source.
func (h *Handlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if req.SourceType != models.SourceTypeYouTube && req.SourceType != models.SourceTypePodcast {
		http.Error(w, "source_type must be youtube or podcast", http.StatusBadRequest)
		return
	}

	source, err := db.CreateSource(req.URL, req.Name, req.SourceType)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.enqueuePoll(source.ID)
	writeJSON(w, http.StatusCreated, source)
}

func (h *Handlers) GetSource(w http.ResponseWriter, r *http.Request) {
	source, ok := h.sourceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, source)
}

func (h *Handlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	source, ok := h.sourceFromPath(w, r)
	if !ok {
		return
	}

	if err := db.DeleteSource(source.ID); err != nil {
		log.Printf("Error deleting source %d: %v", source.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Source deleted"})
}

func (h *Handlers) PollSource(w http.ResponseWriter, r *http.Request) {
	source, ok := h.sourceFromPath(w, r)
	if !ok {
		return
	}

	h.enqueuePoll(source.ID)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "Poll queued",
		"source_id": source.ID,
	})
}

func (h *Handlers) ListSourceEpisodes(w http.ResponseWriter, r *http.Request) {
	source, ok := h.sourceFromPath(w, r)
	if !ok {
		return
	}

	episodes, err := db.GetEpisodesBySourceID(source.ID)
	if err != nil {
		log.Printf("Error listing episodes for source %d: %v", source.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (h *Handlers) sourceFromPath(w http.ResponseWriter, r *http.Request) (models.Source, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid source ID", http.StatusBadRequest)
		return models.Source{}, false
	}

	source, err := db.GetSource(id)
	if err != nil {
		http.Error(w, "Source not found", http.StatusNotFound)
		return models.Source{}, false
	}
	return source, true
}

func (h *Handlers) enqueuePoll(sourceID int) {
	task, err := tasks.NewPollSourceTask(sourceID)
	if err != nil {
		log.Printf("Error creating poll task for source %d: %v", sourceID, err)
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("Error enqueuing poll task for source %d: %v", sourceID, err)
	}
}
