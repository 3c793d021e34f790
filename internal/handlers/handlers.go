// Package handlers is the HTTP boundary over the registry and the task queue.
// It validates input, reads and writes registry rows, and enqueues pipeline
// jobs; all processing happens in the worker.
package handlers

import (
	"encoding/json"
	"net/http"

	"briefcast/pkg/tasks"

	"github.com/gorilla/mux"
)

type Handlers struct {
	asynqClient tasks.TaskEnqueuer
}

func New(asynqClient tasks.TaskEnqueuer) *Handlers {
	return &Handlers{asynqClient: asynqClient}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/episodes/submit", h.SubmitEpisode).Methods(http.MethodPost)
	r.HandleFunc("/episodes/{id:[0-9]+}", h.GetEpisode).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/status", h.GetEpisodeStatus).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id:[0-9]+}/reprocess", h.ReprocessEpisode).Methods(http.MethodPost)

	r.HandleFunc("/sources", h.ListSources).Methods(http.MethodGet)
	r.HandleFunc("/sources", h.CreateSource).Methods(http.MethodPost)
	r.HandleFunc("/sources/{id:[0-9]+}", h.GetSource).Methods(http.MethodGet)
	r.HandleFunc("/sources/{id:[0-9]+}", h.DeleteSource).Methods(http.MethodDelete)
	r.HandleFunc("/sources/{id:[0-9]+}/poll", h.PollSource).Methods(http.MethodPost)
	r.HandleFunc("/sources/{id:[0-9]+}/episodes", h.ListSourceEpisodes).Methods(http.MethodGet)

	r.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{id:[0-9]+}", h.GetUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}", h.UpdateUser).Methods(http.MethodPatch)
	r.HandleFunc("/users/{id:[0-9]+}/subscribe", h.Subscribe).Methods(http.MethodPost)
	r.HandleFunc("/users/{id:[0-9]+}/subscribe/{sourceID:[0-9]+}", h.Unsubscribe).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id:[0-9]+}/subscriptions", h.ListSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/users/{id:[0-9]+}/digest-queue", h.GetDigestQueue).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
