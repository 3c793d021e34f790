// Package worker hosts the pipeline jobs: episode processing, source polling,
// and digest dispatch. Each job is an asynq task handler; returning an error
// schedules a retry, wrapping asynq.SkipRetry marks the failure permanent.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"briefcast/internal/db"
	"briefcast/internal/feed"
	"briefcast/internal/identity"
	"briefcast/internal/models"
	"briefcast/internal/summarize"
	"briefcast/internal/transcript"
	"briefcast/pkg/tasks"

	"github.com/hibiken/asynq"
)

var timeNow = time.Now

// Transcriber acquires transcripts per content type.
type Transcriber interface {
	TranscribeYouTube(ctx context.Context, url string) (transcript.Result, error)
	TranscribeSpaces(ctx context.Context, url string) (transcript.Result, error)
	TranscribeAudioURL(ctx context.Context, audioURL string) (transcript.Result, error)
}

// Summarizer produces single-episode summaries and multi-episode digests.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Synthesize(ctx context.Context, items []summarize.Item) (string, error)
}

// Deliverer is one delivery channel for digest messages.
type Deliverer interface {
	Name() string
	CanDeliver(user models.User) bool
	Deliver(ctx context.Context, user models.User, message string) error
}

type TaskHandler struct {
	asynqClient tasks.TaskEnqueuer
	fetcher     feed.Fetcher
	transcriber Transcriber
	summarizer  Summarizer
	deliverers  []Deliverer
}

func NewTaskHandler(client tasks.TaskEnqueuer, fetcher feed.Fetcher, transcriber Transcriber, summarizer Summarizer, deliverers []Deliverer) *TaskHandler {
	return &TaskHandler{
		asynqClient: client,
		fetcher:     fetcher,
		transcriber: transcriber,
		summarizer:  summarizer,
		deliverers:  deliverers,
	}
}

// HandleProcessEpisodeTask drives one episode from PENDING to COMPLETED or
// FAILED: claim, classify, transcribe, summarize, persist, fan out.
func (h *TaskHandler) HandleProcessEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessEpisodePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing episode %d", p.EpisodeID)

	episode, err := db.GetEpisode(p.EpisodeID)
	if err != nil {
		return fmt.Errorf("failed to get episode %d: %w", p.EpisodeID, err)
	}

	if episode.Status == db.StatusCompleted {
		// Idempotent short-circuit. A duplicate invocation must not reprocess,
		// but a pending one-off notification is still worth sending.
		log.Printf("Episode %d already completed, skipping", p.EpisodeID)
		h.notifyUser(p.NotifyUserID, episode.ID)
		return nil
	}

	// The status commit is the admission control: only one invocation can move
	// the episode into PROCESSING, every other concurrent one no-ops here.
	claimed, err := db.ClaimEpisodeForProcessing(episode.ID)
	if err != nil {
		return fmt.Errorf("failed to claim episode %d: %w", episode.ID, err)
	}
	if !claimed {
		log.Printf("Episode %d is already being processed, skipping", episode.ID)
		return nil
	}

	contentType, err := h.classify(episode)
	if err != nil {
		// An unclassifiable URL will not get better on retry; a failed source
		// lookup is a registry hiccup and will.
		if errors.Is(err, errUnclassifiable) {
			return h.failPermanently(episode.ID, err)
		}
		return h.failForRetry(episode.ID, err)
	}

	result, err := h.transcribe(ctx, contentType, episode)
	if err != nil {
		if errors.Is(err, transcript.ErrNoCaptions) || errors.Is(err, transcript.ErrBadVideoURL) || errors.Is(err, errMissingAudio) {
			return h.failPermanently(episode.ID, err)
		}
		return h.failForRetry(episode.ID, err)
	}

	if (episode.Title == nil || *episode.Title == "") && result.Title != "" {
		if err := db.UpdateEpisodeTitle(episode.ID, result.Title); err != nil {
			log.Printf("Failed to update title for episode %d: %v", episode.ID, err)
		}
	}

	summary, err := h.summarizer.Summarize(ctx, result.Text)
	if err != nil {
		return h.failForRetry(episode.ID, err)
	}

	if err := db.UpdateEpisodeCompleted(episode.ID, result.Text, summary); err != nil {
		return h.failForRetry(episode.ID, err)
	}

	h.fanOut(episode)
	h.notifyUser(p.NotifyUserID, episode.ID)

	log.Printf("Successfully processed episode %d", episode.ID)
	return nil
}

// classify resolves the content type: the source's declared type when the
// episode belongs to one, inferred from the URL shape otherwise.
func (h *TaskHandler) classify(episode models.Episode) (string, error) {
	if episode.SourceID != nil {
		source, err := db.GetSource(*episode.SourceID)
		if err != nil {
			return "", fmt.Errorf("failed to get source %d: %w", *episode.SourceID, err)
		}
		return source.SourceType, nil
	}

	switch {
	case identity.IsYouTubeURL(episode.URL):
		return models.SourceTypeYouTube, nil
	case identity.IsSpacesURL(episode.URL):
		return "x_spaces", nil
	case episode.AudioURL != nil && *episode.AudioURL != "":
		return models.SourceTypePodcast, nil
	default:
		return "", fmt.Errorf("episode %d: %w", episode.ID, errUnclassifiable)
	}
}

// errUnclassifiable marks a one-off episode whose URL matches no supported
// platform and carries no audio reference.
var errUnclassifiable = errors.New("cannot determine content type")

func (h *TaskHandler) transcribe(ctx context.Context, contentType string, episode models.Episode) (transcript.Result, error) {
	switch contentType {
	case models.SourceTypeYouTube:
		return h.transcriber.TranscribeYouTube(ctx, episode.URL)
	case "x_spaces":
		return h.transcriber.TranscribeSpaces(ctx, episode.URL)
	default:
		if episode.AudioURL == nil || *episode.AudioURL == "" {
			return transcript.Result{}, fmt.Errorf("episode %d: %w", episode.ID, errMissingAudio)
		}
		return h.transcriber.TranscribeAudioURL(ctx, *episode.AudioURL)
	}
}

// errMissingAudio marks a podcast episode without an audio reference, which no
// amount of retrying will fix.
var errMissingAudio = errors.New("no audio URL for podcast episode")

// failPermanently records a structured error message on the episode and tells
// the queue not to retry.
func (h *TaskHandler) failPermanently(episodeID int, cause error) error {
	if err := db.UpdateEpisodeFailed(episodeID, cause.Error()); err != nil {
		log.Printf("Failed to mark episode %d failed: %v", episodeID, err)
	}
	if errors.Is(cause, asynq.SkipRetry) {
		return cause
	}
	return fmt.Errorf("episode %d failed permanently: %v: %w", episodeID, cause, asynq.SkipRetry)
}

// failForRetry rolls the episode back to FAILED without a message and lets the
// queue retry with backoff. The FAILED row is claimable again, so the retry
// can re-enter processing.
func (h *TaskHandler) failForRetry(episodeID int, cause error) error {
	if err := db.UpdateEpisodeFailed(episodeID, ""); err != nil {
		log.Printf("Failed to mark episode %d failed: %v", episodeID, err)
	}
	return fmt.Errorf("episode %d processing failed: %w", episodeID, cause)
}

// fanOut queues the completed episode for every subscriber of its source.
func (h *TaskHandler) fanOut(episode models.Episode) {
	if episode.SourceID == nil {
		return
	}

	subscriptions, err := db.GetSubscriptionsBySourceID(*episode.SourceID)
	if err != nil {
		log.Printf("Failed to get subscriptions for source %d: %v", *episode.SourceID, err)
		return
	}

	for _, sub := range subscriptions {
		if err := db.EnqueueDigestItem(sub.UserID, episode.ID); err != nil {
			log.Printf("Failed to queue episode %d for user %d: %v", episode.ID, sub.UserID, err)
		}
	}
}

func (h *TaskHandler) notifyUser(userID, episodeID int) {
	if userID == 0 {
		return
	}

	task, err := tasks.NewSendImmediateDigestTask(userID, episodeID)
	if err != nil {
		log.Printf("Failed to create immediate digest task: %v", err)
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("Failed to enqueue immediate digest task: %v", err)
	}
}

// HandlePollAllSourcesTask fans out one poll task per source, so a failing
// source never affects the others' schedules.
func (h *TaskHandler) HandlePollAllSourcesTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Polling all sources...")

	sources, err := db.GetAllSources()
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	for _, source := range sources {
		task, err := tasks.NewPollSourceTask(source.ID)
		if err != nil {
			log.Printf("failed to create poll task for source %d: %v", source.ID, err)
			continue
		}
		if _, err := h.asynqClient.Enqueue(task); err != nil {
			log.Printf("failed to enqueue poll task for source %d: %v", source.ID, err)
			continue
		}
	}

	log.Printf("Queued polls for %d sources", len(sources))
	return nil
}

// HandlePollSourceTask fetches a source's feed, registers entries whose
// identity is not yet known, and schedules them for processing.
func (h *TaskHandler) HandlePollSourceTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.PollSourcePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	source, err := db.GetSource(p.SourceID)
	if err != nil {
		return fmt.Errorf("failed to get source %d: %w", p.SourceID, err)
	}

	entries, err := h.fetcher.Fetch(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to fetch feed for source %d: %w", source.ID, err)
	}

	newCount := 0
	for _, entry := range entries {
		// Identity is always the hash of the canonical URL, matching the
		// direct-submission path, so the same video never registers twice no
		// matter how it arrives.
		uniqueID := identity.UniqueID(entry.URL)

		if _, err := db.GetEpisodeByUniqueID(uniqueID); err == nil {
			continue
		}

		episode, err := db.CreateEpisode(&source.ID, uniqueID, entry.Title, identity.Normalize(entry.URL), entry.AudioURL, entry.PublishedAt)
		if err != nil {
			// A conflict with a concurrent insert surfaces here; the row
			// exists, so there is nothing left to do for this entry.
			log.Printf("failed to create episode for %s: %v", entry.URL, err)
			continue
		}

		task, err := tasks.NewProcessEpisodeTask(episode.ID, 0)
		if err != nil {
			log.Printf("failed to create process task for episode %d: %v", episode.ID, err)
			continue
		}
		if _, err := h.asynqClient.Enqueue(task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf("failed to enqueue process task for episode %d: %v", episode.ID, err)
			continue
		}
		newCount++
	}

	if err := db.UpdateSourceLastChecked(source.ID); err != nil {
		log.Printf("failed to update last checked for source %d: %v", source.ID, err)
	}

	log.Printf("Source %d polled, %d new episodes", source.ID, newCount)
	return nil
}

// HandleDispatchDigestsTask enqueues one digest job per user whose preferred
// digest hour matches the current UTC hour.
func (h *TaskHandler) HandleDispatchDigestsTask(ctx context.Context, t *asynq.Task) error {
	hour := timeNow().UTC().Format("15")

	users, err := db.GetUsersByDigestHour(hour)
	if err != nil {
		return fmt.Errorf("failed to get users for digest hour %s: %w", hour, err)
	}

	for _, user := range users {
		task, err := tasks.NewSendUserDigestTask(user.ID)
		if err != nil {
			log.Printf("failed to create digest task for user %d: %v", user.ID, err)
			continue
		}
		if _, err := h.asynqClient.Enqueue(task); err != nil {
			log.Printf("failed to enqueue digest task for user %d: %v", user.ID, err)
			continue
		}
	}

	log.Printf("Queued digests for %d users (hour %s)", len(users), hour)
	return nil
}

// HandleSendUserDigestTask compiles and delivers one user's digest. Queue
// entries are removed only for episodes that actually went out, and only
// after at least one channel confirmed delivery.
func (h *TaskHandler) HandleSendUserDigestTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.SendUserDigestPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	user, err := db.GetUser(p.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user %d: %w", p.UserID, err)
	}

	items, err := db.GetDigestQueueByUserID(user.ID)
	if err != nil {
		return fmt.Errorf("failed to get digest queue for user %d: %w", user.ID, err)
	}
	if len(items) == 0 {
		return nil
	}

	// Only completed episodes with a summary go out; the rest stay queued
	// until they complete.
	var readyIDs []int
	var ready []summarize.Item
	for _, item := range items {
		episode, err := db.GetEpisode(item.EpisodeID)
		if err != nil {
			log.Printf("failed to load queued episode %d: %v", item.EpisodeID, err)
			continue
		}
		if episode.Status != db.StatusCompleted || episode.Summary == nil || *episode.Summary == "" {
			continue
		}
		readyIDs = append(readyIDs, item.ID)
		ready = append(ready, summarize.Item{Title: episodeTitle(episode), Summary: *episode.Summary})
	}

	if len(ready) == 0 {
		return nil
	}

	var message string
	if len(ready) == 1 {
		// A single episode is delivered as its own summary, no synthesis.
		message = fmt.Sprintf("# %s\n\n%s", ready[0].Title, ready[0].Summary)
	} else {
		message, err = h.summarizer.Synthesize(ctx, ready)
		if err != nil {
			return fmt.Errorf("failed to synthesize digest for user %d: %w", user.ID, err)
		}
	}

	if !h.deliver(ctx, *user, message) {
		return fmt.Errorf("no delivery channel succeeded for user %d", user.ID)
	}

	if err := db.DeleteDigestItems(readyIDs); err != nil {
		return fmt.Errorf("failed to clear digest queue for user %d: %w", user.ID, err)
	}

	log.Printf("Delivered digest of %d episodes to user %d", len(ready), user.ID)
	return nil
}

// HandleSendImmediateDigestTask delivers a single completed episode's summary
// right away, bypassing the digest queue.
func (h *TaskHandler) HandleSendImmediateDigestTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.SendImmediateDigestPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	user, err := db.GetUser(p.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user %d: %w", p.UserID, err)
	}

	episode, err := db.GetEpisode(p.EpisodeID)
	if err != nil {
		return fmt.Errorf("failed to get episode %d: %w", p.EpisodeID, err)
	}

	if episode.Status != db.StatusCompleted || episode.Summary == nil {
		log.Printf("Episode %d not completed yet, skipping immediate delivery", episode.ID)
		return nil
	}

	message := fmt.Sprintf("# %s\n\n%s", episodeTitle(episode), *episode.Summary)
	if !h.deliver(ctx, *user, message) {
		return fmt.Errorf("no delivery channel succeeded for user %d", user.ID)
	}
	return nil
}

// deliver attempts every configured channel independently and reports whether
// at least one succeeded. A failing channel is logged, never surfaced to the
// recipient.
func (h *TaskHandler) deliver(ctx context.Context, user models.User, message string) bool {
	delivered := false
	for _, d := range h.deliverers {
		if !d.CanDeliver(user) {
			continue
		}
		if err := d.Deliver(ctx, user, message); err != nil {
			log.Printf("%s delivery failed for user %d: %v", d.Name(), user.ID, err)
			continue
		}
		delivered = true
	}
	return delivered
}

func episodeTitle(episode models.Episode) string {
	if episode.Title != nil && *episode.Title != "" {
		return *episode.Title
	}
	return episode.URL
}
