package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessEpisode      = "episode:process"
	TypePollSource          = "source:poll"
	TypePollAllSources      = "sources:poll_all"
	TypeDispatchDigests     = "digests:dispatch"
	TypeSendUserDigest      = "digest:user"
	TypeSendImmediateDigest = "digest:immediate"
)

type ProcessEpisodePayload struct {
	EpisodeID int
	// NotifyUserID, when set, requests an immediate single-episode delivery
	// to that user once processing completes (one-off submissions).
	NotifyUserID int
}

// NewProcessEpisodeTask builds the processing job for one episode. The task id
// is derived from the episode id, so a second enqueue while one is still
// queued or running is rejected by the queue with ErrTaskIDConflict.
func NewProcessEpisodeTask(episodeID, notifyUserID int) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEpisodePayload{EpisodeID: episodeID, NotifyUserID: notifyUserID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEpisode, payload,
		asynq.TaskID(fmt.Sprintf("episode:process:%d", episodeID)),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Hour),
	), nil
}

type PollSourcePayload struct {
	SourceID int
}

func NewPollSourceTask(sourceID int) (*asynq.Task, error) {
	payload, err := json.Marshal(PollSourcePayload{SourceID: sourceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePollSource, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

func NewPollAllSourcesTask() (*asynq.Task, error) {
	return asynq.NewTask(TypePollAllSources, nil), nil
}

func NewDispatchDigestsTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeDispatchDigests, nil), nil
}

type SendUserDigestPayload struct {
	UserID int
}

func NewSendUserDigestTask(userID int) (*asynq.Task, error) {
	payload, err := json.Marshal(SendUserDigestPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSendUserDigest, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

type SendImmediateDigestPayload struct {
	UserID    int
	EpisodeID int
}

func NewSendImmediateDigestTask(userID, episodeID int) (*asynq.Task, error) {
	payload, err := json.Marshal(SendImmediateDigestPayload{UserID: userID, EpisodeID: episodeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSendImmediateDigest, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}
