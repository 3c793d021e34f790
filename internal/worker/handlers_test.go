package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"briefcast/internal/db"
	"briefcast/internal/feed"
	"briefcast/internal/identity"
	"briefcast/internal/models"
	"briefcast/internal/summarize"
	"briefcast/internal/test"
	"briefcast/internal/transcript"
	"briefcast/pkg/tasks"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

var episodeColumns = []string{
	"id", "source_id", "unique_id", "title", "url", "audio_url", "transcript",
	"summary", "status", "error_message", "published_at", "processed_at", "created_at",
}

var sourceColumns = []string{"id", "url", "name", "source_type", "last_checked_at", "created_at"}

var userColumns = []string{"id", "email", "telegram_chat_id", "preferred_digest_time", "timezone", "created_at"}

var queueColumns = []string{"id", "user_id", "episode_id", "date_added"}

func episodeRow(id int, sourceID interface{}, uniqueID string, title interface{}, url string, audioURL, summary interface{}, status string) *sqlmock.Rows {
	return sqlmock.NewRows(episodeColumns).
		AddRow(id, sourceID, uniqueID, title, url, audioURL, nil, summary, status, nil, nil, nil, time.Now())
}

type stubTranscriber struct {
	result transcript.Result
	err    error
	calls  int
}

func (s *stubTranscriber) TranscribeYouTube(ctx context.Context, url string) (transcript.Result, error) {
	s.calls++
	return s.result, s.err
}

func (s *stubTranscriber) TranscribeSpaces(ctx context.Context, url string) (transcript.Result, error) {
	s.calls++
	return s.result, s.err
}

func (s *stubTranscriber) TranscribeAudioURL(ctx context.Context, audioURL string) (transcript.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubSummarizer struct {
	summary         string
	digest          string
	summarizeErr    error
	synthesizeErr   error
	summarizeCalls  int
	synthesizeCalls int
	lastItems       []summarize.Item
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	s.summarizeCalls++
	return s.summary, s.summarizeErr
}

func (s *stubSummarizer) Synthesize(ctx context.Context, items []summarize.Item) (string, error) {
	s.synthesizeCalls++
	s.lastItems = items
	return s.digest, s.synthesizeErr
}

type stubDeliverer struct {
	name       string
	configured bool
	err        error
	messages   []string
}

func (s *stubDeliverer) Name() string { return s.name }

func (s *stubDeliverer) CanDeliver(user models.User) bool { return s.configured }

func (s *stubDeliverer) Deliver(ctx context.Context, user models.User, message string) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, message)
	return nil
}

type stubFetcher struct {
	entries []feed.Entry
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context, source models.Source) ([]feed.Entry, error) {
	return s.entries, s.err
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return b
}

func expectClaim(mock sqlmock.Sqlmock, episodeID int, claimed bool) {
	rows := int64(0)
	if claimed {
		rows = 1
	}
	mock.ExpectExec(`UPDATE episodes SET status = \$1`).
		WithArgs(db.StatusProcessing, episodeID, db.StatusPending, db.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, rows))
}

func TestHandleProcessEpisodeTaskOneOff(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	transcriber := &stubTranscriber{result: transcript.Result{Text: "full transcript", Title: "A Video"}}
	summarizer := &stubSummarizer{summary: "the summary"}
	handler := NewTaskHandler(enqueuer, nil, transcriber, summarizer, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", nil, "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))
	expectClaim(mock, 1, true)
	mock.ExpectExec(`UPDATE episodes SET title = \$1`).WithArgs("A Video", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = \$1, transcript = \$2, summary = \$3`).
		WithArgs(db.StatusCompleted, "full transcript", "the summary", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1, NotifyUserID: 7}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Equal(t, 1, transcriber.calls)
	assert.Equal(t, 1, summarizer.summarizeCalls)
	assert.Len(t, enqueuer.EnqueuedTasks, 1)
	assert.Equal(t, tasks.TypeSendImmediateDigest, enqueuer.EnqueuedTasks[0].Type())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskFanOut(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	transcriber := &stubTranscriber{result: transcript.Result{Text: "full transcript"}}
	summarizer := &stubSummarizer{summary: "the summary"}
	handler := NewTaskHandler(enqueuer, nil, transcriber, summarizer, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(2).
		WillReturnRows(episodeRow(2, 3, "uid2", "Known Title", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))
	expectClaim(mock, 2, true)
	mock.ExpectQuery(`SELECT \* FROM sources WHERE id = \$1`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(sourceColumns).
			AddRow(3, "https://www.youtube.com/channel/UCx", "Some Channel", "youtube", nil, time.Now()))
	mock.ExpectExec(`SET status = \$1, transcript = \$2, summary = \$3`).
		WithArgs(db.StatusCompleted, "full transcript", "the summary", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM subscriptions WHERE source_id = \$1`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "source_id", "created_at"}).
			AddRow(1, 10, 3, time.Now()).
			AddRow(2, 11, 3, time.Now()))
	mock.ExpectExec(`INSERT INTO digest_queue`).WithArgs(10, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO digest_queue`).WithArgs(11, 2).WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 2}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Empty(t, enqueuer.EnqueuedTasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskAlreadyCompleted(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	transcriber := &stubTranscriber{}
	handler := NewTaskHandler(enqueuer, nil, transcriber, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", "T", "https://youtube.com/watch?v=abc12345678", nil, "done", db.StatusCompleted))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1, NotifyUserID: 7}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Equal(t, 0, transcriber.calls)
	// The one-off notification still goes out for already completed episodes.
	assert.Len(t, enqueuer.EnqueuedTasks, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskClaimConflict(t *testing.T) {
	_, mock := test.NewMockDB(t)
	transcriber := &stubTranscriber{}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, transcriber, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", nil, "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusProcessing))
	expectClaim(mock, 1, false)

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Equal(t, 0, transcriber.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskNoCaptions(t *testing.T) {
	_, mock := test.NewMockDB(t)
	transcriber := &stubTranscriber{err: transcript.ErrNoCaptions}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, transcriber, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", "T", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))
	expectClaim(mock, 1, true)
	mock.ExpectExec(`SET status = \$1, error_message = \$2`).
		WithArgs(db.StatusFailed, transcript.ErrNoCaptions.Error(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "no-captions failures must not be retried")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskTransientFailure(t *testing.T) {
	_, mock := test.NewMockDB(t)
	transcriber := &stubTranscriber{err: fmt.Errorf("network timeout")}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, transcriber, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", "T", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))
	expectClaim(mock, 1, true)
	mock.ExpectExec(`SET status = \$1, error_message = \$2`).
		WithArgs(db.StatusFailed, nil, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "transient failures should be retried")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskSourceLookupFailureIsRetryable(t *testing.T) {
	_, mock := test.NewMockDB(t)
	transcriber := &stubTranscriber{}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, transcriber, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(2).
		WillReturnRows(episodeRow(2, 3, "uid2", "T", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))
	expectClaim(mock, 2, true)
	mock.ExpectQuery(`SELECT \* FROM sources WHERE id = \$1`).WithArgs(3).
		WillReturnError(fmt.Errorf("connection reset by peer"))
	mock.ExpectExec(`SET status = \$1, error_message = \$2`).
		WithArgs(db.StatusFailed, nil, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 2}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "registry hiccups must stay retryable")
	assert.Equal(t, 0, transcriber.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleProcessEpisodeTaskUnclassifiableURLIsPermanent(t *testing.T) {
	_, mock := test.NewMockDB(t)
	transcriber := &stubTranscriber{}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, transcriber, &stubSummarizer{}, nil)

	// One-off episode: not YouTube, not Spaces, no audio URL.
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(1).
		WillReturnRows(episodeRow(1, nil, "uid1", nil, "https://example.com/some-page", nil, nil, db.StatusPending))
	expectClaim(mock, 1, true)
	mock.ExpectExec(`SET status = \$1, error_message = \$2`).
		WithArgs(db.StatusFailed, "episode 1: cannot determine content type", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.ProcessEpisodePayload{EpisodeID: 1}
	task := asynq.NewTask(tasks.TypeProcessEpisode, mustMarshal(t, payload))

	err := handler.HandleProcessEpisodeTask(context.Background(), task)

	assert.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 0, transcriber.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePollSourceTask(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	newURL := "https://example.com/episodes/1?utm_source=rss"
	knownURL := "https://example.com/episodes/0"
	audioURL := "https://example.com/audio/1.mp3"
	fetcher := &stubFetcher{entries: []feed.Entry{
		{ExternalID: "ep-001", Title: "Episode One", URL: newURL, AudioURL: &audioURL},
		{ExternalID: "ep-000", Title: "Episode Zero", URL: knownURL},
	}}
	handler := NewTaskHandler(enqueuer, fetcher, &stubTranscriber{}, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM sources WHERE id = \$1`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(sourceColumns).
			AddRow(3, "https://example.com/feed.xml", "Some Podcast", "podcast", nil, time.Now()))

	newUID := identity.UniqueID(newURL)
	knownUID := identity.UniqueID(knownURL)

	mock.ExpectQuery(`SELECT \* FROM episodes WHERE unique_id = \$1`).WithArgs(newUID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO episodes`).
		WithArgs(3, newUID, "Episode One", "https://example.com/episodes/1", audioURL, nil).
		WillReturnRows(episodeRow(42, 3, newUID, "Episode One", "https://example.com/episodes/1", audioURL, nil, db.StatusPending))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE unique_id = \$1`).WithArgs(knownUID).
		WillReturnRows(episodeRow(41, 3, knownUID, "Episode Zero", knownURL, nil, nil, db.StatusCompleted))
	mock.ExpectExec(`UPDATE sources SET last_checked_at`).WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.PollSourcePayload{SourceID: 3}
	task := asynq.NewTask(tasks.TypePollSource, mustMarshal(t, payload))

	err := handler.HandlePollSourceTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Len(t, enqueuer.EnqueuedTasks, 1)
	assert.Equal(t, tasks.TypeProcessEpisode, enqueuer.EnqueuedTasks[0].Type())

	var enqueued tasks.ProcessEpisodePayload
	assert.NoError(t, json.Unmarshal(enqueuer.EnqueuedTasks[0].Payload(), &enqueued))
	assert.Equal(t, 42, enqueued.EpisodeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePollSourceTaskUnchangedFeedStillBumpsLastChecked(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	knownURL := "https://example.com/episodes/0"
	fetcher := &stubFetcher{entries: []feed.Entry{
		{ExternalID: "ep-000", Title: "Episode Zero", URL: knownURL},
	}}
	handler := NewTaskHandler(enqueuer, fetcher, &stubTranscriber{}, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM sources WHERE id = \$1`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(sourceColumns).
			AddRow(3, "https://example.com/feed.xml", "Some Podcast", "podcast", nil, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE unique_id = \$1`).WithArgs(identity.UniqueID(knownURL)).
		WillReturnRows(episodeRow(41, 3, identity.UniqueID(knownURL), "Episode Zero", knownURL, nil, nil, db.StatusCompleted))
	mock.ExpectExec(`UPDATE sources SET last_checked_at`).WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.PollSourcePayload{SourceID: 3}
	task := asynq.NewTask(tasks.TypePollSource, mustMarshal(t, payload))

	err := handler.HandlePollSourceTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Empty(t, enqueuer.EnqueuedTasks)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePollSourceTaskFetchFailureIsRetryable(t *testing.T) {
	_, mock := test.NewMockDB(t)
	fetcher := &stubFetcher{err: fmt.Errorf("connection refused")}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, fetcher, &stubTranscriber{}, &stubSummarizer{}, nil)

	mock.ExpectQuery(`SELECT \* FROM sources WHERE id = \$1`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(sourceColumns).
			AddRow(3, "https://example.com/feed.xml", "Some Podcast", "podcast", nil, time.Now()))

	payload := tasks.PollSourcePayload{SourceID: 3}
	task := asynq.NewTask(tasks.TypePollSource, mustMarshal(t, payload))

	err := handler.HandlePollSourceTask(context.Background(), task)

	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDispatchDigestsTask(t *testing.T) {
	_, mock := test.NewMockDB(t)
	enqueuer := &test.MockTaskEnqueuer{}
	handler := NewTaskHandler(enqueuer, nil, &stubTranscriber{}, &stubSummarizer{}, nil)

	originalNow := timeNow
	timeNow = func() time.Time { return time.Date(2026, 8, 30, 8, 30, 0, 0, time.UTC) }
	defer func() { timeNow = originalNow }()

	mock.ExpectQuery(`SELECT \* FROM users WHERE preferred_digest_time LIKE \$1`).WithArgs("08:%").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@example.com", nil, "08:00", "UTC", time.Now()).
			AddRow(2, nil, "555", "08:30", "UTC", time.Now()))

	task := asynq.NewTask(tasks.TypeDispatchDigests, nil)
	err := handler.HandleDispatchDigestsTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Len(t, enqueuer.EnqueuedTasks, 2)
	assert.Equal(t, tasks.TypeSendUserDigest, enqueuer.EnqueuedTasks[0].Type())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendUserDigestTaskEmptyQueue(t *testing.T) {
	_, mock := test.NewMockDB(t)
	deliverer := &stubDeliverer{name: "telegram", configured: true}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, &stubSummarizer{}, []Deliverer{deliverer})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM digest_queue WHERE user_id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(queueColumns))

	payload := tasks.SendUserDigestPayload{UserID: 1}
	task := asynq.NewTask(tasks.TypeSendUserDigest, mustMarshal(t, payload))

	err := handler.HandleSendUserDigestTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Empty(t, deliverer.messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendUserDigestTaskNothingCompletedLeavesQueue(t *testing.T) {
	_, mock := test.NewMockDB(t)
	deliverer := &stubDeliverer{name: "telegram", configured: true}
	summarizer := &stubSummarizer{}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, summarizer, []Deliverer{deliverer})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM digest_queue WHERE user_id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(queueColumns).AddRow(5, 1, 9, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "T", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusPending))

	payload := tasks.SendUserDigestPayload{UserID: 1}
	task := asynq.NewTask(tasks.TypeSendUserDigest, mustMarshal(t, payload))

	err := handler.HandleSendUserDigestTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Empty(t, deliverer.messages)
	assert.Equal(t, 0, summarizer.synthesizeCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendUserDigestTaskSingleItemVerbatim(t *testing.T) {
	_, mock := test.NewMockDB(t)
	deliverer := &stubDeliverer{name: "telegram", configured: true}
	summarizer := &stubSummarizer{}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, summarizer, []Deliverer{deliverer})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM digest_queue WHERE user_id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(queueColumns).AddRow(5, 1, 9, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "Episode Nine", "https://youtube.com/watch?v=abc12345678", nil, "summary nine", db.StatusCompleted))
	mock.ExpectExec(`DELETE FROM digest_queue WHERE id = ANY`).WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := tasks.SendUserDigestPayload{UserID: 1}
	task := asynq.NewTask(tasks.TypeSendUserDigest, mustMarshal(t, payload))

	err := handler.HandleSendUserDigestTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Equal(t, 0, summarizer.synthesizeCalls, "single item must not trigger synthesis")
	if assert.Len(t, deliverer.messages, 1) {
		assert.Equal(t, "# Episode Nine\n\nsummary nine", deliverer.messages[0])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendUserDigestTaskMultipleItemsSynthesized(t *testing.T) {
	_, mock := test.NewMockDB(t)
	telegram := &stubDeliverer{name: "telegram", configured: true, err: errors.New("telegram down")}
	email := &stubDeliverer{name: "email", configured: true}
	summarizer := &stubSummarizer{digest: "the combined digest"}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, summarizer, []Deliverer{telegram, email})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, "a@example.com", "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM digest_queue WHERE user_id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(queueColumns).
			AddRow(5, 1, 9, time.Now()).
			AddRow(6, 1, 10, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "Nine", "https://youtube.com/watch?v=abc12345678", nil, "s9", db.StatusCompleted))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(10).
		WillReturnRows(episodeRow(10, nil, "uid10", "Ten", "https://youtube.com/watch?v=xyz98765432", nil, "s10", db.StatusCompleted))
	mock.ExpectExec(`DELETE FROM digest_queue WHERE id = ANY`).WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	payload := tasks.SendUserDigestPayload{UserID: 1}
	task := asynq.NewTask(tasks.TypeSendUserDigest, mustMarshal(t, payload))

	err := handler.HandleSendUserDigestTask(context.Background(), task)

	// Telegram failed but email succeeded: the dispatch counts as delivered
	// and the queue is cleared.
	assert.NoError(t, err)
	assert.Equal(t, 1, summarizer.synthesizeCalls)
	assert.Len(t, summarizer.lastItems, 2)
	if assert.Len(t, email.messages, 1) {
		assert.Equal(t, "the combined digest", email.messages[0])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendUserDigestTaskAllChannelsFailKeepsQueue(t *testing.T) {
	_, mock := test.NewMockDB(t)
	telegram := &stubDeliverer{name: "telegram", configured: true, err: errors.New("telegram down")}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, &stubSummarizer{}, []Deliverer{telegram})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(1, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM digest_queue WHERE user_id = \$1`).WithArgs(1).
		WillReturnRows(sqlmock.NewRows(queueColumns).AddRow(5, 1, 9, time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "Nine", "https://youtube.com/watch?v=abc12345678", nil, "s9", db.StatusCompleted))

	payload := tasks.SendUserDigestPayload{UserID: 1}
	task := asynq.NewTask(tasks.TypeSendUserDigest, mustMarshal(t, payload))

	err := handler.HandleSendUserDigestTask(context.Background(), task)

	assert.Error(t, err, "total delivery failure must surface for retry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendImmediateDigestTask(t *testing.T) {
	_, mock := test.NewMockDB(t)
	deliverer := &stubDeliverer{name: "telegram", configured: true}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, &stubSummarizer{}, []Deliverer{deliverer})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(7, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "Nine", "https://youtube.com/watch?v=abc12345678", nil, "s9", db.StatusCompleted))

	payload := tasks.SendImmediateDigestPayload{UserID: 7, EpisodeID: 9}
	task := asynq.NewTask(tasks.TypeSendImmediateDigest, mustMarshal(t, payload))

	err := handler.HandleSendImmediateDigestTask(context.Background(), task)

	assert.NoError(t, err)
	if assert.Len(t, deliverer.messages, 1) {
		assert.Equal(t, "# Nine\n\ns9", deliverer.messages[0])
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendImmediateDigestTaskSkipsUnfinishedEpisode(t *testing.T) {
	_, mock := test.NewMockDB(t)
	deliverer := &stubDeliverer{name: "telegram", configured: true}
	handler := NewTaskHandler(&test.MockTaskEnqueuer{}, nil, &stubTranscriber{}, &stubSummarizer{}, []Deliverer{deliverer})

	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(7, nil, "555", "08:00", "UTC", time.Now()))
	mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).WithArgs(9).
		WillReturnRows(episodeRow(9, nil, "uid9", "Nine", "https://youtube.com/watch?v=abc12345678", nil, nil, db.StatusProcessing))

	payload := tasks.SendImmediateDigestPayload{UserID: 7, EpisodeID: 9}
	task := asynq.NewTask(tasks.TypeSendImmediateDigest, mustMarshal(t, payload))

	err := handler.HandleSendImmediateDigestTask(context.Background(), task)

	assert.NoError(t, err)
	assert.Empty(t, deliverer.messages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
