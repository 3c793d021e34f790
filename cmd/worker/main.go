package main

import (
	"log"
	"os"
	"time"

	"briefcast/internal/db"
	"briefcast/internal/delivery"
	"briefcast/internal/feed"
	"briefcast/internal/summarize"
	"briefcast/internal/transcript"
	"briefcast/internal/worker"
	"briefcast/pkg/tasks"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/resend/resend-go/v2"
	openai "github.com/sashabaranov/go-openai"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	db.InitDB()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()

	openaiClient := openai.NewClient(os.Getenv("OPENAI_API_KEY"))

	var deliverers []worker.Deliverer
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			log.Fatalf("could not create telegram bot: %v", err)
		}
		deliverers = append(deliverers, delivery.NewTelegramDeliverer(bot))
	}
	if apiKey := os.Getenv("RESEND_API_KEY"); apiKey != "" {
		from := os.Getenv("FROM_EMAIL")
		if from == "" {
			from = "digest@briefcast.local"
		}
		deliverers = append(deliverers, delivery.NewEmailDeliverer(resend.NewClient(apiKey), from))
	}
	if len(deliverers) == 0 {
		log.Println("Warning: no delivery channels configured, digests will fail")
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"high":    2,
				"default": 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				var delay time.Duration
				switch task.Type() {
				case tasks.TypeProcessEpisode:
					// 1min, 2min, 4min between transcription attempts.
					delay = time.Minute
					for i := 0; i < n; i++ {
						delay *= 2
					}
				default:
					delay = 5 * time.Minute
				}
				log.Printf("Task %s failed %d times, retrying in %v", task.Type(), n+1, delay)
				return delay
			},
		},
	)

	taskHandler := worker.NewTaskHandler(
		client,
		feed.NewRSSFetcher(),
		transcript.NewService(openaiClient),
		summarize.NewOpenAISummarizer(openaiClient, os.Getenv("OPENAI_MODEL")),
		deliverers,
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProcessEpisode, taskHandler.HandleProcessEpisodeTask)
	mux.HandleFunc(tasks.TypePollSource, taskHandler.HandlePollSourceTask)
	mux.HandleFunc(tasks.TypePollAllSources, taskHandler.HandlePollAllSourcesTask)
	mux.HandleFunc(tasks.TypeDispatchDigests, taskHandler.HandleDispatchDigestsTask)
	mux.HandleFunc(tasks.TypeSendUserDigest, taskHandler.HandleSendUserDigestTask)
	mux.HandleFunc(tasks.TypeSendImmediateDigest, taskHandler.HandleSendImmediateDigestTask)

	log.Printf("Worker starting (commit: %s)", CommitSHA)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
