package main

import (
	"log"
	"os"

	"briefcast/pkg/tasks"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddr},
		&asynq.SchedulerOpts{},
	)

	pollTask, err := tasks.NewPollAllSourcesTask()
	if err != nil {
		log.Fatalf("could not create poll task: %v", err)
	}
	// Top of every hour: look for new episodes.
	if _, err := scheduler.Register("0 * * * *", pollTask); err != nil {
		log.Fatalf("could not register poll task: %v", err)
	}

	digestTask, err := tasks.NewDispatchDigestsTask()
	if err != nil {
		log.Fatalf("could not create digest task: %v", err)
	}
	// Five past, so the freshest poll results make the digest.
	if _, err := scheduler.Register("5 * * * *", digestTask); err != nil {
		log.Fatalf("could not register digest task: %v", err)
	}

	log.Printf("Scheduler starting (commit: %s)", CommitSHA)
	if err := scheduler.Run(); err != nil {
		log.Fatalf("could not run scheduler: %v", err)
	}
}
