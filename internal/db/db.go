package db

import (
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // The database driver
)

// DB is the shared registry connection. Tests swap it for a sqlmock-backed
// handle via test.NewMockDB.
var DB *sqlx.DB

// InitDB connects to the registry database named by DATABASE_URL.
func InitDB() {
	var err error
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	DB, err = sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to registry database: %v", err)
	}

	// The worker holds connections across long transcription jobs; keep the
	// pool small so idle handles don't pile up.
	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(30 * time.Minute)

	if err = DB.Ping(); err != nil {
		log.Fatalf("Failed to ping registry database: %v", err)
	}

	log.Println("Registry database connection established")
}
