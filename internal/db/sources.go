package db

import (
	"log"

	"briefcast/internal/models"
)

// CreateSource inserts a source, or returns the existing row when the URL is
// already registered.
func CreateSource(url, name, sourceType string) (models.Source, error) {
	source := models.Source{}
	err := DB.Get(&source, `
		INSERT INTO sources (url, name, source_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING *`,
		url, name, sourceType)
	if err != nil {
		log.Printf("Error creating source %s: %v", url, err)
		return source, err
	}
	return source, nil
}

func GetSource(id int) (models.Source, error) {
	source := models.Source{}
	err := DB.Get(&source, "SELECT * FROM sources WHERE id = $1", id)
	return source, err
}

func GetAllSources() ([]models.Source, error) {
	var sources []models.Source
	err := DB.Select(&sources, "SELECT * FROM sources ORDER BY id")
	return sources, err
}

// DeleteSource removes the source and its subscriptions. Episodes keep their
// source_id reference for history; they are never fanned out again because the
// subscriptions are gone.
func DeleteSource(id int) error {
	tx, err := DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM subscriptions WHERE source_id = $1", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sources WHERE id = $1", id); err != nil {
		return err
	}
	return tx.Commit()
}

func UpdateSourceLastChecked(id int) error {
	_, err := DB.Exec("UPDATE sources SET last_checked_at = NOW() WHERE id = $1", id)
	return err
}
