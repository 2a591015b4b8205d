package repository

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zapleads/zapleads/internal/db"
	"github.com/zapleads/zapleads/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range db.Migrations() {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// createTestCampaign inserts a draft campaign with sane defaults
func createTestCampaign(t *testing.T, repo *CampaignRepository) *models.Campaign {
	t.Helper()

	c := &models.Campaign{
		Name:            "Test Campaign",
		Instance:        "main",
		MessageTemplate: "Hello {{name}}",
		MinIntervalMin:  1,
		MaxIntervalMin:  3,
	}
	if err := repo.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}
