package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/pawtalk-api/internal/database/migrations"
	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// setupTestDB creates an in-memory libsql database with all migrations applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Every pooled connection would otherwise get its own empty :memory: database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(setupTestDB(t))
}

// newTestJob builds a processing job owned by owner, created at createdAt.
func newTestJob(owner string, createdAt time.Time) *models.GenerationJob {
	return &models.GenerationJob{
		ID:              ulid.Make().String(),
		OperationHandle: "models/veo/operations/" + ulid.Make().String(),
		Status:          models.JobStatusProcessing,
		Prompt:          "hello from the dog",
		SourceImageRef:  "uploads/dog.png",
		OwnerIdentity:   owner,
		AspectRatio:     "16:9",
		DurationSeconds: 4,
		AdmissionMode:   string(models.ModeFree),
		CreatedAt:       createdAt.UTC().Truncate(time.Second),
	}
}

func statusPtr(s models.JobStatus) *models.JobStatus { return &s }
func strPtr(s string) *string                      { return &s }
func intPtr(i int) *int                            { return &i }
