package database

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/drummonds/vidfrompdf/config"
	"github.com/oklog/ulid/v2"
)

func TestBunSQLiteDatabase(t *testing.T) {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	db, err := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open sqlite repository: %v", err)
	}
	defer db.Close()

	t.Log("Bun SQLite database setup successfully")
	exerciseRepository(t, db)
}

func TestUnknownDatabaseType(t *testing.T) {
	if _, err := NewRepository(config.ServerConfig{DatabaseType: "storm"}); err == nil {
		t.Fatal("Expected an error for an unknown database type")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, err := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open sqlite repository: %v", err)
	}
	defer db.Close()

	if err := runMigrations(t.Context(), db.db); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}

// exerciseRepository runs the same checks against every backend
func exerciseRepository(t *testing.T, db Repository) {
	t.Helper()

	projectID := ulid.Make()

	t.Run("Save and retrieve project", func(t *testing.T) {
		record := &ProjectRecord{
			ID:        projectID,
			Session:   "session-a",
			Dir:       "/tmp/projects/" + projectID.String(),
			Source:    "source.pdf",
			State:     "ready",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
			Pages: []PageRecord{
				{Index: 0, Image: "pages/page-0000.png", Title: "Welcome", Duration: 3 * time.Second},
				{Index: 1, Image: "pages/page-0001.png", Audio: "audio/page-0001.wav", Duration: 4500 * time.Millisecond},
			},
		}
		if err := db.SaveProject(record); err != nil {
			t.Fatalf("Failed to save project: %v", err)
		}

		got, err := db.GetProject(projectID)
		if err != nil {
			t.Fatalf("Failed to get project: %v", err)
		}
		if got.Session != "session-a" || got.State != "ready" {
			t.Errorf("Unexpected project fields: %+v", got)
		}
		if len(got.Pages) != 2 {
			t.Fatalf("Expected 2 pages, got %d", len(got.Pages))
		}
		if got.Pages[1].Audio != "audio/page-0001.wav" || got.Pages[1].Duration != 4500*time.Millisecond {
			t.Errorf("Unexpected second page: %+v", got.Pages[1])
		}
		if got.Pages[0].Title != "Welcome" {
			t.Errorf("Expected page title to survive, got %q", got.Pages[0].Title)
		}
	})

	t.Run("Update replaces pages and output", func(t *testing.T) {
		now := time.Now()
		record := &ProjectRecord{
			ID:            projectID,
			Session:       "session-a",
			Dir:           "/tmp/projects/" + projectID.String(),
			Source:        "source.pdf",
			State:         "rendered",
			OutputPath:    "video-1.mp4",
			OutputProfile: "software",
			OutputEncoder: "libx264",
			OutputAt:      &now,
			UpdatedAt:     now,
			Pages: []PageRecord{
				{Index: 0, Image: "pages/page-0000.png", Duration: 3 * time.Second},
			},
		}
		if err := db.SaveProject(record); err != nil {
			t.Fatalf("Failed to update project: %v", err)
		}

		got, err := db.GetProject(projectID)
		if err != nil {
			t.Fatalf("Failed to get project: %v", err)
		}
		if got.State != "rendered" || got.OutputProfile != "software" || got.OutputAt == nil {
			t.Errorf("Output not persisted: %+v", got)
		}
		if len(got.Pages) != 1 {
			t.Errorf("Expected pages to be replaced, got %d", len(got.Pages))
		}

		all, err := db.GetAllProjects()
		if err != nil {
			t.Fatalf("Failed to list projects: %v", err)
		}
		found := false
		for _, p := range all {
			if p.ID == projectID {
				found = true
				if len(p.Pages) != 1 {
					t.Errorf("Expected 1 page in listing, got %d", len(p.Pages))
				}
			}
		}
		if !found {
			t.Error("Saved project missing from GetAllProjects")
		}
	})

	t.Run("Job lifecycle", func(t *testing.T) {
		job, err := db.CreateJob(JobTypeRender, projectID, "Rendering")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		if job.Status != JobStatusPending {
			t.Errorf("Expected pending job, got %s", job.Status)
		}

		if err := db.UpdateJobStatus(job.ID, JobStatusRunning, "Encoding"); err != nil {
			t.Fatalf("Failed to update status: %v", err)
		}
		if err := db.UpdateJobProgress(job.ID, 50, "software (2/2)"); err != nil {
			t.Fatalf("Failed to update progress: %v", err)
		}

		active, err := db.GetActiveJobs()
		if err != nil {
			t.Fatalf("Failed to get active jobs: %v", err)
		}
		if !containsJob(active, job.ID) {
			t.Error("Running job missing from active jobs")
		}

		if err := db.CompleteJob(job.ID, `{"output":"video-1.mp4"}`); err != nil {
			t.Fatalf("Failed to complete job: %v", err)
		}
		got, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if got.Status != JobStatusCompleted || got.Progress != 100 || got.StartedAt == nil || got.CompletedAt == nil {
			t.Errorf("Unexpected completed job: %+v", got)
		}
		if got.ProjectID != projectID.String() {
			t.Errorf("Expected project id %s, got %s", projectID, got.ProjectID)
		}

		projectJobs, err := db.GetProjectJobs(projectID, 10)
		if err != nil {
			t.Fatalf("Failed to get project jobs: %v", err)
		}
		if !containsJob(projectJobs, job.ID) {
			t.Error("Job missing from project jobs")
		}
	})

	t.Run("Interrupted jobs are failed", func(t *testing.T) {
		job, err := db.CreateJob(JobTypeExtraction, projectID, "Extracting")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		count, err := db.FailInterruptedJobs()
		if err != nil {
			t.Fatalf("FailInterruptedJobs: %v", err)
		}
		if count < 1 {
			t.Errorf("Expected at least one interrupted job, got %d", count)
		}
		got, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if got.Status != JobStatusFailed {
			t.Errorf("Expected failed status, got %s", got.Status)
		}
	})

	t.Run("Old jobs are pruned", func(t *testing.T) {
		deleted, err := db.DeleteOldJobs(-time.Minute)
		if err != nil {
			t.Fatalf("DeleteOldJobs: %v", err)
		}
		if deleted < 2 {
			t.Errorf("Expected finished jobs to be pruned, deleted %d", deleted)
		}
		recent, err := db.GetRecentJobs(20, 0)
		if err != nil {
			t.Fatalf("GetRecentJobs: %v", err)
		}
		for _, job := range recent {
			if job.ProjectID == projectID.String() && job.Finished() {
				t.Errorf("Finished job %s survived pruning", job.ID)
			}
		}
	})

	t.Run("Missing records", func(t *testing.T) {
		if _, err := db.GetProject(ulid.Make()); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing project, got %v", err)
		}
		if _, err := db.GetJob(ulid.Make()); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing job, got %v", err)
		}
	})

	t.Run("Delete project", func(t *testing.T) {
		if err := db.DeleteProject(projectID); err != nil {
			t.Fatalf("Failed to delete project: %v", err)
		}
		if _, err := db.GetProject(projectID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected project to be gone, got %v", err)
		}
	})
}

func containsJob(jobs []Job, id ulid.ULID) bool {
	for _, job := range jobs {
		if job.ID == id {
			return true
		}
	}
	return false
}
