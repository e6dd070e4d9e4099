package database

import (
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNotFound is returned when a project or job does not exist
var ErrNotFound = errors.New("record not found")

// ProjectRecord is the persisted form of a project and its pages
type ProjectRecord struct {
	ID            ulid.ULID
	Session       string
	Dir           string
	Source        string
	State         string
	FailedStage   string
	OutputPath    string
	OutputProfile string
	OutputEncoder string
	OutputAt      *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Pages         []PageRecord
}

// PageRecord is one page of a persisted project
type PageRecord struct {
	Index    int
	Image    string
	Audio    string
	Title    string
	Duration time.Duration
}

// Repository defines database operations
type Repository interface {
	Close() error
	// Project persistence
	SaveProject(project *ProjectRecord) error
	GetProject(id ulid.ULID) (*ProjectRecord, error)
	GetAllProjects() ([]ProjectRecord, error)
	DeleteProject(id ulid.ULID) error
	// Job tracking methods
	CreateJob(jobType JobType, projectID ulid.ULID, message string) (*Job, error)
	UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(jobID ulid.ULID, errorMsg string) error
	CompleteJob(jobID ulid.ULID, result string) error
	GetJob(jobID ulid.ULID) (*Job, error)
	GetRecentJobs(limit, offset int) ([]Job, error)
	GetActiveJobs() ([]Job, error)
	GetProjectJobs(projectID ulid.ULID, limit int) ([]Job, error)
	FailInterruptedJobs() (int, error)
	DeleteOldJobs(olderThan time.Duration) (int, error)
}

// CalculateUUID generates a ULID for the given time
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
