package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunProject represents the projects table for Bun ORM
type BunProject struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID            string     `bun:"id,pk"` // ULID as string
	Session       string     `bun:"session,notnull,default:''"`
	Dir           string     `bun:"dir,notnull"`
	Source        string     `bun:"source,notnull"`
	State         string     `bun:"state,notnull"`
	FailedStage   string     `bun:"failed_stage,notnull,default:''"`
	OutputPath    string     `bun:"output_path,notnull,default:''"`
	OutputProfile string     `bun:"output_profile,notnull,default:''"`
	OutputEncoder string     `bun:"output_encoder,notnull,default:''"`
	OutputAt      *time.Time `bun:"output_at,nullzero"`
	LastError     string     `bun:"last_error,notnull,default:''"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunPage represents the pages table for Bun ORM
type BunPage struct {
	bun.BaseModel `bun:"table:pages,alias:pg"`

	ProjectID  string `bun:"project_id,pk"`
	PageIndex  int    `bun:"page_index,pk"`
	Image      string `bun:"image,notnull"`
	Audio      string `bun:"audio,notnull"`
	Title      string `bun:"title,notnull"`
	DurationMs int64  `bun:"duration_ms,notnull"`
}

// ToProjectRecord converts BunProject and its pages to a ProjectRecord
func (bp *BunProject) ToProjectRecord(pages []BunPage) (*ProjectRecord, error) {
	parsedULID, err := ulid.Parse(bp.ID)
	if err != nil {
		return nil, err
	}

	record := &ProjectRecord{
		ID:            parsedULID,
		Session:       bp.Session,
		Dir:           bp.Dir,
		Source:        bp.Source,
		State:         bp.State,
		FailedStage:   bp.FailedStage,
		OutputPath:    bp.OutputPath,
		OutputProfile: bp.OutputProfile,
		OutputEncoder: bp.OutputEncoder,
		OutputAt:      bp.OutputAt,
		LastError:     bp.LastError,
		CreatedAt:     bp.CreatedAt,
		UpdatedAt:     bp.UpdatedAt,
		Pages:         make([]PageRecord, 0, len(pages)),
	}
	for _, page := range pages {
		record.Pages = append(record.Pages, PageRecord{
			Index:    page.PageIndex,
			Image:    page.Image,
			Audio:    page.Audio,
			Title:    page.Title,
			Duration: time.Duration(page.DurationMs) * time.Millisecond,
		})
	}
	return record, nil
}

// FromProjectRecord converts a ProjectRecord to its Bun rows
func FromProjectRecord(record *ProjectRecord) (*BunProject, []BunPage) {
	id := record.ID.String()
	project := &BunProject{
		ID:            id,
		Session:       record.Session,
		Dir:           record.Dir,
		Source:        record.Source,
		State:         record.State,
		FailedStage:   record.FailedStage,
		OutputPath:    record.OutputPath,
		OutputProfile: record.OutputProfile,
		OutputEncoder: record.OutputEncoder,
		OutputAt:      record.OutputAt,
		LastError:     record.LastError,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	pages := make([]BunPage, 0, len(record.Pages))
	for _, page := range record.Pages {
		pages = append(pages, BunPage{
			ProjectID:  id,
			PageIndex:  page.Index,
			Image:      page.Image,
			Audio:      page.Audio,
			Title:      page.Title,
			DurationMs: page.Duration.Milliseconds(),
		})
	}
	return project, pages
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	ProjectID   string     `bun:"project_id,notnull,default:''"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		ProjectID:   bj.ProjectID,
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		ProjectID:   job.ProjectID,
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// BunSchemaMigration records an applied migration version
type BunSchemaMigration struct {
	bun.BaseModel `bun:"table:bun_schema_migrations"`

	Version   string    `bun:"version,pk"`
	Name      string    `bun:"name,notnull,default:''"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}
