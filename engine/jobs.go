package engine

import (
	"encoding/json"

	"github.com/drummonds/vidfrompdf/database"
	"github.com/oklog/ulid/v2"
)

// jobTracker mirrors one extraction or render into the persisted job
// history. Without a repository every call is a no-op; repository errors
// are logged and never fail the work being tracked.
type jobTracker struct {
	repo database.Repository
	id   ulid.ULID
}

func (e *Engine) track(jobType database.JobType, projectID ulid.ULID, message string) *jobTracker {
	if e.repo == nil {
		return &jobTracker{}
	}
	job, err := e.repo.CreateJob(jobType, projectID, message)
	if err != nil {
		Logger.Error("Failed to create job record", "type", jobType, "project", projectID, "error", err)
		return &jobTracker{}
	}
	return &jobTracker{repo: e.repo, id: job.ID}
}

func (t *jobTracker) running(message string) {
	if t.repo == nil {
		return
	}
	if err := t.repo.UpdateJobStatus(t.id, database.JobStatusRunning, message); err != nil {
		Logger.Error("Failed to update job status", "jobID", t.id, "error", err)
	}
}

func (t *jobTracker) progress(percent int, step string) {
	if t.repo == nil {
		return
	}
	if err := t.repo.UpdateJobProgress(t.id, percent, step); err != nil {
		Logger.Error("Failed to update job progress", "jobID", t.id, "error", err)
	}
}

func (t *jobTracker) fail(cause error) {
	if t.repo == nil {
		return
	}
	if err := t.repo.UpdateJobError(t.id, cause.Error()); err != nil {
		Logger.Error("Failed to record job error", "jobID", t.id, "error", err)
	}
}

func (t *jobTracker) cancelled(message string) {
	if t.repo == nil {
		return
	}
	if err := t.repo.UpdateJobStatus(t.id, database.JobStatusCancelled, message); err != nil {
		Logger.Error("Failed to update job status", "jobID", t.id, "error", err)
	}
}

func (t *jobTracker) complete(result string) {
	if t.repo == nil {
		return
	}
	if err := t.repo.CompleteJob(t.id, result); err != nil {
		Logger.Error("Failed to complete job", "jobID", t.id, "error", err)
	}
}

func renderResult(out *Output) string {
	data, err := json.Marshal(database.RenderResult{
		Output:    out.Path,
		Profile:   out.Profile,
		Encoder:   out.Encoder,
		Fallbacks: out.Fallbacks,
	})
	if err != nil {
		return "{}"
	}
	return string(data)
}
