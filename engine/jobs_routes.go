package engine

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/drummonds/vidfrompdf/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

const (
	defaultJobPage = 20
	maxJobPage     = 100
)

// jobPaging reads limit and offset, ignoring values out of range
func jobPaging(c echo.Context) (limit, offset int) {
	limit = defaultJobPage
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= maxJobPage {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

func parseULID(what, raw string) (ulid.ULID, error) {
	id, err := ulid.Parse(raw)
	if err != nil {
		return id, &UploadError{Reason: fmt.Sprintf("invalid %s id %q", what, raw), Err: err}
	}
	return id, nil
}

// jobList writes jobs, never null, or the error that stopped the query
func jobList(c echo.Context, jobs []database.Job, err error) error {
	if err != nil {
		return engineError(c, fmt.Errorf("query jobs: %w", err))
	}
	if jobs == nil {
		jobs = []database.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// GetJob retrieves a job by ID
// @Summary Get job by ID
// @Description Retrieve one extraction, render or cleanup job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} database.Job "Job details"
// @Failure 400 {object} map[string]interface{} "Invalid job ID"
// @Failure 404 {object} map[string]interface{} "Job not found or history disabled"
// @Router /api/jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobID, err := parseULID("job", c.Param("id"))
	if err != nil {
		return engineError(c, err)
	}
	if serverHandler.DB == nil {
		return engineError(c, fmt.Errorf("%w: job history is disabled", ErrJobNotFound))
	}

	job, err := serverHandler.DB.GetJob(jobID)
	if err != nil {
		Logger.Debug("Job lookup failed", "jobID", jobID, "error", err)
		return engineError(c, fmt.Errorf("%w: %s", ErrJobNotFound, jobID))
	}
	return c.JSON(http.StatusOK, job)
}

// GetRecentJobs lists jobs newest first, optionally for one project
// @Summary Get recent jobs
// @Tags Jobs
// @Produce json
// @Param limit query int false "Number of jobs to return (default: 20, max: 100)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Param project query string false "Only jobs of this project (ULID)"
// @Success 200 {array} database.Job "List of jobs"
// @Router /api/jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	limit, offset := jobPaging(c)

	var projectID *ulid.ULID
	if raw := c.QueryParam("project"); raw != "" {
		id, err := parseULID("project", raw)
		if err != nil {
			return engineError(c, err)
		}
		projectID = &id
	}

	if serverHandler.DB == nil {
		return jobList(c, nil, nil)
	}
	if projectID != nil {
		jobs, err := serverHandler.DB.GetProjectJobs(*projectID, limit)
		return jobList(c, jobs, err)
	}
	jobs, err := serverHandler.DB.GetRecentJobs(limit, offset)
	return jobList(c, jobs, err)
}

// GetActiveJobs lists pending and running jobs
// @Summary Get active jobs
// @Tags Jobs
// @Produce json
// @Success 200 {array} database.Job "List of active jobs"
// @Router /api/jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	if serverHandler.DB == nil {
		return jobList(c, nil, nil)
	}
	jobs, err := serverHandler.DB.GetActiveJobs()
	return jobList(c, jobs, err)
}
