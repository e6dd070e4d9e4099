package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// JobsPage displays and manages background jobs
type JobsPage struct {
	app.Compo
	jobs          []Job
	loading       bool
	error         string
	autoRefresh   bool
	typeFilter    string // job type to show, empty for all
	refreshTicker *time.Ticker
}

var jobFilters = []struct{ value, label string }{
	{"", "All"},
	{"extraction", "Extractions"},
	{"render", "Renders"},
	{"cleanup", "Housekeeping"},
}

// OnMount is called when the component is mounted
func (j *JobsPage) OnMount(ctx app.Context) {
	j.autoRefresh = true
	j.loadJobs(ctx)

	if !app.IsClient {
		return
	}
	// Start auto-refresh every 2 seconds
	ctx.Async(func() {
		j.refreshTicker = time.NewTicker(2 * time.Second)
		for range j.refreshTicker.C {
			if j.autoRefresh {
				j.loadJobs(ctx)
			}
		}
	})
}

// OnDismount is called when the component is unmounted
func (j *JobsPage) OnDismount() {
	if j.refreshTicker != nil {
		j.refreshTicker.Stop()
	}
}

// Render renders the jobs page
func (j *JobsPage) Render() app.UI {
	return app.Div().
		Class("jobs-page").
		Body(
			app.H2().Text("Background Jobs"),
			app.P().Text("Page extractions, renders and housekeeping runs, newest first."),

			app.Div().Class("jobs-controls").Body(
				app.Button().
					Class("btn-primary").
					OnClick(j.onRefreshClick).
					Disabled(j.loading).
					Body(app.Text("Refresh")),
				app.Select().Class("job-filter").OnChange(j.onFilterChange).Body(
					app.Range(jobFilters).Slice(func(i int) app.UI {
						f := jobFilters[i]
						return app.Option().Value(f.value).Selected(f.value == j.typeFilter).Text(f.label)
					}),
				),
				app.Label().Class("auto-refresh-label").Body(
					app.Input().
						Type("checkbox").
						Checked(j.autoRefresh).
						OnChange(j.onAutoRefreshChange),
					app.Text(" Auto-refresh"),
				),
			),

			j.renderStatus(),
		)
}

// renderStatus renders the jobs list or status messages
func (j *JobsPage) renderStatus() app.UI {
	if j.loading && len(j.jobs) == 0 {
		return app.Div().Class("loading").Body(
			app.Text("Loading jobs..."),
		)
	}

	if j.error != "" {
		return app.Div().Class("error").Body(
			app.Text("Error: " + j.error),
		)
	}

	if len(j.visibleJobs()) == 0 {
		return app.Div().Class("info").Body(
			app.P().Text("No jobs found. Jobs are recorded when a PDF is uploaded or a video is rendered, and only when job history is enabled."),
		)
	}

	return app.Div().Class("jobs-list").Body(
		j.renderJobsList()...,
	)
}

// visibleJobs applies the type filter
func (j *JobsPage) visibleJobs() []Job {
	if j.typeFilter == "" {
		return j.jobs
	}
	var out []Job
	for _, job := range j.jobs {
		if job.Type == j.typeFilter {
			out = append(out, job)
		}
	}
	return out
}

func (j *JobsPage) renderJobsList() []app.UI {
	jobs := j.visibleJobs()
	items := make([]app.UI, 0, len(jobs))
	for i := range jobs {
		items = append(items, j.renderJob(&jobs[i]))
	}
	return items
}

// renderJob renders a single job card
func (j *JobsPage) renderJob(job *Job) app.UI {
	statusClass := "job-card job-" + job.Status

	return app.Div().
		Class(statusClass).
		Body(
			app.Div().Class("job-header").Body(
				app.Div().Class("job-type").Body(
					app.Strong().Text(j.formatJobType(job.Type)),
					app.Span().Class("job-status-badge job-status-"+job.Status).
						Body(app.Text(job.Status)),
				),
				app.Div().Class("job-time").Body(
					app.Text(j.formatTime(job.CreatedAt)),
				),
			),

			app.If(job.Status == "running",
				func() app.UI {
					return app.Div().Class("job-progress").Body(
						app.Div().Class("progress-bar").Body(
							app.Div().
								Class("progress-fill").
								Style("width", fmt.Sprintf("%d%%", job.Progress)),
						),
						app.Div().Class("progress-text").Body(
							app.Text(fmt.Sprintf("%d%% - %s", job.Progress, job.CurrentStep)),
						),
					)
				},
			),

			app.If(job.Message != "",
				func() app.UI {
					return app.Div().Class("job-message").Body(
						app.Text(job.Message),
					)
				},
			),

			app.If(job.Error != "",
				func() app.UI {
					return app.Div().Class("job-error").Body(
						app.Strong().Text("Error: "),
						app.Text(job.Error),
					)
				},
			),

			app.If(job.Result != "",
				func() app.UI {
					return app.Div().Class("job-result").Body(
						app.Text(j.formatResult(job.Result)),
					)
				},
			),

			app.Div().Class("job-footer").Body(
				app.Div().Class("job-id").Body(
					app.Text("ID: " + job.ID),
					app.If(job.ProjectID != "", func() app.UI {
						return app.Span().Class("job-project").Text(" · project " + shortID(job.ProjectID))
					}),
				),
				app.If(job.CompletedAt != "",
					func() app.UI {
						return app.Div().Class("job-completed").Body(
							app.Text("Completed: " + j.formatTime(job.CompletedAt)),
						)
					},
				),
			),
		)
}

// formatJobType converts job type to readable format
func (j *JobsPage) formatJobType(jobType string) string {
	switch jobType {
	case "extraction":
		return "Page Extraction"
	case "render":
		return "Video Render"
	case "cleanup":
		return "Housekeeping"
	default:
		if jobType == "" {
			return "Job"
		}
		return strings.ToUpper(jobType[:1]) + jobType[1:]
	}
}

// formatTime formats ISO time string to readable format
func (j *JobsPage) formatTime(timeStr string) string {
	if timeStr == "" {
		return ""
	}

	// Try to parse ISO 8601 format
	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		// Try without nanoseconds
		t, err = time.Parse("2006-01-02T15:04:05Z", timeStr)
		if err != nil {
			return timeStr
		}
	}

	// Format as relative time if recent
	now := time.Now()
	diff := now.Sub(t)

	if diff < time.Minute {
		return "Just now"
	} else if diff < time.Hour {
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	} else if diff < 24*time.Hour {
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}

	return t.Format("Jan 2, 2006 at 3:04 PM")
}

// formatResult formats JSON result string
func (j *JobsPage) formatResult(result string) string {
	var data struct {
		Pages     *int     `json:"pages"`
		Backend   string   `json:"backend"`
		Output    string   `json:"output"`
		Profile   string   `json:"profile"`
		Encoder   string   `json:"encoder"`
		Fallbacks []string `json:"fallbacks"`
	}
	if err := json.Unmarshal([]byte(result), &data); err != nil {
		return result
	}

	var parts []string
	if data.Pages != nil {
		parts = append(parts, fmt.Sprintf("Pages: %d", *data.Pages))
	}
	if data.Backend != "" {
		parts = append(parts, "Rasterizer: "+data.Backend)
	}
	if data.Profile != "" {
		parts = append(parts, fmt.Sprintf("Encoded with %s (%s)", data.Profile, data.Encoder))
	}
	if len(data.Fallbacks) > 0 {
		parts = append(parts, "Fell back from: "+strings.Join(data.Fallbacks, ", "))
	}

	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}

	return result
}

// onRefreshClick handles the refresh button click
func (j *JobsPage) onRefreshClick(ctx app.Context, e app.Event) {
	j.loadJobs(ctx)
}

func (j *JobsPage) onFilterChange(ctx app.Context, e app.Event) {
	j.typeFilter = ctx.JSSrc().Get("value").String()
}

// shortID keeps the random tail of a ULID, enough to tell projects apart
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// onAutoRefreshChange handles auto-refresh checkbox change
func (j *JobsPage) onAutoRefreshChange(ctx app.Context, e app.Event) {
	j.autoRefresh = ctx.JSSrc().Get("checked").Bool()
	ctx.Update()
}

// loadJobs fetches jobs from the API
func (j *JobsPage) loadJobs(ctx app.Context) {
	j.loading = true
	j.error = ""

	fetchBytes(ctx, http.MethodGet, "/api/jobs?limit=50", "", nil, func(ctx app.Context, status int, data []byte, err error) {
		j.loading = false
		if err != nil {
			j.error = "Network error: Could not connect to server"
			return
		}
		if status < 200 || status >= 300 {
			j.error = DecodeAPIError(status, data).Describe()
			return
		}
		var jobs []Job
		if err := json.Unmarshal(data, &jobs); err != nil {
			j.error = "Failed to parse jobs: " + err.Error()
			return
		}
		j.jobs = jobs
	})
}
