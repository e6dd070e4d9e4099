package webapp

import (
	"strings"
	"testing"
	"time"
)

func TestFormatJobType(t *testing.T) {
	j := &JobsPage{}
	tests := map[string]string{
		"extraction": "Page Extraction",
		"render":     "Video Render",
		"cleanup":    "Housekeeping",
		"":           "Job",
		"custom":     "Custom",
	}
	for in, want := range tests {
		if got := j.formatJobType(in); got != want {
			t.Errorf("formatJobType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	j := &JobsPage{}

	if got := j.formatTime(""); got != "" {
		t.Errorf("formatTime(\"\") = %q", got)
	}
	if got := j.formatTime("not a time"); got != "not a time" {
		t.Errorf("Unparseable time should pass through, got %q", got)
	}
	if got := j.formatTime(time.Now().Format(time.RFC3339)); got != "Just now" {
		t.Errorf("formatTime(now) = %q, want Just now", got)
	}
	if got := j.formatTime(time.Now().Add(-5 * time.Minute).Format(time.RFC3339)); got != "5 minutes ago" {
		t.Errorf("formatTime(-5m) = %q", got)
	}
	if got := j.formatTime("2024-03-01T10:00:00Z"); !strings.HasPrefix(got, "Mar 1, 2024") {
		t.Errorf("formatTime(old) = %q", got)
	}
}

func TestFormatResult(t *testing.T) {
	j := &JobsPage{}
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{
			name:   "Extraction",
			result: `{"pages":4,"backend":"pdftoppm"}`,
			want:   "Pages: 4, Rasterizer: pdftoppm",
		},
		{
			name:   "Render with fallback",
			result: `{"output":"/project/x/output/a.mp4","profile":"software","encoder":"libx264","fallbacks":["nvenc","vaapi"]}`,
			want:   "Encoded with software (libx264), Fell back from: nvenc, vaapi",
		},
		{
			name:   "Zero pages",
			result: `{"pages":0}`,
			want:   "Pages: 0",
		},
		{
			name:   "Plain text",
			result: "removed 3 directories",
			want:   "removed 3 directories",
		},
		{
			name:   "Unknown fields",
			result: `{"removed":3}`,
			want:   `{"removed":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := j.formatResult(tt.result); got != tt.want {
				t.Errorf("formatResult() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobsPageRenders(t *testing.T) {
	page := &JobsPage{}
	if ui := page.Render(); ui == nil {
		t.Fatal("Render should return a valid UI component")
	}
}

func TestVisibleJobs(t *testing.T) {
	j := &JobsPage{jobs: []Job{
		{ID: "1", Type: "extraction"},
		{ID: "2", Type: "render"},
		{ID: "3", Type: "render"},
	}}
	if got := len(j.visibleJobs()); got != 3 {
		t.Errorf("Expected all jobs without a filter, got %d", got)
	}
	j.typeFilter = "render"
	got := j.visibleJobs()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Errorf("Unexpected render jobs: %+v", got)
	}
	j.typeFilter = "cleanup"
	if len(j.visibleJobs()) != 0 || len(j.renderJobsList()) != 0 {
		t.Error("Expected no cleanup jobs")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("01JABCDEFGHJKMNPQRSTVWXYZ0"); got != "STVWXYZ0" {
		t.Errorf("shortID() = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID(short) = %q", got)
	}
}
