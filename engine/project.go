package engine

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/drummonds/vidfrompdf/database"
	"github.com/oklog/ulid/v2"
)

// Page is one slide of a project. Image and Audio are relative to the
// project directory; an empty Audio renders as silence.
type Page struct {
	Index    int
	Image    string
	Audio    string
	Title    string
	Duration time.Duration
}

// Output is the last successfully rendered video
type Output struct {
	Path      string
	Profile   string
	Encoder   string
	CreatedAt time.Time
	// Fallbacks lists profiles that failed before Profile succeeded. Not persisted.
	Fallbacks []string
}

// Project is one PDF to video conversion. Values handed out by the Store
// are private copies; changes only take effect through Store.Apply.
type Project struct {
	ID        ulid.ULID
	Dir       string
	Source    string
	Session   string
	Pages     []Page
	Status    Status
	Output    *Output
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Project) clone() *Project {
	c := *p
	c.Pages = append([]Page(nil), p.Pages...)
	if p.Output != nil {
		out := *p.Output
		out.Fallbacks = append([]string(nil), p.Output.Fallbacks...)
		c.Output = &out
	}
	return &c
}

// Path resolves a project relative path inside the project directory
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Dir, filepath.FromSlash(rel))
}

// checkPages enforces contiguous 0-based page indices
func (p *Project) checkPages() error {
	for i, page := range p.Pages {
		if page.Index != i {
			return fmt.Errorf("page %d carries index %d", i, page.Index)
		}
		if page.Image == "" {
			return fmt.Errorf("page %d has no image", i)
		}
	}
	return nil
}

// PageView is a page as the front end sees it
type PageView struct {
	ImgURL   string  `json:"img_url"`
	AudioURL *string `json:"audio_url"`
}

// ProjectView is the JSON document returned by every /project route
type ProjectView struct {
	Identifier string     `json:"identifier"`
	Pages      []PageView `json:"pages"`
	Output     *string    `json:"output"`
}

// AssetURL is the route that serves a project file
func AssetURL(id ulid.ULID, rel string) string {
	return path.Join("/project/asset", id.String(), filepath.ToSlash(rel))
}

// View builds the JSON view of the project
func (p *Project) View() ProjectView {
	view := ProjectView{
		Identifier: p.ID.String(),
		Pages:      make([]PageView, 0, len(p.Pages)),
	}
	for _, page := range p.Pages {
		pv := PageView{ImgURL: AssetURL(p.ID, page.Image)}
		if page.Audio != "" {
			audio := AssetURL(p.ID, page.Audio)
			pv.AudioURL = &audio
		}
		view.Pages = append(view.Pages, pv)
	}
	if p.Output != nil {
		out := AssetURL(p.ID, p.Output.Path)
		view.Output = &out
	}
	return view
}

func (p *Project) record() *database.ProjectRecord {
	rec := &database.ProjectRecord{
		ID:          p.ID,
		Session:     p.Session,
		Dir:         p.Dir,
		Source:      p.Source,
		State:       string(p.Status.State),
		FailedStage: string(p.Status.Stage),
		LastError:   p.LastError,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Pages:       make([]database.PageRecord, 0, len(p.Pages)),
	}
	if p.Output != nil {
		at := p.Output.CreatedAt
		rec.OutputPath = p.Output.Path
		rec.OutputProfile = p.Output.Profile
		rec.OutputEncoder = p.Output.Encoder
		rec.OutputAt = &at
	}
	for _, page := range p.Pages {
		rec.Pages = append(rec.Pages, database.PageRecord{
			Index:    page.Index,
			Image:    page.Image,
			Audio:    page.Audio,
			Title:    page.Title,
			Duration: page.Duration,
		})
	}
	return rec
}

// projectFromRecord rebuilds a project after a restart. Work that was in
// flight when the process stopped is gone, so transient states are settled
// the same way a failure would settle them.
func projectFromRecord(rec database.ProjectRecord) *Project {
	p := &Project{
		ID:        rec.ID,
		Dir:       rec.Dir,
		Source:    rec.Source,
		Session:   rec.Session,
		Status:    Status{State: State(rec.State), Stage: Stage(rec.FailedStage)},
		LastError: rec.LastError,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Pages:     make([]Page, 0, len(rec.Pages)),
	}
	for _, page := range rec.Pages {
		p.Pages = append(p.Pages, Page{
			Index:    page.Index,
			Image:    page.Image,
			Audio:    page.Audio,
			Title:    page.Title,
			Duration: page.Duration,
		})
	}
	if rec.OutputPath != "" {
		p.Output = &Output{Path: rec.OutputPath, Profile: rec.OutputProfile, Encoder: rec.OutputEncoder}
		if rec.OutputAt != nil {
			p.Output.CreatedAt = *rec.OutputAt
		}
	}

	switch p.Status.State {
	case StateExtracting:
		p.Status = Status{State: StateFailed, Stage: StageExtracting}
		p.LastError = "interrupted by restart"
	case StateRendering:
		p.Status = Status{State: StateReady}
		p.LastError = "interrupted by restart"
	}
	return p
}
