package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drummonds/vidfrompdf/database"
	"github.com/oklog/ulid/v2"
)

// JobState is the lifecycle of one render
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// RenderJob is one in-flight render of a project
type RenderJob struct {
	ID        ulid.ULID
	ProjectID ulid.ULID
	Status    JobState
	StartedAt time.Time

	cancel context.CancelFunc
}

// slot owns one project; mu serializes every transition on it
type slot struct {
	mu      sync.Mutex
	project *Project
	job     *RenderJob
}

// Store is the only owner of project state. Callers receive copies and
// change projects through Apply, BeginRender and FinishRender, which commit
// a transition and its mutation together or not at all.
type Store struct {
	mu    sync.RWMutex
	slots map[ulid.ULID]*slot
	repo  database.Repository
}

// NewStore creates a store; repo may be nil for a purely in-memory store
func NewStore(repo database.Repository) *Store {
	return &Store{slots: make(map[ulid.ULID]*slot), repo: repo}
}

// Load restores persisted projects
func (s *Store) Load() (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	records, err := s.repo.GetAllProjects()
	if err != nil {
		return 0, fmt.Errorf("load projects: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		p := projectFromRecord(rec)
		s.slots[p.ID] = &slot{project: p}
		if p.Status.State != State(rec.State) {
			s.persist(p)
		}
	}
	return len(records), nil
}

// Insert adds a new project
func (s *Store) Insert(p *Project) error {
	if err := p.checkPages(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	c := p.clone()
	s.slots[p.ID] = &slot{project: c}
	s.persist(c)
	return nil
}

func (s *Store) slot(id ulid.ULID) (*slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return sl, nil
}

// Snapshot returns a copy of the committed project
func (s *Store) Snapshot(id ulid.ULID) (*Project, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.project == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return sl.project.clone(), nil
}

// List returns copies of every project, newest first
func (s *Store) List() []*Project {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	projects := make([]*Project, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.project != nil {
			projects = append(projects, sl.project.clone())
		}
		sl.mu.Unlock()
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].ID.Compare(projects[j].ID) > 0
	})
	return projects
}

// LatestForSession finds the newest project created by a session
func (s *Store) LatestForSession(session string) (*Project, error) {
	for _, p := range s.List() {
		if p.Session == session {
			return p, nil
		}
	}
	return nil, ErrProjectNotFound
}

// Apply validates ev against the project's status, runs mutate on a copy
// and commits the copy only when both succeed.
func (s *Store) Apply(id ulid.ULID, ev Event, mutate func(p *Project) error) (*Project, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.project == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return s.commit(sl, ev, mutate)
}

func (s *Store) commit(sl *slot, ev Event, mutate func(p *Project) error) (*Project, error) {
	next, err := sl.project.Status.Next(ev)
	if err != nil {
		return nil, err
	}
	c := sl.project.clone()
	c.Status = next
	if mutate != nil {
		if err := mutate(c); err != nil {
			return nil, err
		}
	}
	if err := c.checkPages(); err != nil {
		return nil, fmt.Errorf("refusing to commit %s: %w", ev, err)
	}
	c.UpdatedAt = time.Now()
	sl.project = c
	s.persist(c)
	return c.clone(), nil
}

// BeginRender claims the project's render slot. It fails with
// ErrAlreadyRendering while another job holds it and with ErrInvalidState
// when the project has no pages or is in the wrong state.
func (s *Store) BeginRender(id, jobID ulid.ULID, cancel context.CancelFunc) (*RenderJob, *Project, error) {
	sl, err := s.slot(id)
	if err != nil {
		return nil, nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.project == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if sl.job != nil {
		return nil, nil, ErrAlreadyRendering
	}
	if len(sl.project.Pages) == 0 {
		return nil, nil, fmt.Errorf("%w: project has no pages", ErrInvalidState)
	}
	p, err := s.commit(sl, EventRender, func(p *Project) error {
		p.LastError = ""
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	job := &RenderJob{ID: jobID, ProjectID: id, Status: JobRunning, StartedAt: time.Now(), cancel: cancel}
	sl.job = job
	return job, p, nil
}

// FinishRender commits the outcome of job and releases the render slot
func (s *Store) FinishRender(job *RenderJob, ev Event, mutate func(p *Project) error) (*Project, error) {
	sl, err := s.slot(job.ProjectID)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.project == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, job.ProjectID)
	}
	if sl.job != job {
		return nil, fmt.Errorf("render job %s no longer owns project %s", job.ID, job.ProjectID)
	}
	sl.job = nil
	if ev == EventRendered {
		job.Status = JobSucceeded
	} else {
		job.Status = JobFailed
	}
	p, err := s.commit(sl, ev, mutate)
	if err != nil && ev == EventRendered {
		// the slot is already released; leave the project retryable
		Logger.Error("Could not commit render result", "project", job.ProjectID, "error", err)
		p, _ = s.commit(sl, EventRenderAborted, func(p *Project) error {
			p.LastError = err.Error()
			return nil
		})
		return p, err
	}
	return p, err
}

// ActiveJob returns a copy of the project's live render job
func (s *Store) ActiveJob(id ulid.ULID) (RenderJob, bool) {
	sl, err := s.slot(id)
	if err != nil {
		return RenderJob{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.job == nil {
		return RenderJob{}, false
	}
	return *sl.job, true
}

// CancelRender asks the live render of a project to stop
func (s *Store) CancelRender(id ulid.ULID) error {
	sl, err := s.slot(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.job == nil {
		return fmt.Errorf("%w: no render in progress", ErrInvalidState)
	}
	sl.job.cancel()
	return nil
}

// Delete removes a project, cancelling its render if one is live
func (s *Store) Delete(id ulid.ULID) (*Project, error) {
	s.mu.Lock()
	sl, ok := s.slots[id]
	delete(s.slots, id)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.job != nil {
		sl.job.cancel()
	}
	p := sl.project
	sl.project = nil
	if s.repo != nil {
		if err := s.repo.DeleteProject(id); err != nil {
			Logger.Error("Failed to delete persisted project", "project", id, "error", err)
		}
	}
	return p, nil
}

// persist writes the project through to the repository. The in-memory copy
// stays authoritative, so failures are logged only.
func (s *Store) persist(p *Project) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveProject(p.record()); err != nil {
		Logger.Error("Failed to persist project", "project", p.ID, "state", p.Status.String(), "error", err)
	}
}
