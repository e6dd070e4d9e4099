package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drummonds/vidfrompdf/config"
	"github.com/drummonds/vidfrompdf/database"
	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
	"github.com/drummonds/vidfrompdf/engine/process"
	"github.com/oklog/ulid/v2"
)

const sourceFile = "source.pdf"

// Options wire an Engine to its collaborators
type Options struct {
	ProjectPath string
	Renderer    pdfrenderer.Renderer
	Runner      process.Runner
	Tools       ffmpeg.Tools
	Negotiator  *ffmpeg.Negotiator
	Repo        database.Repository // optional

	Workers         int // concurrent renders
	ExtractWorkers  int // concurrent extractions, separate from renders
	Width           int
	Height          int
	FrameRate       int
	SilenceDuration time.Duration
	RenderTimeout   time.Duration
	ProbeTimeout    time.Duration
	ExtractTimeout  time.Duration
}

// Engine owns the projects and runs their extraction and render jobs
type Engine struct {
	opts       Options
	store      *Store
	sessions   *Sessions
	pool       *WorkerPool
	extractors *WorkerPool
	renderer   pdfrenderer.Renderer
	runner     process.Runner
	tools      ffmpeg.Tools
	negotiator *ffmpeg.Negotiator
	executor   *RenderExecutor
	repo       database.Repository

	ctx  context.Context
	stop context.CancelFunc
}

// New creates an engine from already constructed collaborators
func New(opts Options) (*Engine, error) {
	if opts.Renderer == nil || opts.Runner == nil || opts.Negotiator == nil {
		return nil, errors.New("engine needs a renderer, a runner and a negotiator")
	}
	if opts.ProjectPath == "" {
		return nil, errors.New("engine needs a project path")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 2
	}
	if opts.SilenceDuration <= 0 {
		opts.SilenceDuration = 3 * time.Second
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = 30 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.ExtractWorkers <= 0 {
		opts.ExtractWorkers = 4
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 10 * time.Minute
	}
	if err := os.MkdirAll(opts.ProjectPath, 0o755); err != nil {
		return nil, fmt.Errorf("create project path: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Engine{
		opts:       opts,
		store:      NewStore(opts.Repo),
		sessions:   NewSessions(),
		pool:       NewWorkerPool(opts.Workers),
		extractors: NewWorkerPool(opts.ExtractWorkers),
		renderer:   opts.Renderer,
		runner:     opts.Runner,
		tools:      opts.Tools,
		negotiator: opts.Negotiator,
		repo:       opts.Repo,
		executor: &RenderExecutor{
			Runner:        opts.Runner,
			Tools:         opts.Tools,
			Width:         opts.Width,
			Height:        opts.Height,
			FrameRate:     opts.FrameRate,
			Silence:       opts.SilenceDuration,
			StepTimeout:   opts.ProbeTimeout,
			RenderTimeout: opts.RenderTimeout,
		},
		ctx:  ctx,
		stop: stop,
	}, nil
}

// Setup builds the production engine from configuration: it discovers
// ffmpeg, selects the rasterization backend, negotiates codecs and
// restores persisted projects.
func Setup(ctx context.Context, cfg config.ServerConfig, repo database.Repository) (*Engine, error) {
	runner := process.NewExecRunner()

	tools, err := ffmpeg.Discover(ctx, runner, cfg.FfmpegPath, cfg.FfprobePath, cfg.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg is required: %w", err)
	}

	renderer, err := pdfrenderer.Select(pdfrenderer.Options{
		Backend:      cfg.RasterBackend,
		PdftoppmPath: cfg.PdftoppmPath,
		DPI:          cfg.RasterDPI,
		Width:        cfg.VideoWidth,
		Height:       cfg.VideoHeight,
		Runner:       runner,
		Timeout:      cfg.ExtractTimeout,
	})
	if err != nil {
		return nil, err
	}

	negotiator := ffmpeg.NewNegotiator(runner, tools.FFmpeg, ffmpeg.NegotiatorOptions{
		Timeout:     cfg.ProbeTimeout,
		Disabled:    cfg.DisabledEncoders,
		VaapiDevice: cfg.VaapiDevice,
	})
	negotiator.Negotiate(ctx)

	eng, err := New(Options{
		ProjectPath:     cfg.ProjectPath,
		Renderer:        renderer,
		Runner:          runner,
		Tools:           tools,
		Negotiator:      negotiator,
		Repo:            repo,
		Workers:         cfg.RenderWorkers,
		ExtractWorkers:  cfg.ExtractWorkers,
		Width:           cfg.VideoWidth,
		Height:          cfg.VideoHeight,
		FrameRate:       cfg.FrameRate,
		SilenceDuration: cfg.SilenceDuration,
		RenderTimeout:   cfg.RenderTimeout,
		ProbeTimeout:    cfg.ProbeTimeout,
		ExtractTimeout:  cfg.ExtractTimeout,
	})
	if err != nil {
		renderer.Close()
		return nil, err
	}

	if repo != nil {
		if n, err := repo.FailInterruptedJobs(); err != nil {
			Logger.Error("Failed to mark interrupted jobs", "error", err)
		} else if n > 0 {
			Logger.Warn("Marked jobs interrupted by restart as failed", "count", n)
		}
	}
	count, err := eng.store.Load()
	if err != nil {
		Logger.Error("Failed to restore projects, starting empty", "error", err)
	} else {
		Logger.Info("Projects restored", "count", count)
	}
	return eng, nil
}

// Close cancels running jobs, waits for the workers and releases the
// rasterization backend
func (e *Engine) Close() error {
	e.stop()
	e.pool.Wait()
	e.extractors.Wait()
	return e.renderer.Close()
}

// Store exposes the project store for read access
func (e *Engine) Store() *Store { return e.store }

// Backend names the rasterization backend in use
func (e *Engine) Backend() string { return e.renderer.Name() }

// CreateProject stores an uploaded PDF as a new project for session,
// replacing the session's previous project, and extracts its pages. The
// project exists even when extraction fails, in failed(extracting).
func (e *Engine) CreateProject(ctx context.Context, session string, pdf []byte) (*Project, error) {
	if _, err := validatePDF(pdf); err != nil {
		return nil, err
	}
	now := time.Now()
	id, err := database.CalculateUUID(now)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(e.opts.ProjectPath, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &WorkspaceError{Op: "create project directory", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, sourceFile), pdf, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, &WorkspaceError{Op: "store source document", Err: err}
	}

	previous, hasPrevious := e.sessions.Current(session)
	if !hasPrevious && session != "" {
		if p, err := e.store.LatestForSession(session); err == nil {
			previous, hasPrevious = p.ID, true
		}
	}

	project := &Project{
		ID:        id,
		Dir:       dir,
		Source:    sourceFile,
		Session:   session,
		Status:    statusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Insert(project); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	Logger.Info("Project created", "project", id, "bytes", len(pdf))

	if session != "" {
		e.sessions.Bind(session, id)
		if hasPrevious && previous != id {
			if err := e.DeleteProject(previous); err != nil {
				Logger.Warn("Could not replace previous project", "project", previous, "error", err)
			}
		}
	}
	return e.Extract(ctx, id)
}

// DeleteProject removes a project and its directory
func (e *Engine) DeleteProject(id ulid.ULID) error {
	project, err := e.store.Delete(id)
	if err != nil {
		return err
	}
	e.sessions.Forget(id)
	if err := os.RemoveAll(project.Dir); err != nil {
		Logger.Warn("Could not remove project directory", "project", id, "dir", project.Dir, "error", err)
	}
	Logger.Info("Project deleted", "project", id)
	return nil
}

// Project returns a snapshot of a project
func (e *Engine) Project(id ulid.ULID) (*Project, error) {
	return e.store.Snapshot(id)
}

// CurrentProject returns the project bound to session. After a restart the
// binding is rebuilt from the newest project the session created.
func (e *Engine) CurrentProject(session string) (*Project, error) {
	if id, ok := e.sessions.Current(session); ok {
		return e.store.Snapshot(id)
	}
	project, err := e.store.LatestForSession(session)
	if err != nil {
		return nil, err
	}
	e.sessions.Bind(session, project.ID)
	return project, nil
}

// OpenProject binds session to an existing project
func (e *Engine) OpenProject(session string, id ulid.ULID) (*Project, error) {
	project, err := e.store.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if session != "" {
		e.sessions.Bind(session, id)
	}
	return project, nil
}

// Profiles returns the negotiated codec profiles
func (e *Engine) Profiles() []ffmpeg.CodecProfile {
	return e.negotiator.Profiles()
}

// Renegotiate probes the encoders again. Renders already running keep the
// profiles they started with.
func (e *Engine) Renegotiate(ctx context.Context) []ffmpeg.CodecProfile {
	return e.negotiator.Negotiate(ctx)
}

// Render encodes the project's video. Only one render runs per project; a
// second request fails with ErrAlreadyRendering. The render itself runs on
// the render pool under its own context, so it completes and commits even
// when ctx ends first.
func (e *Engine) Render(ctx context.Context, id ulid.ULID) (*Project, error) {
	profiles := ffmpeg.Usable(e.negotiator.Profiles())
	if len(profiles) == 0 {
		return nil, ErrCodecUnavailable
	}

	jobID, err := database.CalculateUUID(time.Now())
	if err != nil {
		return nil, err
	}
	jobCtx, cancel := context.WithCancel(e.ctx)
	job, project, err := e.store.BeginRender(id, jobID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	Logger.Info("Render started", "project", id, "job", jobID, "pages", len(project.Pages), "profiles", len(profiles))

	tracker := e.track(database.JobTypeRender, id, "Rendering video")
	var (
		result *Project
		runErr error
	)
	done := e.pool.Go(jobCtx, func() {
		defer cancel()
		result, runErr = e.runRender(jobCtx, job, project, profiles, tracker)
	}, func(err error) {
		defer cancel()
		result, runErr = e.finishRender(job, project.Dir, nil, fmt.Errorf("render never started: %w", err), tracker)
	})

	select {
	case <-done:
		return result, runErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) runRender(ctx context.Context, job *RenderJob, project *Project, profiles []ffmpeg.CodecProfile, tracker *jobTracker) (result *Project, err error) {
	var output *Output
	defer func() {
		if r := recover(); r != nil {
			output, err = nil, fmt.Errorf("panic during render: %v", r)
		}
		result, err = e.finishRender(job, project.Dir, output, err, tracker)
	}()

	tracker.running("Preparing audio")
	output, err = e.executor.Execute(ctx, project, profiles, job.ID, tracker.progress)
	return nil, err
}

// finishRender commits the render outcome. Encoder and tool failures leave
// the project ready to retry; workspace failures mark it failed(rendering).
func (e *Engine) finishRender(job *RenderJob, dir string, output *Output, cause error, tracker *jobTracker) (*Project, error) {
	if cause == nil {
		var previous string
		project, err := e.store.FinishRender(job, EventRendered, func(p *Project) error {
			if p.Output != nil {
				previous = p.Output.Path
			}
			p.Output = output
			p.LastError = ""
			return nil
		})
		if err != nil {
			removeArtifact(dir, output.Path)
			tracker.fail(err)
			return nil, err
		}
		if previous != output.Path {
			removeArtifact(project.Dir, previous)
		}
		Logger.Info("Render finished", "project", job.ProjectID, "job", job.ID, "profile", output.Profile,
			"elapsed", time.Since(job.StartedAt))
		tracker.complete(renderResult(output))
		return project, nil
	}

	ev := EventRenderFailed
	var wsErr *WorkspaceError
	if errors.As(cause, &wsErr) {
		ev = EventRenderAborted
	}
	Logger.Error("Render failed", "project", job.ProjectID, "job", job.ID, "kind", Kind(cause), "error", cause)
	if Kind(cause) == KindCanceled {
		tracker.cancelled(cause.Error())
	} else {
		tracker.fail(cause)
	}
	if _, err := e.store.FinishRender(job, ev, func(p *Project) error {
		p.LastError = cause.Error()
		return nil
	}); err != nil {
		Logger.Error("Could not record render failure", "project", job.ProjectID, "error", err)
	}
	return nil, cause
}

// CancelRender stops the live render of a project
func (e *Engine) CancelRender(id ulid.ULID) error {
	if err := e.store.CancelRender(id); err != nil {
		return err
	}
	Logger.Info("Render cancellation requested", "project", id)
	return nil
}
