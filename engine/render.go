package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/drummonds/vidfrompdf/engine/process"
	"github.com/oklog/ulid/v2"
)

// RenderExecutor turns a project snapshot into a video file
type RenderExecutor struct {
	Runner        process.Runner
	Tools         ffmpeg.Tools
	Width         int
	Height        int
	FrameRate     int
	Silence       time.Duration
	StepTimeout   time.Duration
	RenderTimeout time.Duration
}

// progressFunc receives a percentage and a human readable step
type progressFunc func(percent int, step string)

// Execute prepares one audio segment per page inside a scratch directory,
// then tries each codec profile in order until one encodes the video. The
// scratch directory is removed on every path. The finished file is moved
// into the project directory as video-<job>.mp4.
func (x *RenderExecutor) Execute(ctx context.Context, project *Project, profiles []ffmpeg.CodecProfile, jobID ulid.ULID, progress progressFunc) (*Output, error) {
	if len(profiles) == 0 {
		return nil, ErrCodecUnavailable
	}
	if progress == nil {
		progress = func(int, string) {}
	}

	scratch, err := os.MkdirTemp(project.Dir, "render-*")
	if err != nil {
		return nil, &WorkspaceError{Op: "create render directory", Err: err}
	}
	defer os.RemoveAll(scratch)

	segments, err := x.prepareSegments(ctx, project, scratch, progress)
	if err != nil {
		return nil, err
	}

	spec := ffmpeg.EncodeSpec{
		Audio:         filepath.Join(scratch, "narration.wav"),
		VideoManifest: filepath.Join(scratch, "slides.ffconcat"),
		Chapters:      filepath.Join(scratch, "chapters.txt"),
		Width:         x.Width,
		Height:        x.Height,
		FrameRate:     x.FrameRate,
	}
	audioManifest := filepath.Join(scratch, "narration.ffconcat")
	for path, content := range map[string]string{
		audioManifest:      ffmpeg.AudioManifest(segments),
		spec.VideoManifest: ffmpeg.VideoManifest(segments),
		spec.Chapters:      ffmpeg.Chapters(segments),
	} {
		if err := ffmpeg.WriteFile(path, content); err != nil {
			return nil, &WorkspaceError{Op: "write manifest", Err: err}
		}
	}

	progress(60, "Joining narration")
	if _, err := x.Runner.Run(ctx, x.StepTimeout, x.Tools.FFmpeg, ffmpeg.ConcatAudioArgs(audioManifest, spec.Audio)...); err != nil {
		return nil, fmt.Errorf("join narration: %w", err)
	}

	var attempts []RenderAttempt
	for i, profile := range profiles {
		progress(70+i*10, "Encoding with "+profile.Name)
		spec.Output = filepath.Join(scratch, "video-"+profile.Name+".mp4")

		start := time.Now()
		_, err := x.Runner.Run(ctx, x.RenderTimeout, x.Tools.FFmpeg, ffmpeg.EncodeArgs(profile, spec)...)
		if err == nil {
			final := fmt.Sprintf("video-%s.mp4", jobID)
			if err := os.Rename(spec.Output, project.Path(final)); err != nil {
				return nil, &WorkspaceError{Op: "move rendered video", Err: err}
			}
			Logger.Info("Render encoded", "project", project.ID, "profile", profile.Name,
				"encoder", profile.Encoder, "elapsed", time.Since(start))
			out := &Output{Path: final, Profile: profile.Name, Encoder: profile.Encoder, CreatedAt: time.Now()}
			for _, a := range attempts {
				out.Fallbacks = append(out.Fallbacks, a.Profile)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render stopped: %w", ctx.Err())
		}

		hint := ""
		var subErr *process.SubprocessError
		if errors.As(err, &subErr) {
			hint = ffmpeg.Classify(subErr.Result.Stderr)
		}
		Logger.Warn("Encoder failed, trying next profile", "project", project.ID, "profile", profile.Name,
			"hint", hint, "error", err)
		attempts = append(attempts, RenderAttempt{Profile: profile.Name, Hint: hint, Err: err})
	}
	return nil, &RenderError{Attempts: attempts}
}

// prepareSegments normalizes each page's clip, or synthesizes silence for
// pages without one, and measures the result so image timing matches the
// audio that is actually encoded.
func (x *RenderExecutor) prepareSegments(ctx context.Context, project *Project, scratch string, progress progressFunc) ([]ffmpeg.Segment, error) {
	segments := make([]ffmpeg.Segment, len(project.Pages))
	for i, page := range project.Pages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render stopped: %w", err)
		}
		out := filepath.Join(scratch, fmt.Sprintf("segment-%04d.wav", i+1))

		var args []string
		if page.Audio != "" {
			args = ffmpeg.NormalizeAudioArgs(project.Path(page.Audio), out)
		} else {
			args = ffmpeg.SilenceArgs(x.Silence, out)
		}
		if _, err := x.Runner.Run(ctx, x.StepTimeout, x.Tools.FFmpeg, args...); err != nil {
			return nil, fmt.Errorf("prepare audio for page %d: %w", i+1, err)
		}

		duration, err := ffmpeg.ProbeDuration(ctx, x.Runner, x.Tools.FFprobe, out, x.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("measure audio for page %d: %w", i+1, err)
		}

		segments[i] = ffmpeg.Segment{
			Image:    project.Path(page.Image),
			Audio:    out,
			Duration: duration,
			Title:    page.Title,
		}
		progress(10+50*(i+1)/len(project.Pages), fmt.Sprintf("Prepared page %d of %d", i+1, len(project.Pages)))
	}
	return segments, nil
}
