package engine

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drummonds/vidfrompdf/database"
	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/oklog/ulid/v2"
)

const audioDir = "audio"

var audioExtensions = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/wave":   ".wav",
	"audio/x-wav":  ".wav",
	"audio/ogg":    ".ogg",
	"audio/opus":   ".opus",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/aac":    ".aac",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"audio/webm":   ".webm",
}

// audioExtension picks a file extension from the upload's content type;
// ffprobe decides later whether the data is really audio.
func audioExtension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".audio"
	}
	if ext, ok := audioExtensions[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return ".audio"
}

// SetPageAudio attaches or replaces the narration of one page. The clip is
// stored and probed before the project is touched, so a bad upload leaves
// the project exactly as it was.
func (e *Engine) SetPageAudio(ctx context.Context, id ulid.ULID, index int, contentType string, body io.Reader) (*Project, error) {
	project, err := e.store.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(project.Pages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageNotFound, index, len(project.Pages))
	}
	if _, err := project.Status.Next(EventAttachAudio); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(project.Path(audioDir), 0o755); err != nil {
		return nil, &WorkspaceError{Op: "create audio directory", Err: err}
	}
	clipID, err := database.CalculateUUID(time.Now())
	if err != nil {
		return nil, err
	}
	rel := fmt.Sprintf("%s/page-%04d-%s%s", audioDir, index+1, strings.ToLower(clipID.String()), audioExtension(contentType))
	abs := project.Path(rel)

	n, err := writeUpload(abs, body)
	if err != nil {
		os.Remove(abs)
		return nil, err
	}
	if n == 0 {
		os.Remove(abs)
		return nil, &UploadError{Reason: "empty audio upload"}
	}

	duration, err := ffmpeg.ProbeDuration(ctx, e.runner, e.tools.FFprobe, abs, e.opts.ProbeTimeout)
	if err != nil {
		os.Remove(abs)
		return nil, &UploadError{Reason: "audio clip could not be read", Err: err}
	}

	var previous string
	updated, err := e.store.Apply(id, EventAttachAudio, func(p *Project) error {
		if index >= len(p.Pages) {
			return fmt.Errorf("%w: page %d of %d", ErrPageNotFound, index, len(p.Pages))
		}
		previous = p.Pages[index].Audio
		p.Pages[index].Audio = rel
		p.Pages[index].Duration = duration
		return nil
	})
	if err != nil {
		os.Remove(abs)
		return nil, err
	}
	if previous != rel {
		removeArtifact(updated.Dir, previous)
	}
	Logger.Info("Audio attached", "project", id, "page", index, "duration", duration)
	return updated, nil
}

func writeUpload(path string, body io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, &WorkspaceError{Op: "store upload", Err: err}
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, &UploadError{Reason: "could not read upload", Err: err}
	}
	return n, nil
}

// removeArtifact deletes a file that is no longer referenced by a project
func removeArtifact(dir, rel string) {
	if rel == "" {
		return
	}
	if err := os.Remove(filepath.Join(dir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		Logger.Warn("Could not remove stale artifact", "dir", dir, "path", rel, "error", err)
	}
}
