package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
	"github.com/drummonds/vidfrompdf/engine/process"
)

var (
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyRendering = fmt.Errorf("%w: render already in progress", ErrInvalidState)
	ErrProjectNotFound  = errors.New("project not found")
	ErrPageNotFound     = errors.New("page not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrCodecUnavailable = errors.New("no usable video encoder")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// UploadError reports input that could not be accepted at the boundary
type UploadError struct {
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RenderAttempt is one codec profile that failed to encode
type RenderAttempt struct {
	Profile string
	Hint    string // short reason recognised in ffmpeg's stderr, may be empty
	Err     error
}

// RenderError is returned once every usable codec profile has failed
type RenderError struct {
	Attempts []RenderAttempt
}

func (e *RenderError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Profile, a.Err))
	}
	return "all codec profiles failed: " + strings.Join(parts, "; ")
}

func (e *RenderError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// WorkspaceError is a filesystem failure inside a project directory
type WorkspaceError struct {
	Op  string
	Err error
}

func (e *WorkspaceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *WorkspaceError) Unwrap() error { return e.Err }

// Error kinds reported to clients
const (
	KindRasterization    = "RasterizationError"
	KindCodecUnavailable = "CodecUnavailable"
	KindSubprocess       = "SubprocessFailure"
	KindTimeout          = "TimeoutError"
	KindInvalidState     = "InvalidState"
	KindAlreadyRendering = "AlreadyRendering"
	KindUpload           = "UploadError"
	KindNotFound         = "NotFound"
	KindRender           = "RenderError"
	KindCanceled         = "Canceled"
	KindInternal         = "InternalError"
)

// Kind classifies an error returned by the engine
func Kind(err error) string {
	var (
		uploadErr  *UploadError
		rasterErr  *pdfrenderer.RasterizationError
		renderErr  *RenderError
		timeoutErr *process.TimeoutError
		subErr     *process.SubprocessError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyRendering):
		return KindAlreadyRendering
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrPageNotFound), errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupportedMedia), errors.As(err, &uploadErr):
		return KindUpload
	case errors.Is(err, ErrCodecUnavailable):
		return KindCodecUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &renderErr):
		return KindRender
	case errors.As(err, &rasterErr):
		return KindRasterization
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &subErr):
		return KindSubprocess
	}
	return KindInternal
}

// httpStatus maps an engine error onto a response code
func httpStatus(err error) int {
	if errors.Is(err, ErrUnsupportedMedia) {
		return http.StatusUnsupportedMediaType
	}
	switch Kind(err) {
	case KindUpload:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindAlreadyRendering:
		return http.StatusConflict
	case KindRasterization:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
