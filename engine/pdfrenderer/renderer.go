package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/drummonds/vidfrompdf/engine/process"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Backend names accepted by Select
const (
	BackendAuto     = "auto"
	BackendPdftoppm = "pdftoppm"
	BackendFitz     = "fitz"
	BackendPDFium   = "pdfium"
)

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// Name identifies the backend in logs and errors
	Name() string

	// RenderPDF converts all pages of a PDF document to images, in page order.
	// It either returns one image per page or a *RasterizationError.
	RenderPDF(ctx context.Context, pdf []byte) ([]image.Image, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Stages reported in RasterizationError
const (
	StageOpen      = "open"
	StageVector    = "vector"
	StageRasterize = "rasterize"
	StageRender    = "render"
	StageCollect   = "collect"
	StageDecode    = "decode"
	StageEncode    = "encode"
	StageCount     = "count"
)

// RasterizationError identifies which backend failed, at which stage and,
// when known, on which page (0-based; -1 for document level failures).
type RasterizationError struct {
	Backend string
	Stage   string
	Page    int
	Err     error
}

func (e *RasterizationError) Error() string {
	if e.Page < 0 {
		return fmt.Sprintf("%s rasterization failed at %s: %v", e.Backend, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s rasterization failed at %s on page %d: %v", e.Backend, e.Stage, e.Page+1, e.Err)
}

func (e *RasterizationError) Unwrap() error { return e.Err }

// Options configure backend selection
type Options struct {
	Backend      string
	PdftoppmPath string
	DPI          int
	Width        int
	Height       int
	Runner       process.Runner
	Timeout      time.Duration
}

// Select picks the rasterization backend once at startup. In auto mode the
// pdftoppm utility wins when installed; otherwise the MuPDF library is used,
// falling back to PDFium when MuPDF cannot open a probe document.
func Select(opts Options) (Renderer, error) {
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.Runner == nil {
		opts.Runner = process.NewExecRunner()
	}

	switch opts.Backend {
	case BackendPdftoppm:
		path, err := process.Require(BackendPdftoppm, opts.PdftoppmPath)
		if err != nil {
			return nil, err
		}
		return NewPdftoppmRenderer(opts.Runner, path, opts.DPI, opts.Timeout), nil
	case BackendFitz:
		return NewFitzRenderer(opts.Width, opts.Height)
	case BackendPDFium:
		return NewPDFiumRenderer(opts.DPI)
	case BackendAuto, "":
	default:
		return nil, fmt.Errorf("unknown raster backend %q", opts.Backend)
	}

	if path, err := process.Require(BackendPdftoppm, opts.PdftoppmPath); err == nil {
		Logger.Info("Rasterization backend selected", "backend", BackendPdftoppm, "path", path)
		return NewPdftoppmRenderer(opts.Runner, path, opts.DPI, opts.Timeout), nil
	}

	fitzRenderer, err := NewFitzRenderer(opts.Width, opts.Height)
	if err == nil {
		Logger.Info("Rasterization backend selected", "backend", BackendFitz)
		return fitzRenderer, nil
	}
	Logger.Warn("MuPDF unavailable, falling back to PDFium", "error", err)

	pdfiumRenderer, err := NewPDFiumRenderer(opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("no rasterization backend available: %w", err)
	}
	Logger.Info("Rasterization backend selected", "backend", BackendPDFium)
	return pdfiumRenderer, nil
}
