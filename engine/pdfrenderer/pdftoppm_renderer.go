package pdfrenderer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drummonds/vidfrompdf/engine/process"
)

// PdftoppmRenderer shells out to poppler's pdftoppm once per document
type PdftoppmRenderer struct {
	runner  process.Runner
	path    string
	dpi     int
	timeout time.Duration
}

// NewPdftoppmRenderer creates a renderer around the pdftoppm binary at path
func NewPdftoppmRenderer(runner process.Runner, path string, dpi int, timeout time.Duration) *PdftoppmRenderer {
	return &PdftoppmRenderer{runner: runner, path: path, dpi: dpi, timeout: timeout}
}

// Name identifies the backend
func (r *PdftoppmRenderer) Name() string { return BackendPdftoppm }

// RenderPDF writes the document to a scratch directory, rasterizes every
// page to PNG in one invocation and decodes the results in page order.
func (r *PdftoppmRenderer) RenderPDF(ctx context.Context, pdf []byte) ([]image.Image, error) {
	scratch, err := os.MkdirTemp("", "vidfrompdf-pdftoppm-*")
	if err != nil {
		return nil, r.fail(StageOpen, -1, err)
	}
	defer os.RemoveAll(scratch)

	source := filepath.Join(scratch, "source.pdf")
	if err := os.WriteFile(source, pdf, 0o600); err != nil {
		return nil, r.fail(StageOpen, -1, err)
	}

	prefix := filepath.Join(scratch, "page")
	_, err = r.runner.Run(ctx, r.timeout, r.path,
		"-png",
		"-r", strconv.Itoa(r.dpi),
		source, prefix)
	if err != nil {
		return nil, r.fail(StageRender, -1, err)
	}

	files, err := collectPages(scratch, "page")
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, len(files))
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(StageDecode, i, err)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, r.fail(StageDecode, i, err)
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, r.fail(StageDecode, i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// Close is a no-op; every render cleans up its own scratch directory
func (r *PdftoppmRenderer) Close() error { return nil }

func (r *PdftoppmRenderer) fail(stage string, page int, err error) error {
	return &RasterizationError{Backend: BackendPdftoppm, Stage: stage, Page: page, Err: err}
}

// collectPages finds <prefix>-N.png files (pdftoppm zero-pads N to the width
// of the page count) and returns them ordered by N. Numbers must run
// contiguously from 1; a gap means a page went missing.
func collectPages(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &RasterizationError{Backend: BackendPdftoppm, Stage: StageCollect, Page: -1, Err: err}
	}

	byNumber := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || filepath.Ext(name) != ".png" {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".png")
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 {
			continue
		}
		byNumber[n] = filepath.Join(dir, name)
	}
	if len(byNumber) == 0 {
		return nil, &RasterizationError{Backend: BackendPdftoppm, Stage: StageCollect, Page: -1,
			Err: fmt.Errorf("pdftoppm produced no pages")}
	}

	numbers := make([]int, 0, len(byNumber))
	for n := range byNumber {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	files := make([]string, 0, len(numbers))
	for i, n := range numbers {
		if n != i+1 {
			return nil, &RasterizationError{Backend: BackendPdftoppm, Stage: StageCollect, Page: i,
				Err: fmt.Errorf("page %d missing from pdftoppm output", i+1)}
		}
		files = append(files, byNumber[n])
	}
	return files, nil
}
