package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/drummonds/vidfrompdf/database"
	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
	"github.com/ledongthuc/pdf"
	"github.com/oklog/ulid/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

const pagesDir = "pages"

func init() {
	// pdfcpu would otherwise install a config directory under $HOME
	api.DisableConfigDir()
}

// validatePDF checks the upload parses as a PDF and returns its page count
func validatePDF(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, &UploadError{Reason: "empty upload"}
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, &UploadError{Reason: "not a readable PDF", Err: err}
	}
	if count == 0 {
		return 0, &UploadError{Reason: "PDF has no pages"}
	}
	return count, nil
}

// Extract (re)runs page extraction for a project on the extraction pool and
// waits for it unless ctx ends first; the result is committed either way.
func (e *Engine) Extract(ctx context.Context, id ulid.ULID) (*Project, error) {
	project, err := e.store.Apply(id, EventExtract, func(p *Project) error {
		p.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	tracker := e.track(database.JobTypeExtraction, id, "Extracting pages")
	var (
		result *Project
		runErr error
	)
	done := e.extractors.Go(e.ctx, func() {
		result, runErr = e.runExtraction(project, tracker)
	}, func(err error) {
		result, runErr = e.failExtraction(id, tracker, err)
	})

	select {
	case <-done:
		return result, runErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) runExtraction(project *Project, tracker *jobTracker) (result *Project, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = e.failExtraction(project.ID, tracker, fmt.Errorf("panic during extraction: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(e.ctx, e.opts.ExtractTimeout)
	defer cancel()

	tracker.running("Rasterizing pages")
	pages, err := e.extractPages(ctx, project, tracker)
	if err != nil {
		return e.failExtraction(project.ID, tracker, err)
	}

	committed, err := e.store.Apply(project.ID, EventExtracted, func(p *Project) error {
		// same source document, so narration survives a re-extraction
		for i := range pages {
			if i < len(p.Pages) && p.Pages[i].Audio != "" {
				pages[i].Audio = p.Pages[i].Audio
				pages[i].Duration = p.Pages[i].Duration
			}
		}
		p.Pages = pages
		return nil
	})
	if err != nil {
		tracker.fail(err)
		return nil, err
	}
	Logger.Info("Extraction finished", "project", project.ID, "pages", len(pages), "backend", e.renderer.Name())
	tracker.complete(fmt.Sprintf(`{"pages": %d, "backend": %q}`, len(pages), e.renderer.Name()))
	return committed, nil
}

func (e *Engine) failExtraction(id ulid.ULID, tracker *jobTracker, cause error) (*Project, error) {
	Logger.Error("Extraction failed", "project", id, "kind", Kind(cause), "error", cause)
	tracker.fail(cause)
	if _, err := e.store.Apply(id, EventExtractFailed, func(p *Project) error {
		p.LastError = cause.Error()
		return nil
	}); err != nil {
		Logger.Error("Could not record extraction failure", "project", id, "error", err)
	}
	return nil, cause
}

// extractPages rasterizes the source document into pages/ of the project
// directory. Pages are staged first and swapped in only when every page
// has been written.
func (e *Engine) extractPages(ctx context.Context, project *Project, tracker *jobTracker) ([]Page, error) {
	data, err := os.ReadFile(project.Path(project.Source))
	if err != nil {
		return nil, &WorkspaceError{Op: "read source document", Err: err}
	}
	count, err := validatePDF(data)
	if err != nil {
		return nil, err
	}

	images, err := e.renderer.RenderPDF(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(images) != count {
		return nil, &pdfrenderer.RasterizationError{Backend: e.renderer.Name(), Stage: pdfrenderer.StageCount, Page: -1,
			Err: fmt.Errorf("document has %d pages but %d were rendered", count, len(images))}
	}
	tracker.progress(50, "Writing page images")

	titles := pageTitles(data, count)

	staging, err := os.MkdirTemp(project.Dir, "extract-*")
	if err != nil {
		return nil, &WorkspaceError{Op: "create staging directory", Err: err}
	}
	defer os.RemoveAll(staging)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			framed := fitFrame(img, e.opts.Width, e.opts.Height)
			if err := imaging.Save(framed, filepath.Join(staging, pageFile(i))); err != nil {
				return &pdfrenderer.RasterizationError{Backend: e.renderer.Name(), Stage: pdfrenderer.StageEncode, Page: i, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := swapDir(staging, project.Path(pagesDir)); err != nil {
		return nil, &WorkspaceError{Op: "publish pages", Err: err}
	}

	pages := make([]Page, count)
	for i := range pages {
		pages[i] = Page{
			Index:    i,
			Image:    pagesDir + "/" + pageFile(i),
			Title:    titles[i],
			Duration: e.opts.SilenceDuration,
		}
	}
	return pages, nil
}

func pageFile(index int) string {
	return fmt.Sprintf("page-%04d.png", index+1)
}

// swapDir replaces dst with src, keeping the old dst until src is in place
func swapDir(src, dst string) error {
	old := ""
	if _, err := os.Stat(dst); err == nil {
		old = dst + ".old"
		os.RemoveAll(old)
		if err := os.Rename(dst, old); err != nil {
			return err
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			os.Rename(old, dst)
		}
		return err
	}
	if old != "" {
		os.RemoveAll(old)
	}
	return nil
}

// fitFrame scales img to fit inside width x height, keeping its aspect
// ratio, and centres it on a black frame.
func fitFrame(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	scale := math.Min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	resized := imaging.Resize(img, w, h, imaging.Lanczos)
	canvas := imaging.New(width, height, color.Black)
	return imaging.PasteCenter(canvas, resized)
}

// pageTitles returns the top line of text on each page, or "" where the
// page has none or the text layer cannot be read.
func pageTitles(data []byte, count int) (titles []string) {
	titles = make([]string, count)
	defer func() {
		if r := recover(); r != nil {
			Logger.Warn("PDF text layer unreadable, chapters will be numbered", "panic", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		Logger.Warn("PDF text layer unreadable, chapters will be numbered", "error", err)
		return titles
	}
	for i := 0; i < count && i < reader.NumPage(); i++ {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			if text := strings.Join(strings.Fields(line.String()), " "); text != "" {
				titles[i] = truncate(text, 80)
				break
			}
		}
	}
	return titles
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
