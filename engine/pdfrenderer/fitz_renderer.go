package pdfrenderer

import (
	"context"
	"fmt"
	"image"

	"github.com/drummonds/vidfrompdf/internal/samplepdf"
	"github.com/gen2brain/go-fitz"
)

// FitzRenderer renders through MuPDF in two steps: each page is exported as
// SVG, then the SVG is rasterized to fit the target frame. Vector output
// keeps text sharp at any frame size.
type FitzRenderer struct {
	width  int
	height int
}

// NewFitzRenderer creates a MuPDF backed renderer after checking that the
// library can open a document on this machine.
func NewFitzRenderer(width, height int) (*FitzRenderer, error) {
	doc, err := fitz.NewFromMemory(samplepdf.Build("probe"))
	if err != nil {
		return nil, fmt.Errorf("mupdf probe failed: %w", err)
	}
	doc.Close()
	return &FitzRenderer{width: width, height: height}, nil
}

// Name identifies the backend
func (r *FitzRenderer) Name() string { return BackendFitz }

// RenderPDF converts all pages of a PDF document to images using go-fitz
func (r *FitzRenderer) RenderPDF(ctx context.Context, pdf []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, r.fail(StageOpen, -1, err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if numPages == 0 {
		return nil, r.fail(StageOpen, -1, fmt.Errorf("document has no pages"))
	}

	images := make([]image.Image, 0, numPages)
	for pageNum := 0; pageNum < numPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(StageVector, pageNum, err)
		}
		svg, err := doc.SVG(pageNum)
		if err != nil {
			return nil, r.fail(StageVector, pageNum, err)
		}
		img, err := rasterizeSVG([]byte(svg), r.width, r.height)
		if err != nil {
			return nil, r.fail(StageRasterize, pageNum, err)
		}
		images = append(images, img)
	}

	return images, nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}

func (r *FitzRenderer) fail(stage string, page int, err error) error {
	return &RasterizationError{Backend: BackendFitz, Stage: stage, Page: page, Err: err}
}
