package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	mu       sync.Mutex // one wasm instance, one document at a time
	dpi      int
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer(dpi int) (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1, // Minimum idle workers
		MaxIdle:  1, // Maximum idle workers
		MaxTotal: 1, // Total worker limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		dpi:      dpi,
		pool:     pool,
		instance: instance,
	}, nil
}

// Name identifies the backend
func (r *PDFiumRenderer) Name() string { return BackendPDFium }

// RenderPDF converts all pages of a PDF document to images using go-pdfium WebAssembly
func (r *PDFiumRenderer) RenderPDF(ctx context.Context, pdf []byte) ([]image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return nil, r.fail(StageOpen, -1, fmt.Errorf("renderer closed"))
	}

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdf,
	})
	if err != nil {
		return nil, r.fail(StageOpen, -1, err)
	}
	defer r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return nil, r.fail(StageOpen, -1, err)
	}

	numPages := pageCountResp.PageCount
	images := make([]image.Image, 0, numPages)

	for pageIndex := 0; pageIndex < numPages; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(StageRender, pageIndex, err)
		}
		pageRender, err := r.instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: r.dpi,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: doc.Document,
					Index:    pageIndex,
				},
			},
		})
		if err != nil {
			return nil, r.fail(StageRender, pageIndex, err)
		}

		// the wasm buffer is released by Cleanup, so keep a Go-owned copy
		src := pageRender.Result.Image
		copied := image.NewRGBA(src.Bounds())
		draw.Draw(copied, copied.Bounds(), src, src.Bounds().Min, draw.Src)
		images = append(images, copied)

		pageRender.Cleanup()
	}

	return images, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}

func (r *PDFiumRenderer) fail(stage string, page int, err error) error {
	return &RasterizationError{Backend: BackendPDFium, Stage: stage, Page: page, Err: err}
}
