package pdfrenderer

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// rasterizeSVG draws an SVG page scaled to fit inside maxW x maxH while
// keeping its aspect ratio, on an opaque white background.
func rasterizeSVG(data []byte, maxW, maxH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		return nil, fmt.Errorf("svg has empty view box %.1fx%.1f", vw, vh)
	}

	scale := math.Min(float64(maxW)/vw, float64(maxH)/vh)
	w := max(1, int(math.Round(vw*scale)))
	h := max(1, int(math.Round(vh*scale)))

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	raster := rasterx.NewDasher(w, h, scanner)
	icon.Draw(raster, 1.0)
	return rgba, nil
}
