package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
	"github.com/drummonds/vidfrompdf/engine/process"
)

const (
	fakeFFmpeg  = "/fake/ffmpeg"
	fakeFFprobe = "/fake/ffprobe"
)

const fakeEncoderTable = ` V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
`

// fakeRenderer draws one grey 16:9 image per page of the document
type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Name() string { return "fake" }

func (r *fakeRenderer) RenderPDF(ctx context.Context, pdf []byte) ([]image.Image, error) {
	if r.err != nil {
		return nil, r.err
	}
	count := bytes.Count(pdf, []byte("/Type /Page "))
	images := make([]image.Image, count)
	for i := range images {
		img := image.NewRGBA(image.Rect(0, 0, 64, 36))
		draw.Draw(img, img.Bounds(), &image.Uniform{color.Gray{Y: uint8(40 * (i + 1))}}, image.Point{}, draw.Src)
		images[i] = img
	}
	return images, nil
}

func (r *fakeRenderer) Close() error { return nil }

// fakeRunner stands in for ffmpeg and ffprobe. Output files named as the
// last argument are created so the pipeline can move them around.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	// failEncoders maps an encoder to the stderr its render encode prints;
	// negotiation test encodes always pass
	failEncoders map[string]string
	// probe is what ffprobe prints; "" means three seconds
	probe    string
	probeErr error

	// when gate is set, render encodes signal started then block on gate
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	res := process.Result{Command: name, Args: args}
	if name == fakeFFprobe {
		if f.probeErr != nil {
			res.ExitCode = 1
			return res, &process.SubprocessError{Result: res, Err: f.probeErr}
		}
		res.Stdout = f.probe
		if res.Stdout == "" {
			res.Stdout = "3.000000\n"
		}
		return res, nil
	}
	if slices.Contains(args, "-encoders") {
		res.Stdout = fakeEncoderTable
		return res, nil
	}
	if slices.Contains(args, "null") {
		return res, nil
	}

	if i := slices.Index(args, "-c:v"); i >= 0 {
		if f.gate != nil {
			select {
			case f.started <- struct{}{}:
			default:
			}
			select {
			case <-f.gate:
			case <-ctx.Done():
				return res, fmt.Errorf("%s: %w", name, ctx.Err())
			}
		}
		if stderr, ok := f.failEncoders[args[i+1]]; ok {
			res.ExitCode = 1
			res.Stderr = stderr
			return res, &process.SubprocessError{Result: res, Err: errors.New("exit status 1")}
		}
	}

	if out := args[len(args)-1]; out != "-" {
		if err := os.WriteFile(out, []byte("media"), 0o644); err != nil {
			return res, err
		}
	}
	return res, nil
}

// encodes returns the encoder of every render encode, in order
func (f *fakeRunner) encodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var encoders []string
	for _, call := range f.calls {
		if slices.Contains(call, "null") {
			continue
		}
		if i := slices.Index(call, "-c:v"); i >= 0 {
			encoders = append(encoders, call[i+1])
		}
	}
	return encoders
}

type testEngineOptions struct {
	runner   *fakeRunner
	renderer pdfrenderer.Renderer
	disabled []string
	workers  int // render slots, 4 when unset
}

// newTestEngine builds an engine over fakes with hardware profiles
// negotiated as available unless disabled
func newTestEngine(t *testing.T, opts testEngineOptions) *Engine {
	t.Helper()
	if opts.runner == nil {
		opts.runner = &fakeRunner{}
	}
	if opts.renderer == nil {
		opts.renderer = &fakeRenderer{}
	}
	negotiator := ffmpeg.NewNegotiator(opts.runner, fakeFFmpeg, ffmpeg.NegotiatorOptions{
		Disabled:    opts.disabled,
		VaapiDevice: "/dev/dri/renderD128",
	})
	negotiator.Negotiate(context.Background())
	if opts.workers == 0 {
		opts.workers = 4
	}

	eng, err := New(Options{
		ProjectPath: t.TempDir(),
		Renderer:    opts.renderer,
		Runner:      opts.runner,
		Tools:       ffmpeg.Tools{FFmpeg: fakeFFmpeg, FFprobe: fakeFFprobe, Version: "6.1"},
		Negotiator:  negotiator,
		Workers:     opts.workers,
		Width:       160,
		Height:      90,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}
