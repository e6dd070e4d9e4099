// Command vidfrompdf renders a narrated video from a PDF deck without the
// web server:
//
//	vidfrompdf -pdf talk.pdf -audio 0=intro.mp3 -audio 2=demo.wav -out talk.mp4
//
// Pages without a clip are shown for SILENCE_SECONDS. Failures are printed
// as "status: <kind>: <message>" and exit non-zero.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	config "github.com/drummonds/vidfrompdf/config"
	engine "github.com/drummonds/vidfrompdf/engine"
	"github.com/drummonds/vidfrompdf/engine/ffmpeg"
	"github.com/drummonds/vidfrompdf/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	ffmpeg.Logger = Logger
	pdfrenderer.Logger = Logger
}

// audioFlags collects repeated -audio index=path values
type audioFlags map[int]string

func (a audioFlags) String() string {
	parts := make([]string, 0, len(a))
	for _, index := range a.indexes() {
		parts = append(parts, fmt.Sprintf("%d=%s", index, a[index]))
	}
	return strings.Join(parts, ",")
}

func (a audioFlags) Set(value string) error {
	idx, path, ok := strings.Cut(value, "=")
	if !ok || path == "" {
		return fmt.Errorf("expected index=path, got %q", value)
	}
	index, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil || index < 0 {
		return fmt.Errorf("page index must be a non-negative integer, got %q", idx)
	}
	if _, dup := a[index]; dup {
		return fmt.Errorf("page %d given twice", index)
	}
	a[index] = path
	return nil
}

func (a audioFlags) indexes() []int {
	out := make([]int, 0, len(a))
	for index := range a {
		out = append(out, index)
	}
	sort.Ints(out)
	return out
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

// audioContentType guesses the media type from the file extension
func audioContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := audioTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// status formats an engine error the way the web UI labels it
func status(err error) string {
	return fmt.Sprintf("status: %s: %v", engine.Kind(err), err)
}

func main() {
	pdfPath := flag.String("pdf", "", "PDF slide deck to render (required)")
	outPath := flag.String("out", "", "Where to write the video (default: deck name with .mp4)")
	backend := flag.String("backend", "", "Rasterization backend: auto, pdftoppm, fitz or pdfium (overrides RASTER_BACKEND)")
	audio := audioFlags{}
	flag.Var(audio, "audio", "Narration for a page as index=path, 0-based; repeatable")
	flag.Parse()

	if *pdfPath == "" {
		fmt.Fprintln(os.Stderr, "vidfrompdf: -pdf is required")
		flag.Usage()
		os.Exit(2)
	}
	if *outPath == "" {
		*outPath = strings.TrimSuffix(*pdfPath, filepath.Ext(*pdfPath)) + ".mp4"
	}

	cfg, logger := config.SetupCLI()
	injectGlobals(logger)
	if *backend != "" {
		cfg.RasterBackend = strings.ToLower(*backend)
	}

	// CLI runs keep their workspace apart from the server's projects
	workspace, err := os.MkdirTemp("", "vidfrompdf-")
	if err != nil {
		fmt.Println(status(&engine.WorkspaceError{Op: "create workspace", Err: err}))
		os.Exit(1)
	}
	cfg.ProjectPath = workspace

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, *pdfPath, audio, *outPath)
	stop()
	os.RemoveAll(workspace)
	if err != nil {
		fmt.Println(status(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, pdfPath string, audio audioFlags, outPath string) error {
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return &engine.UploadError{Reason: "read " + pdfPath, Err: err}
	}

	eng, err := engine.Setup(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer eng.Close()
	fmt.Printf("status: rasterizing with %s\n", eng.Backend())

	project, err := eng.CreateProject(ctx, "cli", pdf)
	if err != nil {
		return err
	}
	fmt.Printf("status: extracted %d pages\n", len(project.Pages))

	for _, index := range audio.indexes() {
		if err := attachAudio(ctx, eng, project, index, audio[index]); err != nil {
			return err
		}
		fmt.Printf("status: page %d narrated by %s\n", index, audio[index])
	}

	fmt.Println("status: rendering")
	project, err = eng.Render(ctx, project.ID)
	if err != nil {
		return err
	}
	if len(project.Output.Fallbacks) > 0 {
		fmt.Printf("status: fell back from %s\n", strings.Join(project.Output.Fallbacks, ", "))
	}

	if err := copyFile(project.Path(project.Output.Path), outPath); err != nil {
		return &engine.WorkspaceError{Op: "copy video", Err: err}
	}
	fmt.Printf("status: rendered %s with %s\n", outPath, project.Output.Encoder)
	return nil
}

func attachAudio(ctx context.Context, eng *engine.Engine, project *engine.Project, index int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &engine.UploadError{Reason: "open " + path, Err: err}
	}
	defer f.Close()
	_, err = eng.SetPageAudio(ctx, project.ID, index, audioContentType(path), f)
	return err
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
