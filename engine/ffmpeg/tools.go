// Package ffmpeg locates ffmpeg and ffprobe, negotiates a working H.264
// encoder and builds the command lines that assemble slide images and
// narration into a single video.
//
// Nothing here runs a process directly: every invocation goes through a
// process.Runner so callers control timeouts and tests can substitute a fake.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drummonds/vidfrompdf/engine/process"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNoDuration is returned when ffprobe cannot report a positive duration.
var ErrNoDuration = errors.New("media has no usable duration")

// Tools holds resolved executable paths and the detected ffmpeg version.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Version string
}

var versionRe = regexp.MustCompile(`^ffmpeg version n?([0-9]+(?:\.[0-9]+)*)`)

// ParseVersion extracts the numeric release from the first line of
// `ffmpeg -version`, accepting both "4.3.1" and git-tag style "n4.3.1".
func ParseVersion(out string) (string, error) {
	firstLine := strings.TrimSpace(out)
	if idx := strings.Index(firstLine, "\n"); idx > 0 {
		firstLine = firstLine[:idx]
	}
	m := versionRe.FindStringSubmatch(firstLine)
	if m == nil {
		return "", fmt.Errorf("unrecognised ffmpeg version banner %q", firstLine)
	}
	return m[1], nil
}

// Discover resolves ffmpeg and ffprobe (configured paths win over PATH) and
// records the ffmpeg version. An unparsable banner is logged, not fatal.
func Discover(ctx context.Context, runner process.Runner, ffmpegPath, ffprobePath string, timeout time.Duration) (Tools, error) {
	ffmpegBin, err := process.Require("ffmpeg", ffmpegPath)
	if err != nil {
		return Tools{}, err
	}
	ffprobeBin, err := process.Require("ffprobe", ffprobePath)
	if err != nil {
		return Tools{}, err
	}

	tools := Tools{FFmpeg: ffmpegBin, FFprobe: ffprobeBin, Version: "unknown"}
	res, err := runner.Run(ctx, timeout, ffmpegBin, "-version")
	if err != nil {
		return tools, fmt.Errorf("ffmpeg -version: %w", err)
	}
	if version, err := ParseVersion(res.Stdout); err != nil {
		Logger.Warn("Could not parse ffmpeg version", "error", err)
	} else {
		tools.Version = version
	}
	Logger.Info("ffmpeg discovered", "ffmpeg", ffmpegBin, "ffprobe", ffprobeBin, "version", tools.Version)
	return tools, nil
}

// ProbeDurationArgs returns the ffprobe arguments that print only the
// container duration in seconds.
func ProbeDurationArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// ParseDuration converts ffprobe's seconds output into a Duration.
func ParseDuration(out string) (time.Duration, error) {
	value := strings.TrimSpace(out)
	if idx := strings.Index(value, "\n"); idx > 0 {
		value = strings.TrimSpace(value[:idx])
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ProbeDuration asks ffprobe for the length of a media file.
func ProbeDuration(ctx context.Context, runner process.Runner, ffprobe, path string, timeout time.Duration) (time.Duration, error) {
	res, err := runner.Run(ctx, timeout, ffprobe, ProbeDurationArgs(path)...)
	if err != nil {
		return 0, err
	}
	return ParseDuration(res.Stdout)
}
