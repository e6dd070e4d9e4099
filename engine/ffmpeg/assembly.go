package ffmpeg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audio parameters shared by every intermediate segment so the concat
// demuxer can join them with stream copy.
const (
	segmentSampleRate = "44100"
	segmentLayout     = "stereo"
	segmentChannels   = "2"
)

// Segment is one page of the final video: an image held on screen for the
// length of its audio.
type Segment struct {
	Image    string
	Audio    string
	Duration time.Duration
	Title    string
}

// EncodeSpec describes the inputs and output of the final encode.
type EncodeSpec struct {
	Audio         string
	VideoManifest string
	Chapters      string
	Output        string
	Width         int
	Height        int
	FrameRate     int
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// quoteConcatPath quotes a path for a concat demuxer "file" directive.
func quoteConcatPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// escapeMetadata escapes the characters ffmetadata treats specially.
func escapeMetadata(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '=', ';', '#', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '\n', '\r':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// VideoManifest renders an ffconcat list showing each image for its
// segment duration. The last image is repeated because the demuxer ignores
// the duration of the final entry.
func VideoManifest(segments []Segment) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "file %s\nduration %s\n", quoteConcatPath(seg.Image), seconds(seg.Duration))
	}
	if len(segments) > 0 {
		fmt.Fprintf(&b, "file %s\n", quoteConcatPath(segments[len(segments)-1].Image))
	}
	return b.String()
}

// AudioManifest renders an ffconcat list of the normalized audio segments.
func AudioManifest(segments []Segment) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, seg := range segments {
		fmt.Fprintf(&b, "file %s\n", quoteConcatPath(seg.Audio))
	}
	return b.String()
}

// Chapters renders an ffmetadata file with one chapter per segment, in
// milliseconds. Untitled segments become "Slide N".
func Chapters(segments []Segment) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	b.WriteString("title=Created with vidfrompdf\n")
	var start time.Duration
	for i, seg := range segments {
		end := start + seg.Duration
		title := strings.TrimSpace(seg.Title)
		if title == "" {
			title = fmt.Sprintf("Slide %d", i+1)
		}
		fmt.Fprintf(&b, "\n[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=%s\n",
			start.Milliseconds(), end.Milliseconds(), escapeMetadata(title))
		start = end
	}
	return b.String()
}

// WriteFile writes one of the rendered manifests to disk.
func WriteFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// NormalizeAudioArgs converts any supported clip into the common PCM layout.
func NormalizeAudioArgs(in, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", in,
		"-vn",
		"-ac", segmentChannels,
		"-ar", segmentSampleRate,
		"-c:a", "pcm_s16le",
		out,
	}
}

// SilenceArgs synthesizes d of silence in the common PCM layout.
func SilenceArgs(d time.Duration, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=" + segmentSampleRate + ":cl=" + segmentLayout,
		"-t", seconds(d),
		"-c:a", "pcm_s16le",
		out,
	}
}

// ConcatAudioArgs joins the normalized segments without re-encoding.
func ConcatAudioArgs(manifest, out string) []string {
	return []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", manifest,
		"-c", "copy",
		out,
	}
}

// EncodeArgs builds the final invocation for one codec profile: narration
// from input 0, slides from the concat manifest in input 1 and chapters
// from input 2, scaled into the frame with Lanczos and letterboxed.
func EncodeArgs(p CodecProfile, spec EncodeSpec) []string {
	filter := fmt.Sprintf(
		"scale=w=%d:h=%d:force_original_aspect_ratio=decrease:flags=lanczos,"+
			"pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		spec.Width, spec.Height, spec.Width, spec.Height, spec.FrameRate)
	if p.Filter != "" {
		filter += "," + p.Filter
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	args = append(args, p.HWArgs...)
	args = append(args,
		"-i", spec.Audio,
		"-f", "concat", "-safe", "0", "-i", spec.VideoManifest,
		"-i", spec.Chapters,
		"-map", "1:v:0",
		"-map", "0:a:0",
		"-map_metadata", "2",
		"-map_chapters", "2",
		"-vf", filter,
		"-c:v", p.Encoder,
	)
	args = append(args, p.VideoArgs...)
	args = append(args,
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		spec.Output,
	)
	return args
}
