package ffmpeg

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/vidfrompdf/engine/process"
)

const encoderTable = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`

// fakeRunner answers ffmpeg invocations without running anything.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	// failEncoders maps an encoder name to the stderr its test encode prints
	failEncoders map[string]string
	encoderList  string
	listErr      error
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	res := process.Result{Command: name, Args: args}
	if slices.Contains(args, "-encoders") {
		if f.listErr != nil {
			return res, f.listErr
		}
		res.Stdout = f.encoderList
		return res, nil
	}
	if i := slices.Index(args, "-c:v"); i >= 0 && i+1 < len(args) {
		if stderr, ok := f.failEncoders[args[i+1]]; ok {
			res.ExitCode = 1
			res.Stderr = stderr
			return res, &process.SubprocessError{Result: res, Err: errors.New("exit status 1")}
		}
	}
	return res, nil
}

func (f *fakeRunner) testEncodes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if slices.Contains(call, "color=black:s=256x256:d=0.1") {
			count++
		}
	}
	return count
}

func names(profiles []CodecProfile) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Name)
	}
	return out
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ffmpeg version n4.3.1 Copyright (c) 2000-2020 the FFmpeg developers\nbuilt with gcc", "4.3.1", false},
		{"ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023", "6.1.1", false},
		{"ffmpeg version 7.0 Copyright", "7.0", false},
		{"ffmpeg version N-112345-gdeadbeef Copyright", "", true},
		{"avconv version 12", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseEncoders(t *testing.T) {
	encoders := ParseEncoders(encoderTable)
	for _, name := range []string{"libx264", "h264_nvenc", "h264_vaapi", "aac"} {
		if !encoders[name] {
			t.Errorf("Expected encoder %s to be parsed", name)
		}
	}
	if encoders["="] || encoders["Frame-level"] {
		t.Errorf("Legend lines leaked into encoder set: %v", encoders)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("4.500000\n")
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	if d != 4500*time.Millisecond {
		t.Errorf("Expected 4.5s, got %v", d)
	}
	for _, bad := range []string{"N/A", "", "0.000", "-1"} {
		if _, err := ParseDuration(bad); !errors.Is(err, ErrNoDuration) {
			t.Errorf("ParseDuration(%q) expected ErrNoDuration, got %v", bad, err)
		}
	}
}

func TestNegotiateAllAvailable(t *testing.T) {
	runner := &fakeRunner{encoderList: encoderTable}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{VaapiDevice: "/dev/dri/renderD128"})

	profiles := n.Negotiate(context.Background())
	if got := names(Usable(profiles)); !slices.Equal(got, []string{"nvenc", "vaapi", "software"}) {
		t.Errorf("Unexpected usable profiles: %v", got)
	}
	if runner.testEncodes() != 2 {
		t.Errorf("Expected two hardware test encodes, got %d", runner.testEncodes())
	}
	if n.NegotiatedAt().IsZero() {
		t.Error("Expected negotiation time to be recorded")
	}
}

func TestNegotiateHardwareFailureFallsBack(t *testing.T) {
	runner := &fakeRunner{
		encoderList: encoderTable,
		failEncoders: map[string]string{
			"h264_nvenc": "[h264_nvenc @ 0x55] No NVENC capable devices found\n",
			"h264_vaapi": "[AVHWDeviceContext @ 0x1] Failed to initialise VAAPI connection: -1 (unknown libva error).\n",
		},
	}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{VaapiDevice: "/dev/dri/renderD128"})

	profiles := n.Negotiate(context.Background())
	if got := names(Usable(profiles)); !slices.Equal(got, []string{"software"}) {
		t.Fatalf("Expected only software, got %v", got)
	}
	if profiles[0].Reason != "no usable NVIDIA encoder" {
		t.Errorf("Unexpected nvenc reason: %q", profiles[0].Reason)
	}
	if profiles[1].Reason != "VAAPI device could not be initialised" {
		t.Errorf("Unexpected vaapi reason: %q", profiles[1].Reason)
	}
}

func TestNegotiateDisabledProfiles(t *testing.T) {
	runner := &fakeRunner{encoderList: encoderTable}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{
		Disabled:    []string{ProfileNVENC, ProfileVAAPI, ProfileSoftware},
		VaapiDevice: "/dev/dri/renderD128",
	})

	profiles := n.Negotiate(context.Background())
	if got := names(Usable(profiles)); !slices.Equal(got, []string{"software"}) {
		t.Errorf("Expected software only, got %v", got)
	}
	if runner.testEncodes() != 0 {
		t.Errorf("Disabled profiles must not be probed, got %d test encodes", runner.testEncodes())
	}
	if profiles[0].Reason != "disabled by configuration" {
		t.Errorf("Unexpected reason: %q", profiles[0].Reason)
	}
}

func TestNegotiateWithoutRenderDevice(t *testing.T) {
	runner := &fakeRunner{encoderList: encoderTable}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{})
	n.findRenderDevice = func() string { return "" }

	profiles := n.Negotiate(context.Background())
	if profiles[1].Available {
		t.Error("VAAPI must be unavailable without a render device")
	}
	if got := names(Usable(profiles)); !slices.Equal(got, []string{"nvenc", "software"}) {
		t.Errorf("Unexpected usable profiles: %v", got)
	}
}

func TestNegotiateEncoderListFailure(t *testing.T) {
	runner := &fakeRunner{listErr: errors.New("ffmpeg missing")}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{VaapiDevice: "/dev/dri/renderD128"})

	if got := names(Usable(n.Negotiate(context.Background()))); !slices.Equal(got, []string{"software"}) {
		t.Errorf("Expected software only, got %v", got)
	}
}

func TestProfilesBeforeNegotiation(t *testing.T) {
	n := NewNegotiator(&fakeRunner{}, "ffmpeg", NegotiatorOptions{})
	if got := names(n.Profiles()); !slices.Equal(got, []string{"software"}) {
		t.Errorf("Expected software only before negotiation, got %v", got)
	}
}

func TestProfilesSnapshotIsIsolated(t *testing.T) {
	runner := &fakeRunner{encoderList: encoderTable}
	n := NewNegotiator(runner, "ffmpeg", NegotiatorOptions{VaapiDevice: "/dev/dri/renderD128"})
	n.Negotiate(context.Background())

	snapshot := n.Profiles()
	snapshot[0].Available = false
	snapshot[0].VideoArgs[0] = "mutated"

	again := n.Profiles()
	if !again[0].Available || again[0].VideoArgs[0] != "-preset" {
		t.Error("Mutating a snapshot changed the cached profiles")
	}
}

func TestVideoManifest(t *testing.T) {
	segments := []Segment{
		{Image: "/work/page-0000.png", Duration: 3 * time.Second},
		{Image: "/work/it's.png", Duration: 1500 * time.Millisecond},
	}
	got := VideoManifest(segments)
	want := "ffconcat version 1.0\n" +
		"file '/work/page-0000.png'\nduration 3.000\n" +
		"file '/work/it'\\''s.png'\nduration 1.500\n" +
		"file '/work/it'\\''s.png'\n"
	if got != want {
		t.Errorf("VideoManifest mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestChapters(t *testing.T) {
	segments := []Segment{
		{Duration: 3 * time.Second, Title: "Intro; agenda"},
		{Duration: 2 * time.Second},
	}
	got := Chapters(segments)
	for _, want := range []string{
		";FFMETADATA1\n",
		"START=0\nEND=3000\ntitle=Intro\\; agenda\n",
		"START=3000\nEND=5000\ntitle=Slide 2\n",
		"TIMEBASE=1/1000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Chapters missing %q in:\n%s", want, got)
		}
	}
}

func TestEncodeArgs(t *testing.T) {
	spec := EncodeSpec{
		Audio: "audio.wav", VideoManifest: "video.ffconcat", Chapters: "chapters.txt",
		Output: "out.mp4", Width: 1920, Height: 1080, FrameRate: 2,
	}

	sw := EncodeArgs(softwareProfile(), spec)
	if sw[len(sw)-1] != "out.mp4" {
		t.Errorf("Output must be the last argument, got %v", sw)
	}
	if i := slices.Index(sw, "-c:v"); i < 0 || sw[i+1] != "libx264" {
		t.Errorf("Expected libx264 encoder, got %v", sw)
	}

	va := EncodeArgs(vaapiProfile("/dev/dri/renderD128"), spec)
	initIdx := slices.Index(va, "-init_hw_device")
	inputIdx := slices.Index(va, "-i")
	if initIdx < 0 || initIdx > inputIdx {
		t.Errorf("Hardware init must precede inputs: %v", va)
	}
	vf := va[slices.Index(va, "-vf")+1]
	if !strings.HasSuffix(vf, ",format=nv12,hwupload") {
		t.Errorf("Expected hwupload at end of filter chain, got %s", vf)
	}
	if !strings.Contains(vf, "force_original_aspect_ratio=decrease:flags=lanczos") {
		t.Errorf("Expected lanczos letterbox scaling, got %s", vf)
	}
}

func TestSilenceArgs(t *testing.T) {
	args := SilenceArgs(2500*time.Millisecond, "silence.wav")
	if i := slices.Index(args, "-t"); i < 0 || args[i+1] != "2.500" {
		t.Errorf("Expected 2.500s duration, got %v", args)
	}
	if !slices.Contains(args, "anullsrc=r=44100:cl=stereo") {
		t.Errorf("Expected anullsrc source, got %v", args)
	}
}
