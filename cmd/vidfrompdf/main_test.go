package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	engine "github.com/drummonds/vidfrompdf/engine"
)

func TestAudioFlags(t *testing.T) {
	audio := audioFlags{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(audio, "audio", "")

	err := fs.Parse([]string{"-audio", "2=demo.wav", "-audio", "0=intro.mp3"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(audio) != 2 || audio[0] != "intro.mp3" || audio[2] != "demo.wav" {
		t.Errorf("Unexpected audio map: %v", audio)
	}
	if got := audio.String(); got != "0=intro.mp3,2=demo.wav" {
		t.Errorf("String() = %q", got)
	}
	if idx := audio.indexes(); len(idx) != 2 || idx[0] != 0 || idx[1] != 2 {
		t.Errorf("indexes() = %v, want [0 2]", idx)
	}
}

func TestAudioFlagsRejectMalformed(t *testing.T) {
	tests := []string{"intro.mp3", "x=intro.mp3", "-1=intro.mp3", "3=", "1=a.mp3"}
	audio := audioFlags{1: "first.mp3"}
	for _, value := range tests {
		if err := audio.Set(value); err == nil {
			t.Errorf("Set(%q) should fail", value)
		}
	}
}

func TestAudioContentType(t *testing.T) {
	if got := audioContentType("Intro.WAV"); got != "audio/wav" {
		t.Errorf("audioContentType(wav) = %q", got)
	}
	if got := audioContentType("intro.m4a"); got != "audio/mp4" {
		t.Errorf("audioContentType(m4a) = %q", got)
	}
	if got := audioContentType("clip.unknownext"); got != "application/octet-stream" {
		t.Errorf("audioContentType(unknown) = %q", got)
	}
}

func TestStatusLine(t *testing.T) {
	err := &engine.UploadError{Reason: "read deck.pdf", Err: os.ErrNotExist}
	got := status(err)
	if !strings.HasPrefix(got, "status: UploadError: read deck.pdf") {
		t.Errorf("status() = %q", got)
	}
	if got := status(errors.New("boom")); got != "status: InternalError: boom" {
		t.Errorf("status() = %q", got)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "video.mp4")
	dst := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(src, []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "frames" {
		t.Errorf("Copied data = %q, err %v", data, err)
	}

	if err := copyFile(filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "other.mp4")); err == nil {
		t.Error("Expected an error for a missing source")
	}
	if _, err := os.Stat(filepath.Join(dir, "other.mp4")); !os.IsNotExist(err) {
		t.Error("No destination should be left behind")
	}
}
