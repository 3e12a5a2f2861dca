package transcode

import (
	"context"
	"errors"
	"testing"
)

func TestTranscodeRejectsUnsupportedPairs(t *testing.T) {
	f := NewFFmpeg(nil)

	_, err := f.Transcode(context.Background(), []byte("x"), FormatTGS, FormatMP4)
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("Transcode tgs error = %v, want ErrTranscodeFailed", err)
	}
}

func TestTranscodeRejectsEmptyInput(t *testing.T) {
	f := NewFFmpeg(nil)

	_, err := f.Transcode(context.Background(), nil, FormatWebP, FormatMP4)
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("Transcode empty error = %v, want ErrTranscodeFailed", err)
	}
}

func TestTranscodeSameFormatIsIdentity(t *testing.T) {
	f := NewFFmpeg(nil)
	in := []byte("RIFF....WEBP")

	out, err := f.Transcode(context.Background(), in, FormatWebP, FormatWebP)
	if err != nil {
		t.Fatalf("Transcode error: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("Transcode output = %q, want input unchanged", out)
	}
}

func TestTranscodeGarbageFails(t *testing.T) {
	f := NewFFmpeg(nil)
	if !f.Available() {
		t.Skip("ffmpeg not installed")
	}

	_, err := f.Transcode(context.Background(), []byte("not a webp"), FormatWebP, FormatMP4)
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("Transcode garbage error = %v, want ErrTranscodeFailed", err)
	}
}

func TestFormatMimeRoundTrip(t *testing.T) {
	for _, f := range []Format{FormatWebP, FormatWebM, FormatMP4, FormatTGS, FormatPNG} {
		got, ok := FormatFromMime(f.MimeType())
		if !ok || got != f {
			t.Fatalf("FormatFromMime(%q) = %q, %v, want %q", f.MimeType(), got, ok, f)
		}
	}

	if _, ok := FormatFromMime("image/jpeg"); ok {
		t.Fatalf("FormatFromMime(image/jpeg) ok = true, want false")
	}
}
