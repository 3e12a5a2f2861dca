// Package transcode converts media between the codecs the two platforms accept.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wabridge/pkg/logger"

	"go.mau.fi/util/ffmpeg"
)

// ErrTranscodeFailed marks every conversion failure. Callers fall back to an
// alternate representation where one exists.
var ErrTranscodeFailed = errors.New("transcode failed")

// Format is a container/codec pair the filter understands.
type Format string

const (
	FormatWebP Format = "webp"
	FormatWebM Format = "webm"
	FormatMP4  Format = "mp4"
	FormatTGS  Format = "tgs"
	FormatPNG  Format = "png"
)

// MimeType returns the mimetype of f, or an empty string.
func (f Format) MimeType() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatWebM:
		return "video/webm"
	case FormatMP4:
		return "video/mp4"
	case FormatTGS:
		return "application/x-tgsticker"
	case FormatPNG:
		return "image/png"
	default:
		return ""
	}
}

// Filter is an opaque byte-to-byte converter.
type Filter interface {
	Transcode(ctx context.Context, data []byte, from, to Format) ([]byte, error)
}

type conversion struct {
	from, to Format
}

// ffmpeg arguments per supported conversion.
var conversions = map[conversion]struct {
	input, output []string
}{
	{FormatWebP, FormatMP4}: {
		output: []string{"-movflags", "faststart", "-pix_fmt", "yuv420p", "-c:v", "libx264",
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2", "-an"},
	},
	{FormatWebM, FormatMP4}: {
		output: []string{"-movflags", "faststart", "-pix_fmt", "yuv420p", "-c:v", "libx264", "-an"},
	},
	{FormatWebM, FormatWebP}: {
		input:  []string{"-c:v", "libvpx-vp9"},
		output: []string{"-c:v", "libwebp", "-loop", "0", "-an", "-vsync", "0"},
	},
	{FormatPNG, FormatWebP}: {
		output: []string{"-c:v", "libwebp", "-lossless", "0", "-q:v", "80"},
	},
	{FormatWebP, FormatPNG}: {
		output: []string{"-frames:v", "1"},
	},
}

// FFmpeg runs conversions through the ffmpeg binary found on PATH.
type FFmpeg struct {
	log *slog.Logger
}

func NewFFmpeg(log *slog.Logger) *FFmpeg {
	log = logger.OrDiscard(log).With("component", "bridge.transcode")
	if !ffmpeg.Supported() {
		log.Warn("ffmpeg not found on PATH, media conversion disabled")
	}
	return &FFmpeg{log: log}
}

// Available reports whether conversions can run at all.
func (f *FFmpeg) Available() bool {
	return ffmpeg.Supported()
}

func (f *FFmpeg) Transcode(ctx context.Context, data []byte, from, to Format) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrTranscodeFailed)
	}
	if from == to {
		return data, nil
	}

	args, ok := conversions[conversion{from, to}]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported conversion %s to %s", ErrTranscodeFailed, from, to)
	}
	if !ffmpeg.Supported() {
		return nil, fmt.Errorf("%w: ffmpeg not available", ErrTranscodeFailed)
	}

	out, err := ffmpeg.ConvertBytes(ctx, data, "."+string(to), args.input, args.output, from.MimeType())
	if err != nil {
		f.log.Warn("Media conversion failed", "from", from, "to", to, "size", len(data), "error", err)
		return nil, fmt.Errorf("%w: %s to %s: %w", ErrTranscodeFailed, from, to, err)
	}

	f.log.Debug("Media converted", "from", from, "to", to, "in_size", len(data), "out_size", len(out))
	return out, nil
}

// FormatFromMime maps a mimetype onto a known Format.
func FormatFromMime(mimeType string) (Format, bool) {
	switch mimeType {
	case "image/webp":
		return FormatWebP, true
	case "video/webm":
		return FormatWebM, true
	case "video/mp4":
		return FormatMP4, true
	case "application/x-tgsticker":
		return FormatTGS, true
	case "image/png":
		return FormatPNG, true
	default:
		return "", false
	}
}
