package imaging

import (
	"bytes"
	"image/color"
	"testing"

	img "github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
)

func newTestCompressor(enabled bool, maxWidth, quality int) *Compressor {
	logger := zerolog.Nop()
	return NewCompressor(config.ImagingConfig{
		Enabled:     enabled,
		MaxWidth:    maxWidth,
		JPEGQuality: quality,
	}, &logger)
}

// encodePNG renders a uniform capture of the given size as PNG bytes.
func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	canvas := img.New(width, height, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
	if err := img.Encode(&buf, canvas, img.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestCompress_DownscalesWideCaptures(t *testing.T) {
	c := newTestCompressor(true, 1280, 80)
	original := encodePNG(t, 2000, 1000)

	out, applied := c.Compress(original)
	if !applied {
		t.Fatalf("expected compression applied to a 2000px capture")
	}

	decoded, err := img.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := decoded.Bounds().Dx(); got != 1280 {
		t.Fatalf("expected width bound 1280, got %d", got)
	}
	// Aspect ratio preserved by the zero-height resize.
	if got := decoded.Bounds().Dy(); got != 640 {
		t.Fatalf("expected height 640, got %d", got)
	}
}

func TestCompress_KeepsNarrowCaptureWidth(t *testing.T) {
	c := newTestCompressor(true, 1280, 80)
	original := encodePNG(t, 800, 600)

	out, _ := c.Compress(original)

	decoded, err := img.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got := decoded.Bounds().Dx(); got != 800 {
		t.Fatalf("narrow capture must not be upscaled or cropped, got width %d", got)
	}
}

func TestCompress_UndecodableReturnsOriginal(t *testing.T) {
	c := newTestCompressor(true, 1280, 80)
	original := []byte("not an image at all")

	out, applied := c.Compress(original)
	if applied {
		t.Fatalf("expected applied=false for undecodable input")
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("original bytes must pass through unchanged")
	}
}

func TestCompress_Disabled(t *testing.T) {
	c := newTestCompressor(false, 1280, 80)
	original := encodePNG(t, 2000, 1000)

	out, applied := c.Compress(original)
	if applied {
		t.Fatalf("expected no compression when disabled")
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("disabled compressor must pass bytes through")
	}
}

func TestCompress_EmptyInput(t *testing.T) {
	c := newTestCompressor(true, 1280, 80)
	out, applied := c.Compress(nil)
	if applied || out != nil {
		t.Fatalf("expected empty input untouched, got %v applied=%v", out, applied)
	}
}
