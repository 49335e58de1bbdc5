package imaging

import (
	"bytes"

	img "github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
)

// Compressor bounds local storage growth from photo proofs: captures wider
// than the configured maximum are downscaled and everything is re-encoded
// as JPEG at the target quality before persistence.
type Compressor struct {
	enabled  bool
	maxWidth int
	quality  int
	logger   *zerolog.Logger
}

func NewCompressor(cfg config.ImagingConfig, logger *zerolog.Logger) *Compressor {
	return &Compressor{
		enabled:  cfg.Enabled,
		maxWidth: cfg.MaxWidth,
		quality:  cfg.JPEGQuality,
		logger:   logger,
	}
}

// Compress returns the bytes to persist and whether compression was
// applied. It never fails: undecodable or incompressible input comes back
// unchanged with applied=false, so a broken capture still reaches the
// queue.
func (c *Compressor) Compress(data []byte) ([]byte, bool) {
	if !c.enabled || len(data) == 0 {
		return data, false
	}

	src, err := img.Decode(bytes.NewReader(data), img.AutoOrientation(true))
	if err != nil {
		c.logger.Warn().Err(err).Msg("photo decode failed, storing original bytes")
		return data, false
	}

	resized := false
	if src.Bounds().Dx() > c.maxWidth {
		src = img.Resize(src, c.maxWidth, 0, img.Lanczos)
		resized = true
	}

	var buf bytes.Buffer
	if err := img.Encode(&buf, src, img.JPEG, img.JPEGQuality(c.quality)); err != nil {
		c.logger.Warn().Err(err).Msg("photo re-encode failed, storing original bytes")
		return data, false
	}

	// Re-encoding an already small capture can grow it; keep the original
	// then. A downscale always wins, the width bound matters more than a
	// few stray bytes.
	if !resized && buf.Len() >= len(data) {
		return data, false
	}

	c.logger.Debug().
		Int("original_bytes", len(data)).
		Int("compressed_bytes", buf.Len()).
		Bool("resized", resized).
		Msg("photo compressed")
	return buf.Bytes(), true
}
