package encoder

import (
	"fmt"
	"time"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/media"
)

const (
	// DefaultMaxKeyFrameInterval is the key frame distance in frames.
	DefaultMaxKeyFrameInterval = 60
	// DefaultFrameRate is the capture cadence assumed when none is set.
	DefaultFrameRate = 60

	bitsPerPixel   = 4
	minBitrate     = 500_000
	ceilingPercent = 150
)

// Config is the encoder configuration. It is immutable once a session
// exists; a change requires a new session.
type Config struct {
	// Width and Height size the captured frames; zero keeps the source
	// size. The session always uses the first frame's dimensions.
	Width               uint32            `toml:"width"`
	Height              uint32            `toml:"height"`
	Codec               Codec             `toml:"codec"`
	TargetBitrate       uint64            `toml:"target_bitrate"` // bits per second, 0 = derive from area
	MaxKeyFrameInterval uint32            `toml:"max_keyframe_interval"`
	Realtime            bool              `toml:"realtime"`
	FrameRate           uint32            `toml:"frame_rate"`
	PixelFormat         media.PixelFormat `toml:"pixel_format"`
}

// DefaultConfig returns the configuration used by the capture command.
func DefaultConfig() Config {
	return Config{
		Codec:               CodecH264,
		MaxKeyFrameInterval: DefaultMaxKeyFrameInterval,
		Realtime:            true,
		FrameRate:           DefaultFrameRate,
		PixelFormat:         media.PixelFormatNV12,
	}
}

// Validate checks the configuration before a pipeline is built.
func (c Config) Validate() error {
	if _, err := c.Codec.variant(); err != nil {
		return err
	}
	if (c.Width == 0) != (c.Height == 0) {
		return fmt.Errorf("width and height must both be set or both be zero, got %dx%d", c.Width, c.Height)
	}
	if c.PixelFormat != "" {
		if _, err := media.ParsePixelFormat(string(c.PixelFormat)); err != nil {
			return err
		}
	}
	return nil
}

// BitrateForArea derives a target bitrate from the frame area.
func BitrateForArea(width, height uint32) uint64 {
	bitrate := uint64(width) * uint64(height) * bitsPerPixel
	if bitrate < minBitrate {
		return minBitrate
	}
	return bitrate
}

// Bitrate returns the configured bitrate, or the area derived one.
func (c Config) Bitrate(width, height uint32) uint64 {
	if c.TargetBitrate > 0 {
		return c.TargetBitrate
	}
	return BitrateForArea(width, height)
}

func (c Config) properties(width, height uint32, v codecVariant) compressor.Properties {
	bitrate := c.Bitrate(width, height)
	keyInterval := c.MaxKeyFrameInterval
	if keyInterval == 0 {
		keyInterval = DefaultMaxKeyFrameInterval
	}
	frameRate := c.FrameRate
	if frameRate == 0 {
		frameRate = DefaultFrameRate
	}
	pixelFormat := c.PixelFormat
	if pixelFormat == "" {
		pixelFormat = media.PixelFormatNV12
	}
	return compressor.Properties{
		Width:                int(width),
		Height:               int(height),
		Codec:                v.codecType,
		PixelFormat:          pixelFormat,
		ProfileLevel:         v.profileLevel,
		Realtime:             c.Realtime,
		AllowFrameReordering: false,
		MaxKeyFrameInterval:  int(keyInterval),
		ExpectedFrameRate:    int(frameRate),
		AverageBitRate:       int64(bitrate),
		DataRateLimit: compressor.DataRateLimit{
			Bytes:  int64(bitrate/8) * ceilingPercent / 100,
			Period: time.Second,
		},
	}
}
