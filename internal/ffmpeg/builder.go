package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// Base returns the ffmpeg command with standard flags. Log lines carry
// their level so ParseLogLevel can map them.
func Base() string {
	return "ffmpeg -hide_banner -loglevel level+info -nostats"
}

// BuildEncodeCommand builds an ffmpeg command that reads raw frames on
// stdin and writes an access-unit-delimited Annex B stream on stdout.
func BuildEncodeCommand(p *EncodeParams) (string, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", p.Width, p.Height)
	}
	if p.Encoder == "" {
		return "", errors.New("encoder is required")
	}
	var bsf string
	switch p.Codec {
	case "h264":
		bsf = "h264_metadata=aud=insert"
	case "hevc":
		bsf = "hevc_metadata=aud=insert"
	default:
		return "", fmt.Errorf("unsupported output codec %q", p.Codec)
	}
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	// Progress monitoring
	if p.ProgressSocket != "" {
		cmd.WriteString(" -progress unix://" + p.ProgressSocket)
	}

	// Raw frames on stdin
	cmd.WriteString(" -f rawvideo")
	writeInputOptions(&cmd, p.Options)
	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "nv12"
	}
	cmd.WriteString(" -pix_fmt " + pixFmt)
	cmd.WriteString(fmt.Sprintf(" -video_size %dx%d", p.Width, p.Height))
	fps := p.FPS
	if fps <= 0 {
		fps = 30
	}
	cmd.WriteString(fmt.Sprintf(" -framerate %d", fps))
	cmd.WriteString(" -i pipe:0")

	// One output frame per input frame, no duplication or dropping
	cmd.WriteString(" -fps_mode passthrough")

	// Encoder
	cmd.WriteString(" -c:v " + p.Encoder)
	if p.Profile != "" {
		cmd.WriteString(" -profile:v " + p.Profile)
	}

	// Rate control - only add what's set
	if p.Bitrate > 0 {
		cmd.WriteString(fmt.Sprintf(" -b:v %d", p.Bitrate))
	}
	if p.MaxRate > 0 {
		cmd.WriteString(fmt.Sprintf(" -maxrate %d", p.MaxRate))
	}
	if p.BufferSize > 0 {
		cmd.WriteString(fmt.Sprintf(" -bufsize %d", p.BufferSize))
	}

	// GOP settings, no frame reordering
	if p.GOP > 0 {
		cmd.WriteString(fmt.Sprintf(" -g %d", p.GOP))
	}
	cmd.WriteString(" -bf 0")

	if p.Realtime {
		switch {
		case strings.Contains(p.Encoder, "videotoolbox"):
			cmd.WriteString(" -realtime 1")
		case !isHardwareEncoder(p.Encoder):
			// Low latency settings for software encoders
			cmd.WriteString(" -tune zerolatency")
			cmd.WriteString(" -sc_threshold 0")
		}
	}

	// Access unit delimiters let the reader split frames without parsing slices
	cmd.WriteString(" -bsf:v " + bsf)

	cmd.WriteString(" -flush_packets 1 -f " + p.Codec + " pipe:1")

	return cmd.String(), nil
}

// BuildGrabCommand builds an ffmpeg command that captures a display and
// writes tightly packed raw frames on stdout.
func BuildGrabCommand(p *GrabParams) (string, error) {
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}
	fps := p.FPS
	if fps <= 0 {
		fps = 30
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	if p.ProgressSocket != "" {
		cmd.WriteString(" -progress unix://" + p.ProgressSocket)
	}

	// Cropping is done by the demuxer where it can, otherwise by a filter
	var videoFilterChain []string

	switch p.Input {
	case InputAVFoundation:
		cmd.WriteString(" -f avfoundation")
		writeInputOptions(&cmd, p.Options)
		cmd.WriteString(fmt.Sprintf(" -capture_cursor %d", boolFlag(p.ShowCursor || p.ShowClicks)))
		cmd.WriteString(fmt.Sprintf(" -capture_mouse_clicks %d", boolFlag(p.ShowClicks)))
		cmd.WriteString(fmt.Sprintf(" -framerate %d", fps))
		device := p.Device
		if device == "" {
			device = "0"
		}
		// Video only: "<screen>:none"
		cmd.WriteString(" -i " + device + ":none")
		if !p.Crop.Empty() {
			videoFilterChain = append(videoFilterChain,
				fmt.Sprintf("crop=%d:%d:%d:%d", p.Crop.Width, p.Crop.Height, p.Crop.X, p.Crop.Y))
		}

	case InputX11Grab:
		cmd.WriteString(" -f x11grab")
		writeInputOptions(&cmd, p.Options)
		cmd.WriteString(fmt.Sprintf(" -draw_mouse %d", boolFlag(p.ShowCursor || p.ShowClicks)))
		cmd.WriteString(fmt.Sprintf(" -framerate %d", fps))
		display := p.Device
		if display == "" {
			display = ":0.0"
		}
		if !p.Crop.Empty() {
			cmd.WriteString(fmt.Sprintf(" -video_size %dx%d", p.Crop.Width, p.Crop.Height))
			display += fmt.Sprintf("+%d,%d", p.Crop.X, p.Crop.Y)
		}
		cmd.WriteString(" -i " + display)

	case InputTestPattern:
		// Read at native frame rate (prevents running too fast)
		cmd.WriteString(" -re -f lavfi")
		w, h := p.Width, p.Height
		if w <= 0 || h <= 0 {
			w, h = 1920, 1080
		}
		cmd.WriteString(fmt.Sprintf(" -i testsrc2=size=%dx%d:rate=%d", w, h, fps))

	default:
		return "", fmt.Errorf("unsupported grab input %q", p.Input)
	}

	if p.Width > 0 && p.Height > 0 && p.Input != InputTestPattern {
		videoFilterChain = append(videoFilterChain, fmt.Sprintf("scale=%d:%d", p.Width, p.Height))
	}
	pixFmt := p.PixelFormat
	if pixFmt == "" {
		pixFmt = "nv12"
	}
	videoFilterChain = append(videoFilterChain, "format="+pixFmt)
	cmd.WriteString(" -vf " + strings.Join(videoFilterChain, ","))

	cmd.WriteString(" -f rawvideo -pix_fmt " + pixFmt + " pipe:1")

	return cmd.String(), nil
}

// BuildEncodersListCommand creates an ffmpeg command for listing available encoders.
func BuildEncodersListCommand() string {
	return "ffmpeg -hide_banner -encoders"
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isHardwareEncoder checks if the given codec name represents a hardware encoder
func isHardwareEncoder(codec string) bool {
	hardwareCodecs := []string{
		"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m",
	}

	for _, hwCodec := range hardwareCodecs {
		if strings.Contains(codec, hwCodec) {
			return true
		}
	}
	return false
}

// IsHardwareEncoder reports whether encoder runs on dedicated hardware.
func IsHardwareEncoder(encoder string) bool {
	return isHardwareEncoder(encoder)
}

// BuildDeviceListCommand builds the command that prints the capture devices
// of input on stderr.
func BuildDeviceListCommand(input Input) (string, error) {
	if input != InputAVFoundation {
		return "", fmt.Errorf("device listing is not supported for %s", input)
	}
	return "ffmpeg -hide_banner -f avfoundation -list_devices true -i none", nil
}
