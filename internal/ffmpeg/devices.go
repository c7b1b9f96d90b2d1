package ffmpeg

import (
	"regexp"
	"strings"
)

// DeviceKind separates video from audio capture devices.
type DeviceKind string

// Device kinds.
const (
	DeviceVideo DeviceKind = "video"
	DeviceAudio DeviceKind = "audio"
)

// Device is a capture device reported by an ffmpeg input.
type Device struct {
	Index string
	Name  string
	Kind  DeviceKind
}

// Screen reports whether the device captures a display.
func (d Device) Screen() bool {
	return d.Kind == DeviceVideo && strings.HasPrefix(d.Name, "Capture screen")
}

var deviceLine = regexp.MustCompile(`\]\s*\[(\d+)\]\s+(.+)$`)

// ParseDeviceList parses the stderr of an avfoundation device listing.
func ParseDeviceList(lines []string) []Device {
	var devices []Device
	var kind DeviceKind
	for _, line := range lines {
		switch {
		case strings.Contains(line, "video devices:"):
			kind = DeviceVideo
			continue
		case strings.Contains(line, "audio devices:"):
			kind = DeviceAudio
			continue
		}
		if kind == "" {
			continue
		}
		m := deviceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		devices = append(devices, Device{Index: m[1], Name: strings.TrimSpace(m[2]), Kind: kind})
	}
	return devices
}
