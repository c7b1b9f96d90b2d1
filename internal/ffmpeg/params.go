package ffmpeg

// EncodeParams describe an encode of raw frames read from stdin into an
// Annex B elementary stream written to stdout.
type EncodeParams struct {
	// Input Configuration
	Width       int
	Height      int
	PixelFormat string // nv12, bgra
	FPS         int

	// Encoder Configuration
	Encoder string // libx264, h264_videotoolbox, libx265, etc.
	Codec   string // h264 or hevc, selects the output muxer
	Profile string // high, main

	// Rate Control (only set what's needed)
	Bitrate    int64 // bits per second
	MaxRate    int64 // soft ceiling, bits per second
	BufferSize int64 // rate control window, bits

	// Encoder Options
	GOP      int  // Keyframe interval (0 = not set)
	Realtime bool // favor latency over compression

	// Output
	ProgressSocket string // /tmp/screencapture-encode-xxx.sock

	// Behavior Options
	Options []OptionType
}

// Input selects the ffmpeg demuxer used to grab the display.
type Input string

// Grab inputs.
const (
	InputAVFoundation Input = "avfoundation" // macOS screens
	InputX11Grab      Input = "x11grab"      // X11 displays
	InputTestPattern  Input = "lavfi"        // synthetic testsrc2
)

// Crop is a capture rectangle in source pixels. The zero value captures
// the whole display.
type Crop struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether no crop is set.
func (c Crop) Empty() bool { return c.Width <= 0 || c.Height <= 0 }

// GrabParams describe a display grab written as raw frames to stdout.
type GrabParams struct {
	Input  Input
	Device string // avfoundation screen index, X11 display
	FPS    int

	// Output frame size; zero keeps the captured size.
	Width  int
	Height int

	Crop        Crop
	ShowCursor  bool
	ShowClicks  bool
	PixelFormat string // nv12, bgra

	ProgressSocket string
	Options        []OptionType
}
