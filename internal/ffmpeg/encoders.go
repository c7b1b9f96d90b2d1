package ffmpeg

import (
	"bufio"
	"io"
	"strings"
)

// Encoder is one entry of `ffmpeg -encoders`.
type Encoder struct {
	Name        string
	Description string
	Codec       string // codec the encoder produces, e.g. h264, hevc
	Video       bool
	Hardware    bool
}

// ParseEncoderList parses the output of BuildEncodersListCommand.
func ParseEncoderList(r io.Reader) ([]Encoder, error) {
	var encoders []Encoder
	inList := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			// The legend ends with a dashed separator
			inList = strings.HasPrefix(line, "------")
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		enc := Encoder{
			Name:     fields[1],
			Video:    fields[0][0] == 'V',
			Hardware: isHardwareEncoder(fields[1]),
		}
		desc := strings.TrimSpace(strings.Join(fields[2:], " "))
		if i := strings.LastIndex(desc, "(codec "); i != -1 && strings.HasSuffix(desc, ")") {
			enc.Codec = desc[i+len("(codec ") : len(desc)-1]
			desc = strings.TrimSpace(desc[:i])
		}
		enc.Description = desc
		encoders = append(encoders, enc)
	}
	return encoders, scanner.Err()
}

// VideoEncodersFor returns the video encoders producing codec, hardware
// encoders first.
func VideoEncodersFor(encoders []Encoder, codec string) []Encoder {
	var hw, sw []Encoder
	for _, e := range encoders {
		if !e.Video || e.Codec != codec {
			continue
		}
		if e.Hardware {
			hw = append(hw, e)
		} else {
			sw = append(sw, e)
		}
	}
	return append(hw, sw...)
}
