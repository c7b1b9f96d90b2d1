package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/h265"
	"github.com/spf13/cobra"

	"github.com/smazurov/screencapture/internal/encoder"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/sink"
)

// ReframeStats summarizes one conversion.
type ReframeStats struct {
	Units         int
	ParameterSets int
	KeyFrames     int
	BytesIn       int
	BytesOut      int
	// TailBytes were dropped because they did not form a whole record.
	TailBytes int
}

// Reframe converts length-prefixed NAL units read from r to an Annex B
// stream on w. A malformed tail is reported in the stats, not as an error.
func Reframe(r io.Reader, w io.Writer, codec encoder.Codec) (ReframeStats, error) {
	var stats ReframeStats
	buf, err := io.ReadAll(r)
	if err != nil {
		return stats, fmt.Errorf("read input: %w", err)
	}
	stats.BytesIn = len(buf)

	classify, err := classifier(codec)
	if err != nil {
		return stats, err
	}

	out := make([]byte, 0, len(buf))
	s := encoder.NewUnitScanner(buf)
	for s.Scan() {
		unit := s.Unit()
		out = unit.AppendAnnexB(out)
		stats.Units++

		if len(unit.Bytes) == 0 {
			continue
		}
		end := len(buf) - s.Remaining()
		record := buf[end-len(unit.Bytes)-4 : end]
		paramSet, key := classify(record)
		if paramSet {
			stats.ParameterSets++
		}
		if key {
			stats.KeyFrames++
		}
	}
	if tailErr := s.Err(); tailErr != nil {
		if !errors.Is(tailErr, encoder.ErrMalformedTail) {
			return stats, tailErr
		}
		stats.TailBytes = s.Remaining()
	}

	n, err := w.Write(out)
	stats.BytesOut = n
	if err != nil {
		return stats, fmt.Errorf("write output: %w", err)
	}
	return stats, nil
}

// classifier returns a function reporting whether a length-prefixed
// record is a parameter set or a key frame slice.
func classifier(codec encoder.Codec) (func(record []byte) (paramSet, key bool), error) {
	switch codec {
	case encoder.CodecH264:
		return func(record []byte) (bool, bool) {
			switch h264.NALUType(record) {
			case h264.NALUTypeSPS, h264.NALUTypePPS:
				return true, false
			}
			return false, h264.IsKeyframe(record)
		}, nil
	case encoder.CodecHEVC:
		return func(record []byte) (bool, bool) {
			switch h265.NALUType(record) {
			case h265.NALUTypeVPS, h265.NALUTypeSPS, h265.NALUTypePPS:
				return true, false
			}
			return false, h265.IsKeyframe(record)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}

// CreateReframeCmd creates the reframe command.
func CreateReframeCmd() *cobra.Command {
	var codecName string

	cmd := &cobra.Command{
		Use:   "reframe <in> [out]",
		Short: "Convert a length-prefixed NAL unit file to an Annex B stream",
		Long: `Reads 4-byte big-endian length-prefixed NAL units (AVCC/HVCC sample data) and writes ` +
			`them with start codes. Use "-" for stdin; the output defaults to stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := logging.GetLogger("main")
			codec, err := encoder.ParseCodec(codecName)
			if err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if args[0] != sink.Stdout {
				f, openErr := os.Open(args[0])
				if openErr != nil {
					return openErr
				}
				defer f.Close()
				in = f
			}

			outPath := sink.Stdout
			if len(args) == 2 {
				outPath = args[1]
			}
			out, err := sink.Open(outPath, logging.GetLogger("sink"))
			if err != nil {
				return err
			}

			stats, err := Reframe(in, out, codec)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			logStats(logger, stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", string(encoder.CodecH264), "Codec of the input (h264, hevc)")
	return cmd
}

func logStats(logger *slog.Logger, stats ReframeStats) {
	logger.Info("Reframed stream",
		"units", stats.Units,
		"parameter_sets", stats.ParameterSets,
		"key_frames", stats.KeyFrames,
		"bytes_in", stats.BytesIn,
		"bytes_out", stats.BytesOut)
	if stats.TailBytes > 0 {
		logger.Warn("Dropped trailing bytes that do not form a whole record", "bytes", stats.TailBytes)
	}
}
