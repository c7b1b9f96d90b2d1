package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/compressor/ffmpegenc"
	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
)

// CreateCodecsCmd creates the codecs command.
func CreateCodecsCmd() *cobra.Command {
	var listFFmpeg bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "codecs",
		Short: "List compressor backends and the codecs they encode",
		Long: `Prints every registered compressor backend with its availability on this system. ` +
			`With --ffmpeg the video encoders reported by the installed ffmpeg are listed as well.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			out := c.OutOrStdout()
			printBackends(out, NewRegistry(ffmpegenc.Config{}))
			if !listFFmpeg {
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			encoders, err := ffmpegenc.ListEncoders(ctx, logging.GetLogger("ffmpeg"))
			if err != nil {
				return fmt.Errorf("list ffmpeg encoders: %w", err)
			}
			printEncoders(out, encoders)
			return nil
		},
	}
	cmd.Flags().BoolVar(&listFFmpeg, "ffmpeg", false, "Also list the encoders of the installed ffmpeg")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time limit for querying ffmpeg")
	cmd.SetErr(os.Stderr)
	return cmd
}

func printBackends(w io.Writer, registry *compressor.Registry) {
	fmt.Fprintln(w, "Backends:")
	for _, f := range registry.All() {
		kind := "software"
		if f.Hardware() {
			kind = "hardware"
		}
		status := "available"
		if !f.Available() {
			status = "unavailable"
		}
		codecs := make([]string, 0, len(f.Codecs()))
		for _, codec := range f.Codecs() {
			codecs = append(codecs, string(codec))
		}
		fmt.Fprintf(w, "  %-14s %-9s %-12s %s\n", f.Name(), kind, status, strings.Join(codecs, ", "))
	}
}

func printEncoders(w io.Writer, encoders []ffmpeg.Encoder) {
	for _, codec := range []compressor.CodecType{compressor.CodecTypeH264, compressor.CodecTypeHEVC} {
		fmt.Fprintf(w, "\nffmpeg %s encoders:\n", codec)
		matches := ffmpeg.VideoEncodersFor(encoders, string(codec))
		if len(matches) == 0 {
			fmt.Fprintln(w, "  (none)")
			continue
		}
		for _, e := range matches {
			hw := ""
			if e.Hardware {
				hw = " [hw]"
			}
			fmt.Fprintf(w, "  %-20s %s%s\n", e.Name, e.Description, hw)
		}
	}
}
