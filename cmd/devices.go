package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/source"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var input string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List screens and audio devices usable as capture inputs",
		Long: `Asks ffmpeg for the capture devices of the grab input. The index printed for a screen ` +
			`is the value of --device for the record command.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			in := source.DefaultInput()
			if input != "" {
				in = ffmpeg.Input(input)
			}

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()
			devices, err := source.ListDevices(ctx, in, logging.GetLogger("source"))
			if err != nil {
				return err
			}

			out := c.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No capture devices found")
				return nil
			}
			for _, d := range devices {
				marker := ""
				if d.Screen() {
					marker = " (screen)"
				}
				fmt.Fprintf(out, "%-5s [%s] %s%s\n", d.Kind, d.Index, d.Name, marker)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "ffmpeg grab input (default: platform input)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time limit for querying ffmpeg")
	return cmd
}
