package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// OptionType names an input tweak applied to the demuxer that feeds ffmpeg.
type OptionType string

const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
)

// inputOption describes how an option is rendered. Options sharing a
// non-empty group are mutually exclusive.
type inputOption struct {
	args      string
	fflags    string
	group     string
	conflicts OptionType
}

var inputOptions = map[OptionType]inputOption{
	OptionGeneratePTS:        {fflags: "+genpts", conflicts: OptionWallclockTimestamp},
	OptionIgnoreErrors:       {args: "-err_detect ignore_err"},
	OptionWallclockTimestamp: {args: "-use_wallclock_as_timestamps 1", conflicts: OptionGeneratePTS},
	OptionThreadQueue1024:    {args: "-thread_queue_size 1024", group: "thread_queue"},
	OptionThreadQueue4096:    {args: "-thread_queue_size 4096", group: "thread_queue"},
	OptionLowLatency:         {args: "-flags +low_delay", fflags: "+nobuffer"},
}

// KnownOptions returns every option key in sorted order.
func KnownOptions() []OptionType {
	keys := make([]OptionType, 0, len(inputOptions))
	for k := range inputOptions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseOptions converts option keys from configuration, rejecting unknown
// keys.
func ParseOptions(keys []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(keys))
	for _, k := range keys {
		key := OptionType(strings.TrimSpace(k))
		if _, ok := inputOptions[key]; !ok {
			return nil, fmt.Errorf("unknown ffmpeg option %q (known: %v)", k, KnownOptions())
		}
		opts = append(opts, key)
	}
	return opts, nil
}

// ValidateOptions rejects two options from one exclusive group and
// options that conflict. Unknown keys are ignored.
func ValidateOptions(opts []OptionType) error {
	groups := make(map[string]OptionType)
	for _, key := range opts {
		opt, ok := inputOptions[key]
		if !ok {
			continue
		}
		if opt.group != "" {
			if prev, taken := groups[opt.group]; taken && prev != key {
				return fmt.Errorf("ffmpeg options %s and %s are exclusive", prev, key)
			}
			groups[opt.group] = key
		}
		if opt.conflicts != "" && slices.Contains(opts, opt.conflicts) {
			return fmt.Errorf("ffmpeg option %s conflicts with %s", key, opt.conflicts)
		}
	}
	return nil
}

// writeInputOptions appends the arguments of opts to cmd. All fflags are
// merged into a single -fflags argument after the others.
func writeInputOptions(cmd *strings.Builder, opts []OptionType) {
	var fflags strings.Builder
	for _, key := range opts {
		opt, ok := inputOptions[key]
		if !ok {
			continue
		}
		if opt.args != "" {
			cmd.WriteString(" " + opt.args)
		}
		fflags.WriteString(opt.fflags)
	}
	if fflags.Len() > 0 {
		cmd.WriteString(" -fflags " + fflags.String())
	}
}
