// Package process provides subprocess lifecycle management.
//
// Process wraps os/exec for one subprocess whose standard streams may carry
// data:
//   - stdin and stdout optionally handed to the caller as pipes
//   - stderr streamed to the logger with pluggable log-level parsing
//   - graceful shutdown with SIGINT and configurable timeout
//   - force kill with SIGKILL if graceful shutdown times out
//
// Example:
//
//	p := process.NewProcess("encode", "ffmpeg -f rawvideo -i - -f h264 -",
//	    process.Pipes{Stdin: true, Stdout: true}, logger)
//	p.SetLogParser(ffmpegLogger, ffmpeg.ParseLogLevel)
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Stop()
package process
