// Package logging hands out per-module slog loggers for screencapture.
//
// Every logger writes to one console writer, stderr by default since stdout
// may carry the encoded stream. With Config.Journal set and journald
// reachable, records are also sent to the systemd journal with their
// attributes as upper-cased fields.
//
// Call Initialize once at startup, then ask for loggers by module name:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"encoder": "debug"},
//	})
//	logger := logging.GetLogger("encoder")
//	logger.Debug("Session created", "codec", "h264")
//
// Loggers fetched before Initialize log at info to the console and are
// reconfigured in place when Initialize runs. SetModuleLevel changes one
// module's level while the process runs.
package logging
