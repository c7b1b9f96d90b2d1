package ffmpeg

import "strings"

// levelTags are the tags printed by -loglevel level+<level>.
var levelTags = map[string]bool{
	"quiet": true, "panic": true, "fatal": true, "error": true, "warning": true,
	"info": true, "verbose": true, "debug": true, "trace": true,
}

// ParseLogLevel splits one stderr line into its ffmpeg level and message.
// A leading "[component @ 0x...]" stays in the message, only the level tag
// is removed. Untagged lines are info; -stats progress lines are debug.
func ParseLogLevel(line string) (level, msg string) {
	line = strings.TrimRight(line, "\r")
	if strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") {
		return "debug", line
	}

	rest, component := line, ""
	if tag, body, ok := cutBracket(rest); ok && strings.Contains(tag, " @ ") {
		component, rest = line[:len(line)-len(body)], body
	}
	if tag, body, ok := cutBracket(rest); ok && levelTags[tag] {
		return tag, component + body
	}
	return "info", line
}

// cutBracket splits "[tag] body".
func cutBracket(s string) (tag, body string, ok bool) {
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end == -1 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}
