package ffmpeg

import "strings"

// ErrorKind is the failure class of a transcoder output line.
type ErrorKind string

// Error kinds reported by ClassifyLine.
const (
	KindNetwork ErrorKind = "network"
	KindSource  ErrorKind = "source"
	KindFormat  ErrorKind = "ffmpeg"
	KindGeneric ErrorKind = "unknown"
)

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"network is unreachable",
	"no route to host",
	"failed to resolve hostname",
	"name or service not known",
	"temporary failure in name resolution",
	"broken pipe",
	"i/o error",
}

var sourcePatterns = []string{
	"403 forbidden",
	"404 not found",
	"server returned 403",
	"server returned 404",
	"http error 403",
	"http error 404",
}

var formatPatterns = []string{
	"invalid data found",
	"error while decoding",
	"decode_slice_header error",
	"non-existing pps",
	"invalid nal unit",
	"missing picture in access unit",
	"corrupt",
	"malformed",
	"could not find codec parameters",
}

// ClassifyLine reports whether line describes a failure and which kind.
// Known substrings win regardless of level; otherwise any error/fatal line,
// or an unprefixed line mentioning an error, is KindGeneric.
func ClassifyLine(line string) (ErrorKind, bool) {
	level, msg := ParseLogLevel(line)
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, networkPatterns):
		return KindNetwork, true
	case containsAny(lower, sourcePatterns):
		return KindSource, true
	case containsAny(lower, formatPatterns):
		return KindFormat, true
	}

	switch level {
	case "panic", "fatal", "error":
		return KindGeneric, true
	case "info":
		if line == msg && (strings.Contains(lower, "error") || strings.Contains(lower, "failed")) {
			return KindGeneric, true
		}
	}
	return "", false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ParseLogLevel splits an ffmpeg line produced with -loglevel level+... into
// its level and message. Both "[error] msg" and
// "[component @ 0x...] [error] msg" are understood; the component prefix is
// kept in msg. Lines without a level prefix are reported as info.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	if first := line[1:end]; isLogLevel(first) {
		return first, line[end+2:]
	}

	component, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 && isLogLevel(rest[1:next]) {
			return rest[1:next], component + rest[next+2:]
		}
	}
	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
