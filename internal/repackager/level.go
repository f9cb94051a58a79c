package repackager

import "strings"

// Level is the severity of one tool log line.
type Level int

// Tool log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

var levelPrefixes = []struct {
	prefix string
	level  Level
}{
	{"DEBUG:", LevelDebug},
	{"INFO:", LevelInfo},
	{"ERROR:", LevelError},
	{"D/", LevelDebug},
	{"I/", LevelInfo},
	{"E/", LevelError},
}

// Classify returns the severity of a tool line and the text without its prefix.
// Lines without a recognised prefix get fallback.
func Classify(line string, fallback Level) (Level, string) {
	for _, p := range levelPrefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return p.level, strings.TrimSpace(rest)
		}
	}

	return fallback, line
}
