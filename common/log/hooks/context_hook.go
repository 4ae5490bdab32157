package hooks

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Frames belonging to logrus itself or to this hook are skipped when looking for the caller.
var skipPrefixes = []string{
	"github.com/sirupsen/logrus",
	"github.com/reddwarf/sgs/common/log/hooks.contextHook",
}

type contextHook struct {
	fieldName string
}

// NewContextHook returns a hook that adds the calling file:line to every entry,
// trimmed to the path below the module root.
func NewContextHook() log.Hook {
	return contextHook{fieldName: "file:line"}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skipFrame(frame.Function) {
			entry.Data[hook.fieldName] = fmt.Sprintf("%s:%d", trimFile(frame.File), frame.Line)
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skipFrame(function string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(function, p) {
			return true
		}
	}
	return false
}

func trimFile(file string) string {
	parts := strings.Split(file, "sgs/")
	return parts[len(parts)-1]
}
