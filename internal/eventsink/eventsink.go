// Package eventsink defines the narrow logging surface the core emits
// through. The webview host owns real logging infrastructure; this package
// only carries the interface and a plain stdlib-backed implementation.
package eventsink

import (
	"fmt"
	"log"
	"os"
	"sort"
)

// Sink receives structured events from the core. Implementations must be
// safe for concurrent use.
type Sink interface {
	Emit(event string, fields map[string]any)
}

// LogSink renders events through a *log.Logger, one line per event, with
// fields sorted by key for deterministic output.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink wraps logger. A nil logger falls back to stderr.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event string, fields map[string]any) {
	if len(fields) == 0 {
		s.logger.Printf("%s", event)
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	line := event
	for _, k := range keys {
		line += " " + k + "="
		switch v := fields[k].(type) {
		case string:
			line += v
		default:
			line += toString(v)
		}
	}
	s.logger.Printf("%s", line)
}

func toString(v any) string {
	if v == nil {
		return "<nil>"
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return fmt.Sprintf("%v", v)
}
