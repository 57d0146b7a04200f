package report

import (
	"bytes"
	"fmt"
)

// LogCapture intercepts log output so the TUI's table isn't clobbered by
// interleaved log lines: it keeps only the most recent N messages
// instead of writing straight to the terminal, and the TUI shows them in
// a log panel beneath its table on every redraw.
type LogCapture struct {
	keep     int
	messages []string
}

// NewLogCapture creates a LogCapture retaining at most keep messages (0
// means unbounded).
func NewLogCapture(keep int) *LogCapture {
	return &LogCapture{keep: keep}
}

// Write implements io.Writer, so LogCapture can be installed via
// log.SetOutput or handed to logwrap.Instance.SetLogger's sink.
func (lc *LogCapture) Write(p []byte) (n int, err error) {
	lc.messages = append(lc.messages, string(bytes.TrimSpace(p)))
	if lc.keep > 0 {
		lc.truncate()
	}
	return len(p), nil
}

func (lc *LogCapture) truncate() {
	if delta := len(lc.messages) - lc.keep; delta > 0 {
		lc.messages = lc.messages[delta:]
	}
}

// Messages returns a snapshot of the retained log lines, most recent
// last.
func (lc *LogCapture) Messages() []string {
	out := make([]string, len(lc.messages))
	copy(out, lc.messages)
	return out
}

// captureLogger adapts a LogCapture to the logwrap.Logger interface, so
// icmpcodec/socketmux/engine's SetLogger can be pointed at it: every
// leveled call becomes one retained, level-prefixed line instead of
// going to the terminal, where it would tear up the TUI's table.
type captureLogger struct {
	lc *LogCapture
}

// NewLogger wraps lc as a logwrap.Logger.
func NewLogger(lc *LogCapture) captureLogger {
	return captureLogger{lc: lc}
}

func (c captureLogger) Debugf(format string, args ...interface{}) {
	c.write("DEBUG", format, args...)
}

func (c captureLogger) Infof(format string, args ...interface{}) {
	c.write("INFO", format, args...)
}

func (c captureLogger) Warnf(format string, args ...interface{}) {
	c.write("WARN", format, args...)
}

func (c captureLogger) Errorf(format string, args ...interface{}) {
	c.write("ERROR", format, args...)
}

func (c captureLogger) write(level, format string, args ...interface{}) {
	fmt.Fprintf(c.lc, "%s "+format, append([]interface{}{level}, args...)...)
}
