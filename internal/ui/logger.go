package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger writes styled status lines for migration commands. Debug output is
// suppressed unless Verbose is set. Safe for concurrent use by workers.
type Logger struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewLogger returns a logger writing to w. A nil w defaults to stderr.
func NewLogger(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{w: w, verbose: verbose}
}

// Verbose reports whether debug output is enabled.
func (l *Logger) Verbose() bool {
	if l == nil {
		return false
	}
	return l.verbose
}

func (l *Logger) line(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

// Infof writes an unstyled informational line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.line(fmt.Sprintf(format, args...))
}

// Debugf writes a muted line, only when verbose.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.line(RenderMuted(fmt.Sprintf(format, args...)))
}

// Successf writes a green check line.
func (l *Logger) Successf(format string, args ...interface{}) {
	l.line(RenderPass(IconPass+" ") + fmt.Sprintf(format, args...))
}

// Warnf writes a yellow warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.line(RenderWarn(IconWarn+" ") + fmt.Sprintf(format, args...))
}

// Errorf writes a red failure line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.line(RenderFail(IconFail+" ") + fmt.Sprintf(format, args...))
}

// Headerf writes a bold section header.
func (l *Logger) Headerf(format string, args ...interface{}) {
	l.line(RenderHeader(fmt.Sprintf(format, args...)))
}
