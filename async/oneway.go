package async

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
)

// PanicError is a recovered panic value together with the stack of the
// goroutine that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// NewPanicError captures the current goroutine's stack. Call it from the
// deferred function that recovered v.
func NewPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}

var (
	logger atomic.Pointer[slog.Logger]

	// exit ends the process after a one-way failure.
	exit = os.Exit
)

// SetLogger replaces the logger used to report one-way failures. A nil
// logger restores slog.Default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

func currentLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// OneWay runs fn immediately on the calling goroutine as a fire-and-forget
// unit. Nobody receives its outcome, so a panic escaping fn is logged and
// terminates the process with exit status 2. Work that needs recoverable
// errors should collect them itself, for example through a scope.
func OneWay(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			pe := NewPanicError(r)
			currentLogger().Error("async: one-way task panicked",
				slog.Any("panic", pe.Value),
				slog.String("stack", pe.Stack))
			exit(2)
		}
	}()
	fn()
}
