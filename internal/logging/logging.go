package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is a simple leveled logger that writes to the console. Messages
// carry alternating key/value pairs appended as key=value.
type Logger struct {
	*log.Logger
}

// NewLogger creates a new Logger.
func NewLogger() *Logger {
	return &Logger{
		Logger: log.New(os.Stdout, "", log.LstdFlags),
	}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.Print("INFO: " + msg + format(args))
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.Print("ERROR: " + msg + format(args))
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.Print("DEBUG: " + msg + format(args))
}

func format(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 != 0 {
		fmt.Fprintf(&sb, " %v", args[len(args)-1])
	}
	return sb.String()
}
