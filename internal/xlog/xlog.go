// Package xlog is a small leveled logger shared by every package in this
// module, in place of ad-hoc fmt.Println calls.
package xlog

import (
	"fmt"
	"log"
	"os"
)

// Level selects which severities are emitted.
type Level int

const (
	// LevelNone disables all logging.
	LevelNone Level = iota
	// LevelFatal enables only fatal logging.
	LevelFatal
	// LevelError enables error and fatal logging.
	LevelError
	// LevelWarn enables warnings and everything above.
	LevelWarn
	// LevelInfo enables info and everything above.
	LevelInfo
	// LevelDebug enables all logging.
	LevelDebug
)

var current = LevelInfo

// SetLevel changes the process-wide logging threshold.
func SetLevel(l Level) {
	current = l
}

var (
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	fatalLogger *log.Logger
)

func init() {
	debugLogger = log.New(os.Stdout, "[DEBUG] ", log.Ldate|log.Ltime|log.Lshortfile)
	infoLogger = log.New(os.Stdout, "[INFO] ", log.Ldate|log.Ltime|log.Lshortfile)
	warnLogger = log.New(os.Stdout, "[WARN] ", log.Ldate|log.Ltime|log.Lshortfile)
	errorLogger = log.New(os.Stderr, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
	fatalLogger = log.New(os.Stderr, "[FATAL] ", log.Ldate|log.Ltime|log.Lshortfile)
}

// Debug logs debug information.
func Debug(format string, v ...interface{}) {
	if current >= LevelDebug {
		debugLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Info logs informational messages.
func Info(format string, v ...interface{}) {
	if current >= LevelInfo {
		infoLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Warn logs a condition that is tolerated but worth surfacing, such as an
// ignored invalid free.
func Warn(format string, v ...interface{}) {
	if current >= LevelWarn {
		warnLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Error logs error information.
func Error(format string, v ...interface{}) {
	if current >= LevelError {
		errorLogger.Output(2, fmt.Sprintf(format, v...))
	}
}

// Fatalf logs a fatal message and panics. Reserved for invariant violations
// the spec designates as fatal assertions (double-free of a small block,
// internal corruption) — never for ordinary invalid-free handling, which is
// silently ignored per §7.
func Fatalf(format string, v ...interface{}) {
	if current >= LevelFatal {
		fatalLogger.Output(2, fmt.Sprintf(format, v...))
	}
	panic(fmt.Sprintf(format, v...))
}
