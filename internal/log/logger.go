// SPDX-License-Identifier: MIT
/*
Package log builds the application logger.

A Logger is constructed once in main and handed to every component; there is no
package-level logger state. Both execution contexts log through entries derived
from the same Logger, but the capture callback itself never logs.

Output goes to stdout and, when a file is configured, to a size-rotated log
file as well. Source locations are included when ReportCaller is set.
*/
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level        string // DEBUG, INFO, WARN/WARNING, ERROR or FATAL.
	Format       string // "text" or "json".
	File         string // Rotating log file; empty disables file output.
	MaxSizeMB    int    // Rotate after this many megabytes.
	MaxBackups   int    // Rotated files to keep.
	MaxAgeDays   int    // Days to keep rotated files.
	ReportCaller bool   // Include file:line of the call site.
}

// Logger is a logrus logger that owns its rotating file, if any.
type Logger struct {
	*logrus.Logger
	file    *lumberjack.Logger
	console io.Writer
}

// ParseLevel converts a level name (case-insensitive) to a logrus level.
// Returns InfoLevel and false if the string is not recognized.
func ParseLevel(levelStr string) (logrus.Level, bool) {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return logrus.DebugLevel, true
	case "INFO":
		return logrus.InfoLevel, true
	case "WARN", "WARNING":
		return logrus.WarnLevel, true
	case "ERROR":
		return logrus.ErrorLevel, true
	case "FATAL":
		return logrus.FatalLevel, true
	default:
		return logrus.InfoLevel, false
	}
}

// New builds a logger writing to stdout and, if opts.File is set, to a
// rotating file.
func New(opts Options) (*Logger, error) {
	return NewWithWriter(opts, os.Stdout)
}

// NewWithWriter is New with a custom console writer.
func NewWithWriter(opts Options, console io.Writer) (*Logger, error) {
	level, ok := ParseLevel(opts.Level)
	if !ok && opts.Level != "" {
		return nil, fmt.Errorf("unknown log level %q", opts.Level)
	}

	l := &Logger{Logger: logrus.New()}
	l.SetLevel(level)
	l.SetReportCaller(opts.ReportCaller)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000000",
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
	}
	l.setConsole(console)
	return l, nil
}

func (l *Logger) setConsole(console io.Writer) {
	l.console = console
	var out io.Writer
	switch {
	case console != nil && l.file != nil:
		out = io.MultiWriter(console, l.file)
	case console != nil:
		out = console
	case l.file != nil:
		out = l.file
	default:
		out = io.Discard
	}
	l.SetOutput(out)
}

// MuteConsole stops console output, keeping the log file, until the returned
// function is called. It is meant for a full-screen renderer owning the
// terminal; errors reported after restore reach the console again.
func (l *Logger) MuteConsole() (restore func()) {
	prev := l.console
	l.setConsole(nil)
	return func() { l.setConsole(prev) }
}

// Component returns an entry tagged with the component name.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Close closes the rotating file. It is a no-op without file output.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything, for tests and for callers
// that were not given one.
func Discard() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetOutput(io.Discard)
	return l
}
