// Package logging configures the shared application logger. The pipeline
// math stays silent; the lifecycle layers (app, server, store, capture)
// log through this package.
package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Fields is re-exported so callers do not import logrus directly.
type Fields = logrus.Fields

// Options controls logger construction. The zero value logs to stderr at
// info level without a file.
type Options struct {
	// Level is a logrus level name; empty means info.
	Level string
	// Dir enables rotated file output under the given directory.
	Dir string
}

// New builds the process-wide logger. The first call wins; subsequent
// calls return the same logger regardless of options.
func New(opts Options) *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			TimestampFormat: "02 Jan 06 - 15:04:05",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
			},
		})
		logger.SetReportCaller(true)

		writers := []io.Writer{os.Stderr}
		if opts.Dir != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, "mudra.log"),
				LocalTime:  true,
				Compress:   true,
				MaxSize:    50,
				MaxAge:     7,
				MaxBackups: 3,
			})
		}
		logger.SetOutput(io.MultiWriter(writers...))
	})
	return logger
}

// L returns the shared logger, building a stderr-only one on first use.
func L() *logrus.Logger {
	return New(Options{})
}
