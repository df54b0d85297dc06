package monitoring

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions controls the rotating log file.
type LogFileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// OpenLogFile returns a rotating writer for opts.Path. The caller owns the
// returned writer and should Close it on shutdown.
func OpenLogFile(opts LogFileOptions) io.WriteCloser {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

// RedirectStdLog sends the standard logger to stderr and, when opts.Path is
// set, to a rotating file as well. It returns a closer for the file (a no-op
// when no file is configured).
func RedirectStdLog(opts LogFileOptions) io.Closer {
	if opts.Path == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil)
	}
	f := OpenLogFile(opts)
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return f
}
