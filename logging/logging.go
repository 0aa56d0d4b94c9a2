// Package logging builds the process logger: colored console output plus an
// optional size-rotated plain-text file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02 15:04:05"

// Config controls the level and the rotated log file. An empty File disables
// file output.
type Config struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	JSON       bool
}

// FileHook writes every entry to a separate writer with its own formatter.
type FileHook struct {
	formatter logrus.Formatter
	writer    io.Writer
}

func newFileHook(w io.Writer, f logrus.Formatter) *FileHook {
	return &FileHook{writer: w, formatter: f}
}

func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *FileHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(b)
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to stdout and, when cfg.File is set, to a
// lumberjack-rotated file. The returned Closer releases the file.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			ForceColors:            true,
			FullTimestamp:          true,
			TimestampFormat:        timestampFormat,
			DisableLevelTruncation: true,
			PadLevelText:           true,
		})
	}

	// Libraries that log through the global logrus instance stay quiet.
	logrus.SetOutput(io.Discard)

	if cfg.File == "" {
		return log, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.AddHook(newFileHook(lj, &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}))

	return log, lj, nil
}

// Discard returns a logger that drops everything. Used by tests and by
// commands that print their own output.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
