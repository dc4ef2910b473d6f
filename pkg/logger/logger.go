// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the structured logger shared by every component.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gwerrors "github.com/absmach/mllproxy/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 30
)

// Config holds logger configuration.
type Config struct {
	// Level is one of error, warn, info or debug.
	Level string
	// Format is json or text.
	Format string
	// Folder, when set, additionally writes to a rotated file in it.
	Folder string
	// FileName is the log file name inside Folder.
	FileName string
	// MaxSizeMB rotates the file once it reaches this size.
	MaxSizeMB int
	// MaxAgeDays removes rotated files older than this.
	MaxAgeDays int
	// Output is the console destination. Defaults to os.Stdout.
	Output io.Writer
}

// File is a rotating log file. A nil *File is valid and does nothing.
type File struct {
	lj *lumberjack.Logger
}

// New creates a logger per cfg. The returned File is nil unless cfg.Folder
// is set; the caller closes it on exit.
func New(cfg Config) (*slog.Logger, *File, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var file *File
	if cfg.Folder != "" {
		if err := os.MkdirAll(cfg.Folder, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log folder: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "mllproxy.log"
		}
		file = &File{lj: &lumberjack.Logger{
			Filename:  filepath.Join(cfg.Folder, name),
			MaxSize:   orDefault(cfg.MaxSizeMB, defaultMaxSizeMB),
			MaxAge:    orDefault(cfg.MaxAgeDays, defaultMaxAgeDays),
			LocalTime: true,
		}}
		out = io.MultiWriter(out, file.lj)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("%w: unknown log format %q", gwerrors.ErrInvalidConfig, cfg.Format)
	}

	return slog.New(handler), file, nil
}

// ParseLevel maps a level name to a slog level. An empty name is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", gwerrors.ErrInvalidConfig, level)
	}
}

// Rotate starts a new log file.
func (f *File) Rotate() error {
	if f == nil {
		return nil
	}
	return f.lj.Rotate()
}

// RotateEvery rotates the file every interval until ctx is done.
func (f *File) RotateEvery(ctx context.Context, interval time.Duration) error {
	if f == nil || interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Rotate(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}
}

// Close closes the current log file.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	return f.lj.Close()
}

// Path returns the active log file path.
func (f *File) Path() string {
	if f == nil {
		return ""
	}
	return f.lj.Filename
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
