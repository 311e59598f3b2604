package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileLogger appends audit events as JSON lines to a rotating file
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	MaxSize  int64  // Max file size in bytes before rotation (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.basePath, "audit.log")
}

func (l *FileLogger) openLogFile() error {
	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

func (l *FileLogger) rotate() error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close audit log file: %w", err)
		}
		l.file = nil
	}

	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log file: %w", err)
	}
	if err := l.cleanupOldFiles(); err != nil {
		return err
	}
	return l.openLogFile()
}

// cleanupOldFiles removes the oldest rotated files beyond the retention limit.
// Rotated names embed a sortable timestamp.
func (l *FileLogger) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list rotated audit logs: %w", err)
	}
	if len(files) <= l.maxFiles {
		return nil
	}
	sort.Strings(files)
	for _, file := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove old audit log %s: %w", file, err)
		}
	}
	return nil
}

// Log logs an audit event to the file
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log file is closed")
	}
	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
