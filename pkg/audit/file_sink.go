package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrStorageUnavailable is returned when the durable audit sink cannot be
// written to. Callers treat it as a degraded state, not a fatal one.
var ErrStorageUnavailable = errors.New("audit: storage unavailable")

// Sink is the durable destination for flushed audit events.
type Sink interface {
	// Write appends a batch of events to durable storage.
	Write(events []*Event) error

	// CheckRotate rotates the backing storage if it crossed the size
	// threshold and prunes rotated files beyond the retention count.
	CheckRotate() error

	// Close flushes and closes the sink.
	Close() error
}

// FileSinkConfig configures the file sink.
type FileSinkConfig struct {
	Dir      string // directory for audit log files
	MaxSize  int64  // rotation threshold in bytes
	MaxFiles int    // number of rotated files to keep
}

// FileSink writes audit events as newline-delimited JSON to audit.log in the
// configured directory, rotating by size and pruning old rotated files.
type FileSink struct {
	cfg     FileSinkConfig
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	written int64
}

// NewFileSink creates the directory if needed and opens the current log file.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create audit log directory: %v", ErrStorageUnavailable, err)
	}

	s := &FileSink{cfg: cfg}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.cfg.Dir, "audit.log")
}

func (s *FileSink) open() error {
	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open audit log: %v", ErrStorageUnavailable, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: stat audit log: %v", ErrStorageUnavailable, err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	s.written = info.Size()
	return nil
}

// Write appends events as NDJSON, rotating first if the threshold was crossed.
func (s *FileSink) Write(events []*Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	if s.written >= s.cfg.MaxSize {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}

	for _, e := range events {
		if err := s.encoder.Encode(e); err != nil {
			return fmt.Errorf("%w: write audit event: %v", ErrStorageUnavailable, err)
		}
	}
	if info, err := s.file.Stat(); err == nil {
		s.written = info.Size()
	}
	return nil
}

// CheckRotate rotates if the current file crossed the size threshold.
func (s *FileSink) CheckRotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.written < s.cfg.MaxSize {
		return nil
	}
	return s.rotateLocked()
}

// rotateLocked renames the current file to a timestamped name, reopens a
// fresh one and prunes the oldest rotated files beyond MaxFiles.
func (s *FileSink) rotateLocked() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000000000")
	rotated := filepath.Join(s.cfg.Dir, fmt.Sprintf("audit-%s.log", stamp))
	if err := os.Rename(s.currentPath(), rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: rotate audit log: %v", ErrStorageUnavailable, err)
	}

	s.pruneLocked()
	return s.open()
}

// pruneLocked removes rotated files beyond the retention count. The timestamp
// in the filename sorts lexicographically, oldest first.
func (s *FileSink) pruneLocked() {
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "audit-*.log"))
	if err != nil || len(files) <= s.cfg.MaxFiles {
		return
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-s.cfg.MaxFiles] {
		if err := os.Remove(f); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", f, err)
		}
	}
}

// ReadAll decodes every event in the current log file. Intended for tests and
// operational tooling, not the hot path.
func (s *FileSink) ReadAll() ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		return nil, fmt.Errorf("%w: read audit log: %v", ErrStorageUnavailable, err)
	}

	var out []*Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: decode audit event: %v", ErrStorageUnavailable, err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// Close closes the current log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
