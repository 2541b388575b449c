// Package dump implements the DumpSink entity: a scoped PCM file writer
// that starts life as out_<uuid>.pcm and is renamed exactly once, to
// out_<log_id>.pcm, when the vendor first reports a log id. A companion
// asr_vendor_result.jsonl sidecar records one JSON line per vendor
// response. Grounded on the original extension's LogIdDumperManager
// (out_<uuid>.pcm -> out_<log_id>.pcm rename-in-place) and Soniox's
// dumper.py (scoped file handle lifecycle).
package dump

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Sink owns one PCM dump file (plus its JSONL sidecar) between Open and
// Close; the session orchestrator keeps one open across reconnects for the
// whole session. Not safe for concurrent use; owned
// exclusively by the session's event loop.
type Sink struct {
	dir    string
	logger *log.Logger

	currentPath string
	logID       string
	handle      *os.File

	jsonlPath   string
	jsonlHandle *os.File
}

// New returns a Sink rooted at dir. Nothing is created on disk until Open
// is called.
func New(dir string, logger *log.Logger) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{dir: dir, logger: logger}
}

// Open creates out_<uuid>.pcm under dir and opens it for writing, plus the
// shared asr_vendor_result.jsonl sidecar in append mode. Safe to call again
// after Close to start a fresh dump for a new connection.
func (s *Sink) Open() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("dump: create dir: %w", err)
	}

	s.logID = ""
	s.currentPath = filepath.Join(s.dir, fmt.Sprintf("out_%s.pcm", uuid.New().String()))
	handle, err := os.OpenFile(s.currentPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("dump: open %s: %w", s.currentPath, err)
	}
	s.handle = handle

	s.jsonlPath = filepath.Join(s.dir, "asr_vendor_result.jsonl")
	jsonlHandle, err := os.OpenFile(s.jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Printf("dump: open vendor result sidecar failed: %v", err)
	} else {
		s.jsonlHandle = jsonlHandle
	}
	return nil
}

// Write appends data to the current PCM file. Writes during the narrow
// window between Close-for-rename and the reopen in BindLogID are
// tolerated: they are dropped with a warning rather than failing the
// session, per spec.md §4.3.
func (s *Sink) Write(data []byte) {
	if s.handle == nil {
		s.logger.Printf("dump: write dropped, no open handle (rename in progress?)")
		return
	}
	if _, err := s.handle.Write(data); err != nil {
		s.logger.Printf("dump: write failed: %v", err)
	}
}

// WriteVendorResult appends one JSON line to asr_vendor_result.jsonl for a
// vendor response. batch is marshalled with sonic for parity with the
// streaming vendor client's JSON codec.
func (s *Sink) WriteVendorResult(batch interface{}) {
	if s.jsonlHandle == nil {
		return
	}
	data, err := sonic.Marshal(batch)
	if err != nil {
		s.logger.Printf("dump: marshal vendor result failed: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.jsonlHandle.Write(data); err != nil {
		s.logger.Printf("dump: append vendor result failed: %v", err)
	}
}

// BindLogID renames the current file to out_<id>.pcm the first time it is
// called. A second call with the same id is a no-op; a call with a
// different id is a no-op warning — the file keeps its existing name.
func (s *Sink) BindLogID(id string) {
	if id == "" {
		return
	}
	if s.logID == id {
		return
	}
	if s.logID != "" {
		s.logger.Printf("dump: log_id already bound to %q, ignoring %q", s.logID, id)
		return
	}

	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.logger.Printf("dump: close before rename failed: %v", err)
		}
		s.handle = nil
	}

	newPath := filepath.Join(s.dir, fmt.Sprintf("out_%s.pcm", id))
	if s.currentPath != "" {
		if _, err := os.Stat(s.currentPath); err == nil {
			if err := os.Rename(s.currentPath, newPath); err != nil {
				s.logger.Printf("dump: rename %s -> %s failed: %v", s.currentPath, newPath, err)
				newPath = s.currentPath
			}
		}
	}
	s.currentPath = newPath
	s.logID = id

	handle, err := os.OpenFile(s.currentPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Printf("dump: reopen after rename failed: %v", err)
		return
	}
	s.handle = handle
}

// CurrentPath returns the dump file's current on-disk path.
func (s *Sink) CurrentPath() string { return s.currentPath }

// LogID returns the bound log id, or "" if none has been bound yet.
func (s *Sink) LogID() string { return s.logID }

// Close flushes and closes both the PCM file and the JSONL sidecar.
func (s *Sink) Close() error {
	var firstErr error
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			firstErr = err
		}
		s.handle = nil
	}
	if s.jsonlHandle != nil {
		if err := s.jsonlHandle.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.jsonlHandle = nil
	}
	return firstErr
}
