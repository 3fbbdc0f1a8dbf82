// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wingedpig/servicedeck/internal/metrics"
)

// TimestampFormat is the ISO-8601 form written in front of each file line.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Publisher receives every entry the sink writes.
type Publisher interface {
	Publish(serviceID string, entry Entry)
}

// Sink appends entries to per-service log files and forwards them to a
// Publisher. File errors are reported to the supervisor's own log and never
// returned to callers.
type Sink struct {
	pub     Publisher
	metrics *metrics.Metrics

	mu    sync.Mutex
	files map[string]*serviceFile
}

type serviceFile struct {
	mu      sync.Mutex
	id      string
	path    string
	f       *os.File
	failing bool
}

// NewSink creates a sink. pub may be nil when nothing listens.
func NewSink(pub Publisher, m *metrics.Metrics) *Sink {
	return &Sink{
		pub:     pub,
		metrics: m,
		files:   make(map[string]*serviceFile),
	}
}

// Register associates a service id with its log file path. Registering a new
// path for a known id closes the old file.
func (s *Sink) Register(serviceID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sf, ok := s.files[serviceID]; ok {
		if sf.path == path {
			return
		}
		sf.close()
	}
	s.files[serviceID] = &serviceFile{id: serviceID, path: path}
}

// Forget closes and drops the file for serviceID.
func (s *Sink) Forget(serviceID string) {
	s.mu.Lock()
	sf, ok := s.files[serviceID]
	delete(s.files, serviceID)
	s.mu.Unlock()
	if ok {
		sf.close()
	}
}

// Path returns the registered log path for serviceID.
func (s *Sink) Path(serviceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, ok := s.files[serviceID]
	if !ok {
		return "", false
	}
	return sf.path, true
}

// Write records a line for serviceID and returns the entry that was
// published. Entries for unregistered ids are published but not persisted.
func (s *Sink) Write(serviceID, line string, level Level) Entry {
	entry := NewEntry(line, level)

	s.mu.Lock()
	sf := s.files[serviceID]
	s.mu.Unlock()

	if sf != nil {
		if err := sf.append(FormatLine(entry)); err != nil {
			s.metrics.LogWriteError()
		}
	}
	if s.pub != nil {
		s.pub.Publish(serviceID, entry)
	}
	return entry
}

// Close closes all open log files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sf := range s.files {
		sf.close()
	}
	return nil
}

func (sf *serviceFile) append(line string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.f == nil {
		if err := os.MkdirAll(filepath.Dir(sf.path), 0755); err != nil {
			return sf.fail(err)
		}
		f, err := os.OpenFile(sf.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return sf.fail(err)
		}
		sf.f = f
	}
	if _, err := sf.f.WriteString(line); err != nil {
		sf.f.Close()
		sf.f = nil
		return sf.fail(err)
	}
	if sf.failing {
		log.Printf("Service %s: log file %s writable again", sf.id, sf.path)
		sf.failing = false
	}
	return nil
}

// fail logs the first error of a run of failures.
func (sf *serviceFile) fail(err error) error {
	if !sf.failing {
		log.Printf("Service %s: cannot write log file %s: %v", sf.id, sf.path, err)
		sf.failing = true
	}
	return err
}

func (sf *serviceFile) close() {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.f != nil {
		sf.f.Close()
		sf.f = nil
	}
}

// FormatLine renders an entry as a log file line, with trailing newline.
func FormatLine(e Entry) string {
	return fmt.Sprintf("[%s] %s\n", e.Timestamp.UTC().Format(TimestampFormat), e.Message)
}

// ParseLine turns a log file line back into an entry. Lines without a
// bracketed timestamp keep a zero timestamp.
func ParseLine(line string) Entry {
	line = strings.TrimRight(line, "\r\n")
	e := Entry{Message: line}
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			if ts, err := time.Parse(time.RFC3339Nano, line[1:end]); err == nil {
				e.Timestamp = ts
				e.Message = line[end+2:]
			}
		}
	}
	e.Level = Classify(e.Message)
	return e
}
