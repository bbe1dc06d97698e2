// Package transcript writes chat turns to per-thread NDJSON files.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Event types written by the proxy.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventToolCall         = "tool_call"
	EventRunError         = "run_error"
)

// Directions of an event relative to the agent.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const defaultQueueSize = 256

// Event is one transcript line.
type Event struct {
	Timestamp string         `json:"ts"`
	OwnerID   string         `json:"owner_id,omitempty"`
	ThreadID  string         `json:"thread_id"`
	RunID     string         `json:"run_id,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Direction string         `json:"direction"`
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events without blocking the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config configures the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

// FileLogger appends events to <dir>/<owner>/<thread>.ndjson from a single
// writer goroutine. Events are dropped when the queue is full.
type FileLogger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// New returns a Nop logger when cfg is disabled, otherwise a FileLogger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go l.run()
	return l, nil
}

// Log enqueues e.
func (l *FileLogger) Log(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("transcript queue full, dropping event", "thread_id", e.ThreadID, "event_type", e.EventType)
	}
}

// Close flushes queued events and stops the writer. Log must not be called
// after Close.
func (l *FileLogger) Close() error {
	l.once.Do(func() { close(l.queue) })
	<-l.done
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Warn("failed to write transcript event", "thread_id", e.ThreadID, "error", err)
		}
	}
}

func (l *FileLogger) write(e Event) error {
	path := l.path(e.OwnerID, e.ThreadID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeName maps an id to a single path element.
func safeName(id, fallback string) string {
	s := unsafePathChars.ReplaceAllString(id, "_")
	if s == "" || s == "." || s == ".." {
		return fallback
	}
	return s
}

func (l *FileLogger) path(ownerID, threadID string) string {
	return filepath.Join(l.dir, safeName(ownerID, "anonymous"), safeName(threadID, "unknown")+".ndjson")
}
