package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashureev/copilot-bridge/internal/runtime"
)

// eventWriter frames runtime events as server-sent events. Headers are
// only committed by the first write so an early failure can still be
// answered with a JSON error.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	written int
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *eventWriter) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
}

// write sends one event and flushes it.
func (s *eventWriter) write(e runtime.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	s.start()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	s.written++
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// ping writes an SSE comment line.
func (s *eventWriter) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}
