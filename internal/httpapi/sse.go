package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamInterval = time.Second

// handleJobStream pushes the task list every second. With ?id= it follows
// one task and closes after the task finishes.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	taskID := r.URL.Query().Get("id")
	if taskID != "" {
		if _, ok := s.queue.Get(taskID); !ok {
			writeError(w, http.StatusNotFound, errJobNotFound.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	write := func(event string, v any) bool {
		payload, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// send reports whether the stream should continue.
	send := func() bool {
		if taskID == "" {
			return write("jobs", s.queue.List())
		}
		task, ok := s.queue.Get(taskID)
		if !ok {
			write("gone", map[string]string{"id": taskID})
			return false
		}
		if !write("job", task) {
			return false
		}
		if task.Status.Terminal() {
			write("done", task)
			return false
		}
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
