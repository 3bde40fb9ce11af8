package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/stream"
)

// handleSimulationUpdates streams channel messages as server-sent events.
// Idle intervals produce a keepalive comment and the stream ends after the
// terminal message of a run.
func (s *Server) handleSimulationUpdates(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// not every writer supports deadlines
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream cannot flush", logging.Error(err))
	}

	for frame := range s.svc.Subscribe(r.Context()) {
		var err error
		if frame.Heartbeat {
			_, err = io.WriteString(w, ": keepalive\n\n")
		} else {
			err = writeEvent(w, frame.Message)
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			s.logger.Debug("event stream closed", logging.Error(err))
			return
		}
	}
}

func writeEvent(w io.Writer, m stream.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		data, _ = json.Marshal(stream.Error(err.Error()))
		if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
			return werr
		}
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
