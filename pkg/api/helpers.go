package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
)

var errEmptyBody = errors.New("empty request body")

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response failed", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// respondStatus answers in the {status, message} shape clients of the
// simulation endpoints expect
func (s *Server) respondStatus(w http.ResponseWriter, code int, status, message string) {
	s.respondJSON(w, code, StatusResponse{Status: status, Message: message})
}

// readPatch decodes the request body into a parameter patch. An absent,
// empty or null body yields errEmptyBody.
func readPatch(r *http.Request) (params.Patch, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	patch, err := params.ParsePatch(body)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, errEmptyBody
	}
	return patch, nil
}
