package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Messages produced by the update stream
type (
	initMsg struct {
		TEnd float64 `json:"t_end"`
		Dt   float64 `json:"dt"`
	}

	stepMsg struct {
		T          float64   `json:"t"`
		VMagnitude []float64 `json:"v_magnitude"`
		GenSpeed   []float64 `json:"gen_speed"`
	}

	completeMsg struct {
		RunID           string       `json:"run_id"`
		Network         string       `json:"network"`
		DurationSeconds float64      `json:"duration_seconds"`
		T               []float64    `json:"t"`
		Eigenvalues     *eigenReport `json:"eigenvalues"`
	}

	errorMsg        string
	keepaliveMsg    struct{}
	streamOpenMsg   struct{}
	streamClosedMsg struct{ err error }
)

type eigenReport struct {
	Real                   []float64 `json:"real"`
	Imag                   []float64 `json:"imag"`
	Frequency              []float64 `json:"frequency"`
	Damping                []float64 `json:"damping"`
	ElectromechanicalModes []int     `json:"electromechanical_modes"`
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeEvent turns one SSE data payload into a tea message
func decodeEvent(payload []byte) (tea.Msg, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var (
		msg tea.Msg
		err error
	)
	switch env.Type {
	case "init":
		var m initMsg
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case "step":
		var m stepMsg
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case "complete":
		var m completeMsg
		err = json.Unmarshal(env.Data, &m)
		msg = m
	case "error":
		var s string
		if err = json.Unmarshal(env.Data, &s); err != nil {
			s, err = string(env.Data), nil
		}
		msg = errorMsg(s)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return msg, nil
}

// readEvents parses a server-sent event stream. Data lines are joined until
// a blank line, and comment lines count as keepalives.
func readEvents(r io.Reader, emit func(tea.Msg)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var data bytes.Buffer
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		msg, err := decodeEvent(data.Bytes())
		data.Reset()
		if err != nil {
			return err
		}
		emit(msg)
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			emit(keepaliveMsg{})
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// client talks to the simulation server
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// subscribe opens the update stream. Messages are delivered on the returned
// channel, which closes after a streamClosedMsg.
func (c *client) subscribe(ctx context.Context) <-chan tea.Msg {
	out := make(chan tea.Msg, 64)
	go func() {
		defer close(out)
		emit := func(m tea.Msg) {
			select {
			case out <- m:
			case <-ctx.Done():
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/simulation_updates", nil)
		if err != nil {
			emit(streamClosedMsg{err: err})
			return
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.http.Do(req)
		if err != nil {
			emit(streamClosedMsg{err: err})
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			emit(streamClosedMsg{err: fmt.Errorf("update stream: %s", resp.Status)})
			return
		}

		emit(streamOpenMsg{})
		err = readEvents(resp.Body, emit)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		emit(streamClosedMsg{err: err})
	}()
	return out
}

type statusReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

func (c *client) post(ctx context.Context, path string, body []byte) (statusReply, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return statusReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return statusReply{}, err
	}
	defer resp.Body.Close()

	var reply statusReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return statusReply{}, fmt.Errorf("%s: %s", path, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		if reply.Message == "" {
			reply.Message = resp.Status
		}
		return reply, errors.New(reply.Message)
	}
	return reply, nil
}

func (c *client) start(ctx context.Context, body []byte) (statusReply, error) {
	return c.post(ctx, "/api/start_simulation", body)
}

func (c *client) stop(ctx context.Context) (statusReply, error) {
	return c.post(ctx, "/api/stop_simulation", nil)
}
