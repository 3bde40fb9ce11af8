package publish

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-gridsim/pkg/stream"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// NNGPublisher publishes on a mangos PUB socket
type NNGPublisher struct {
	mu     sync.Mutex
	sock   mangos.Socket
	closed bool
}

// NewNNG creates a PUB socket listening on url, e.g. tcp://*:9190
func NewNNG(url string) (*NNGPublisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Listen(url); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind PUB socket: %w", err)
	}
	return &NNGPublisher{sock: sock}, nil
}

func (p *NNGPublisher) Publish(m stream.Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return mangos.ErrClosed
	}
	return p.sock.Send(frame)
}

func (p *NNGPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sock.Close()
}
