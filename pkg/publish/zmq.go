//go:build zmq
// +build zmq

package publish

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-gridsim/pkg/stream"
	zmq "github.com/pebbe/zmq4"
)

// ZMQPublisher publishes on a ZeroMQ PUB socket
type ZMQPublisher struct {
	mu   sync.Mutex
	sock *zmq.Socket
}

// NewZMQ creates a PUB socket bound to url
func NewZMQ(url string) (Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := sock.Bind(url); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind PUB socket: %w", err)
	}
	return &ZMQPublisher{sock: sock}, nil
}

func (p *ZMQPublisher) Publish(m stream.Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sock == nil {
		return ErrUnavailable
	}
	_, err = p.sock.SendBytes(frame, zmq.DONTWAIT)
	return err
}

func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sock == nil {
		return nil
	}
	err := p.sock.Close()
	p.sock = nil
	return err
}
