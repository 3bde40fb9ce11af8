// Package stream implements the bounded message channel between a running
// simulation and its live consumers.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity is the queue size used when none is configured
const DefaultCapacity = 8192

var (
	// ErrTimeout is returned by Next when no message arrived in time
	ErrTimeout = errors.New("stream: timed out waiting for message")
	// ErrClosed is returned once the channel has been closed
	ErrClosed = errors.New("stream: channel closed")
)

// Channel is a bounded FIFO. Publish never blocks: when the queue is full
// the oldest step message is evicted. Lifecycle messages are never evicted.
type Channel struct {
	mu       sync.Mutex
	queue    []Message
	capacity int
	dropped  uint64
	wake     chan struct{}
	closed   bool
	onDrop   func()
}

// Option configures a Channel
type Option func(*Channel)

// WithDropHook registers a callback invoked for every evicted message
func WithDropHook(fn func()) Option {
	return func(c *Channel) {
		c.onDrop = fn
	}
}

// NewChannel creates a channel. A capacity below one selects DefaultCapacity.
func NewChannel(capacity int, opts ...Option) *Channel {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Channel{
		capacity: capacity,
		wake:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish appends m to the queue
func (c *Channel) Publish(m Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	evicted := false
	if len(c.queue) >= c.capacity {
		if i := c.oldestStep(); i >= 0 {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			evicted = true
		} else if m.Type == TypeStep {
			// queue is all lifecycle messages; the new step is the one to go
			c.dropped++
			c.mu.Unlock()
			c.dropHook()
			return nil
		}
	}
	if evicted {
		c.dropped++
	}
	c.queue = append(c.queue, m)
	c.broadcast()
	c.mu.Unlock()

	if evicted {
		c.dropHook()
	}
	return nil
}

func (c *Channel) dropHook() {
	if c.onDrop != nil {
		c.onDrop()
	}
}

func (c *Channel) oldestStep() int {
	for i, m := range c.queue {
		if m.Type == TypeStep {
			return i
		}
	}
	return -1
}

// broadcast wakes every waiting consumer. Callers hold mu.
func (c *Channel) broadcast() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Next returns the oldest queued message, waiting at most timeout
func (c *Channel) Next(ctx context.Context, timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue[0] = Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return m, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Message{}, ErrClosed
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return Message{}, ErrTimeout
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Subscribe streams frames until a terminal message has been delivered,
// the channel closes or ctx ends. A heartbeat frame is sent after every
// idle interval.
func (c *Channel) Subscribe(ctx context.Context, heartbeat time.Duration) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)
		for {
			m, err := c.Next(ctx, heartbeat)
			var f Frame
			switch {
			case err == nil:
				f = Frame{Message: m}
			case errors.Is(err, ErrTimeout):
				f = Frame{Heartbeat: true}
			default:
				return
			}

			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if !f.Heartbeat && m.Terminal() {
				return
			}
		}
	}()
	return out
}

// Reset discards queued messages left over from a previous run
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.queue)
	c.queue = c.queue[:0]
}

// Len returns the number of queued messages
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Dropped returns how many step messages were evicted
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Close stops the channel. Waiting consumers drain what is queued and then
// get ErrClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.broadcast()
}
