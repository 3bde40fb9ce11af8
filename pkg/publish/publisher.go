// Package publish fans simulation stream messages out to external
// subscribers over a message bus.
package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-gridsim/pkg/stream"
)

// Publisher forwards stream messages to an external transport
type Publisher interface {
	Publish(m stream.Message) error
	Close() error
}

// Transport kinds accepted by New
const (
	KindNNG = "nng"
	KindZMQ = "zmq"
)

// ErrUnavailable is returned for a transport not compiled into the binary
var ErrUnavailable = errors.New("publish: transport not available in this build")

// New opens a publisher of the given kind listening on url
func New(kind, url string) (Publisher, error) {
	switch kind {
	case KindNNG, "":
		p, err := NewNNG(url)
		if err != nil {
			return nil, err
		}
		return p, nil
	case KindZMQ:
		return NewZMQ(url)
	default:
		return nil, fmt.Errorf("publish: unknown transport %q", kind)
	}
}

// Encode frames m as "<type>:<json>" so subscribers can filter by prefix
func Encode(m stream.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	frame := make([]byte, 0, len(m.Type)+1+len(data))
	frame = append(frame, m.Type...)
	frame = append(frame, ':')
	return append(frame, data...), nil
}

// Decode splits a frame produced by Encode
func Decode(frame []byte) (stream.MessageType, json.RawMessage, error) {
	i := bytes.IndexByte(frame, ':')
	if i <= 0 {
		return "", nil, errors.New("publish: frame has no topic")
	}
	return stream.MessageType(frame[:i]), json.RawMessage(frame[i+1:]), nil
}

// Topic returns the subscription prefix for a message type
func Topic(t stream.MessageType) []byte {
	return []byte(string(t) + ":")
}
