//go:build !zmq
// +build !zmq

package publish

// NewZMQ is unavailable unless built with the zmq tag
func NewZMQ(url string) (Publisher, error) {
	return nil, ErrUnavailable
}
