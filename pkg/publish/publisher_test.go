package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"
)

func TestEncodeDecode(t *testing.T) {
	frame, err := Encode(stream.Init(20, 0.005))
	require.NoError(t, err)
	assert.True(t, len(frame) > 5 && string(frame[:5]) == "init:")

	typ, payload, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, stream.TypeInit, typ)

	var m struct {
		Type string          `json:"type"`
		Data stream.InitData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &m))
	assert.Equal(t, "init", m.Type)
	assert.Equal(t, stream.InitData{TEnd: 20, Dt: 0.005}, m.Data)

	_, _, err = Decode([]byte("no topic"))
	assert.Error(t, err)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("carrier-pigeon", "tcp://*:1")
	assert.Error(t, err)
}

func TestNNGPublisherDelivers(t *testing.T) {
	url := "inproc://gridsim-publish-test"
	p, err := New(KindNNG, url)
	require.NoError(t, err)
	defer p.Close()

	s, err := sub.NewSocket()
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetOption(mangos.OptionSubscribe, Topic(stream.TypeStep)))
	require.NoError(t, s.SetOption(mangos.OptionRecvDeadline, 50*time.Millisecond))
	require.NoError(t, s.Dial(url))

	// PUB drops messages until the subscriber is attached, so keep sending
	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		require.NoError(t, p.Publish(stream.Error("ignored by the filter")))
		require.NoError(t, p.Publish(stream.Step(map[string]float64{"t": 0.5})))
		msg, err := s.Recv()
		if err == nil {
			got = msg
			break
		}
	}
	require.NotNil(t, got, "no message received")

	typ, payload, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, stream.TypeStep, typ)
	assert.JSONEq(t, `{"type":"step","data":{"t":0.5}}`, string(payload))
}

func TestNNGPublisherClose(t *testing.T) {
	p, err := NewNNG("inproc://gridsim-publish-close")
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, errors.Is(p.Publish(stream.Step(1)), mangos.ErrClosed))
}
