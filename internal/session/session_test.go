package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/hub"
)

type fakeSubscriber struct {
	received [][]byte
}

func (f *fakeSubscriber) Send(payload []byte, binary bool) { f.received = append(f.received, payload) }

func TestErrorFrameRendersKindAndMessage(t *testing.T) {
	err := apperr.New(apperr.Forbidden, "not a participant of this conversation")
	payload := errorFrame(err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "error", decoded["kind"])
	assert.Equal(t, "forbidden", decoded["error"])
	assert.Contains(t, decoded["message"], "not a participant")
}

func TestAnnounceJoinPublishesSystemFrameToTopic(t *testing.T) {
	h := hub.New()
	sub := &fakeSubscriber{}
	h.Subscribe(hub.ConversationTopic("conv1"), "sub1", sub)

	m := &Manager{hub: h, logger: zap.NewNop().Sugar()}
	m.announceJoin(hub.ConversationTopic("conv1"), "conv1", "alice")

	require.Len(t, sub.received, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(sub.received[0], &decoded))
	assert.Equal(t, "system", decoded["kind"])
	assert.Equal(t, "conv1", decoded["conversation"])
	assert.Equal(t, "alice", decoded["user"])
}

func TestSocketConnSendDropsOnFullBuffer(t *testing.T) {
	sc := &socketConn{send: make(chan frameOut, 1)}
	sc.Send([]byte("first"), false)
	sc.Send([]byte("second"), false) // must not block

	f := <-sc.send
	assert.Equal(t, []byte("first"), f.payload)
}

func TestSocketConnCloseEnqueuesOnce(t *testing.T) {
	sc := &socketConn{send: make(chan frameOut, 2)}
	sc.Close(CloseInternal, "boom")
	sc.Close(CloseInternal, "boom again")

	f := <-sc.send
	assert.True(t, f.isClose)
	assert.Equal(t, CloseInternal, f.closeCode)

	select {
	case <-sc.send:
		t.Fatal("expected only one close frame to be enqueued")
	default:
	}
}
