package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	received [][]byte
}

func (f *fakeSubscriber) Send(payload []byte, binary bool) { f.received = append(f.received, payload) }

func TestConversationTopicNaming(t *testing.T) {
	assert.Equal(t, "chat:abc123", ConversationTopic("abc123"))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := New()
	s1 := &fakeSubscriber{}
	s2 := &fakeSubscriber{}
	h.Subscribe("chat:abc", "s1", s1)
	h.Subscribe("chat:abc", "s2", s2)

	h.Publish("chat:abc", []byte("hello"), false)

	assert.Len(t, s1.received, 1)
	assert.Len(t, s2.received, 1)
	assert.Equal(t, 2, h.Subscribers("chat:abc"))
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	h := New()
	s1 := &fakeSubscriber{}
	h.Subscribe(EventsTopic, "s1", s1)

	h.Publish("chat:other", []byte("hello"), false)
	assert.Len(t, s1.received, 0)
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	h := New()
	s1 := &fakeSubscriber{}
	h.Subscribe(EventsTopic, "s1", s1)
	h.Unsubscribe(EventsTopic, "s1")

	assert.Equal(t, 0, h.Subscribers(EventsTopic))
	h.Publish(EventsTopic, []byte("hello"), false)
	assert.Len(t, s1.received, 0)
}
