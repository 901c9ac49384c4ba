package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/hub"
	"github.com/brinewave/cipherline/internal/model"
	"github.com/brinewave/cipherline/internal/queue"
	"github.com/brinewave/cipherline/internal/repo"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeSubscriber struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSubscriber) Send(payload []byte, binary bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
}

func (f *fakeSubscriber) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func content() map[string]any {
	return map[string]any{"encrypted": "c", "nonce": "n"}
}

func newHarness(t *testing.T) (*Dispatcher, *fakeEnqueuer, *hub.Hub, *repo.MemRepository, *model.Conversation) {
	t.Helper()
	r := repo.NewMemRepository()
	ctx := context.Background()
	conv, err := r.Conversations().Create(ctx, repo.CreateConversationInput{
		Participants: []model.Participant{{Hex: "alice"}, {Hex: "bob"}},
		Trust:        model.TrustTrusted,
		From:         "alice",
	})
	require.NoError(t, err)

	q := &fakeEnqueuer{}
	h := hub.New()
	d := New(r, h, q, zap.NewNop().Sugar())
	return d, q, h, r, conv
}

func newFrame(fields map[string]any) []byte {
	b, _ := json.Marshal(fields)
	return b
}

func TestDispatchNewMessagePersistsAndFansOut(t *testing.T) {
	d, q, _, r, conv := newHarness(t)
	principal := auth.Principal{Hex: "alice"}

	frame := map[string]any{
		"kind":             "new",
		"conversation":     conv.Hex,
		"type":             "all",
		"user":             "alice",
		"recipientContent": content(),
		"senderContent":    content(),
		"status":           "sent",
	}
	reply, err := d.Dispatch(context.Background(), principal, conv.Hex, newFrame(frame))
	require.NoError(t, err)
	require.NotNil(t, reply)

	var msg model.Message
	require.NoError(t, json.Unmarshal(reply, &msg))
	assert.Equal(t, model.KindMessage, msg.Kind)
	assert.Equal(t, "alice", msg.User)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, "bob", q.jobs[0].To)

	counts, err := r.Conversations().Counts(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Unread)
}

func TestDispatchUnknownKindFails(t *testing.T) {
	d, _, _, _, conv := newHarness(t)
	principal := auth.Principal{Hex: "alice"}

	frame := map[string]any{"kind": "not-a-real-kind"}
	_, err := d.Dispatch(context.Background(), principal, conv.Hex, newFrame(frame))
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestDispatchNewRejectsNonParticipant(t *testing.T) {
	d, _, _, _, conv := newHarness(t)
	principal := auth.Principal{Hex: "mallory"}

	frame := map[string]any{
		"kind":             "new",
		"conversation":     conv.Hex,
		"type":             "all",
		"user":             "mallory",
		"recipientContent": content(),
		"senderContent":    content(),
		"status":           "sent",
	}
	_, err := d.Dispatch(context.Background(), principal, conv.Hex, newFrame(frame))
	require.Error(t, err)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestDispatchReplyProjectsSwappedContent(t *testing.T) {
	d, _, _, r, conv := newHarness(t)
	principal := auth.Principal{Hex: "alice"}
	ctx := context.Background()

	parent, err := r.Messages().Insert(ctx, &model.Message{
		Conversation:     conv.Hex,
		Kind:             model.KindMessage,
		User:             "alice",
		Status:           model.StatusSent,
		SenderContent:    model.Envelope{Encrypted: "sender-side", Nonce: "n1"},
		RecipientContent: model.Envelope{Encrypted: "recipient-side", Nonce: "n2"},
	})
	require.NoError(t, err)

	frame := map[string]any{
		"kind":             "reply",
		"conversation":     conv.Hex,
		"type":             "all",
		"user":             "alice",
		"recipientContent": content(),
		"senderContent":    content(),
		"status":           "sent",
		"parent":           parent.ID,
	}
	reply, err := d.Dispatch(ctx, principal, conv.Hex, newFrame(frame))
	require.NoError(t, err)

	var msg model.Message
	require.NoError(t, json.Unmarshal(reply, &msg))
	require.NotNil(t, msg.Reply)
	assert.Equal(t, "sender-side", msg.Reply.RecipientContent.Encrypted)
	assert.Equal(t, "recipient-side", msg.Reply.SenderContent.Encrypted)
}

func TestDispatchStatusReadMarksConversationRead(t *testing.T) {
	d, _, _, r, conv := newHarness(t)
	ctx := context.Background()
	require.NoError(t, r.Conversations().IncrementUnread(ctx, conv.Hex, "alice"))

	msg, err := r.Messages().Insert(ctx, &model.Message{Conversation: conv.Hex, User: "alice", Status: model.StatusSent})
	require.NoError(t, err)

	principal := auth.Principal{Hex: "bob"}
	frame := map[string]any{"kind": "status", "id": msg.ID, "status": "read"}
	_, err = d.Dispatch(ctx, principal, conv.Hex, newFrame(frame))
	require.NoError(t, err)

	counts, cErr := r.Conversations().Counts(ctx, "bob")
	require.NoError(t, cErr)
	assert.Equal(t, 0, counts.Unread)
}

func TestDispatchReactionSlotAssignment(t *testing.T) {
	d, _, _, r, conv := newHarness(t)
	ctx := context.Background()

	msg, err := r.Messages().Insert(ctx, &model.Message{Conversation: conv.Hex, User: "alice", Status: model.StatusSent})
	require.NoError(t, err)

	// Author reacting to their own message takes the "from" slot.
	authorFrame := map[string]any{"kind": "reaction", "id": msg.ID, "reaction": "like"}
	reply, err := d.Dispatch(ctx, auth.Principal{Hex: "alice"}, conv.Hex, newFrame(authorFrame))
	require.NoError(t, err)
	var updated model.Message
	require.NoError(t, json.Unmarshal(reply, &updated))
	require.NotNil(t, updated.Reactions.From)
	assert.Equal(t, model.ReactionLike, *updated.Reactions.From)
	assert.Nil(t, updated.Reactions.To)

	// Other participant reacting takes the "to" slot.
	otherFrame := map[string]any{"kind": "reaction", "id": msg.ID, "reaction": "love"}
	reply, err = d.Dispatch(ctx, auth.Principal{Hex: "bob"}, conv.Hex, newFrame(otherFrame))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reply, &updated))
	require.NotNil(t, updated.Reactions.To)
	assert.Equal(t, model.ReactionLove, *updated.Reactions.To)
}

func TestDispatchUpdateRequiresAuthor(t *testing.T) {
	d, _, _, r, conv := newHarness(t)
	ctx := context.Background()
	msg, err := r.Messages().Insert(ctx, &model.Message{Conversation: conv.Hex, User: "alice", Status: model.StatusSent})
	require.NoError(t, err)

	frame := map[string]any{
		"kind":             "update",
		"id":               msg.ID,
		"senderContent":    content(),
		"recipientContent": content(),
	}
	_, err = d.Dispatch(ctx, auth.Principal{Hex: "bob"}, conv.Hex, newFrame(frame))
	require.Error(t, err)
	assert.Equal(t, apperr.Invariant, apperr.KindOf(err))

	_, err = d.Dispatch(ctx, auth.Principal{Hex: "alice"}, conv.Hex, newFrame(frame))
	require.NoError(t, err)
}

func TestDispatchRemoveFansOutAndDeletes(t *testing.T) {
	d, q, _, r, conv := newHarness(t)
	ctx := context.Background()
	msg, err := r.Messages().Insert(ctx, &model.Message{Conversation: conv.Hex, User: "alice", Status: model.StatusSent})
	require.NoError(t, err)

	frame := map[string]any{"kind": "remove", "id": msg.ID}
	_, err = d.Dispatch(ctx, auth.Principal{Hex: "alice"}, conv.Hex, newFrame(frame))
	require.NoError(t, err)

	_, err = r.Messages().FindByID(ctx, msg.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.Len(t, q.jobs, 1)
	assert.Equal(t, "remove", q.jobs[0].Data.Kind)
}

func TestDispatchNewMessagePublishesToLocalHubSubscribers(t *testing.T) {
	d, _, h, _, conv := newHarness(t)
	sub := &fakeSubscriber{}
	h.Subscribe(hub.ConversationTopic(conv.Hex), "instance-1", sub)

	frame := map[string]any{
		"kind":             "new",
		"conversation":     conv.Hex,
		"type":             "all",
		"user":             "alice",
		"recipientContent": content(),
		"senderContent":    content(),
		"status":           "sent",
	}
	_, err := d.Dispatch(context.Background(), auth.Principal{Hex: "alice"}, conv.Hex, newFrame(frame))
	require.NoError(t, err)

	received := sub.received()
	require.Len(t, received, 1)
	var published map[string]any
	require.NoError(t, json.Unmarshal(received[0], &published))
	assert.Equal(t, "new", published["kind"])
	assert.NotNil(t, published["message"])
}

func TestDispatchForwardIsNotImplemented(t *testing.T) {
	d, _, _, _, conv := newHarness(t)

	frame := map[string]any{"kind": "forward", "source": "whatever"}
	_, err := d.Dispatch(context.Background(), auth.Principal{Hex: "alice"}, conv.Hex, newFrame(frame))
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}
