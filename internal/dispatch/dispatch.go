// Package dispatch implements the message dispatcher (C8): a table
// of handlers keyed by frame kind, dispatched by direct lookup rather
// than a type-switch over the decoded payload. Each handler validates,
// persists, and fans the result out to the hub and the delivery
// queue, returning a typed error on any failure, which the session
// layer renders as an error frame to the originating socket only.
package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/auth"
	"github.com/brinewave/cipherline/internal/hub"
	"github.com/brinewave/cipherline/internal/metrics"
	"github.com/brinewave/cipherline/internal/model"
	"github.com/brinewave/cipherline/internal/queue"
	"github.com/brinewave/cipherline/internal/repo"
	"github.com/brinewave/cipherline/internal/validate"
)

// Dispatcher routes an incoming chat frame to its handler.
type Dispatcher struct {
	repository repo.Repository
	hub        *hub.Hub
	queue      queue.Enqueuer
	logger     *zap.SugaredLogger
}

func New(repository repo.Repository, h *hub.Hub, q queue.Enqueuer, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{repository: repository, hub: h, queue: q, logger: logger}
}

type handlerFunc func(d *Dispatcher, ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error)

var handlers = map[string]handlerFunc{
	"new":      (*Dispatcher).handleNew,
	"reply":    (*Dispatcher).handleReply,
	"status":   (*Dispatcher).handleStatus,
	"reaction": (*Dispatcher).handleReaction,
	"update":   (*Dispatcher).handleUpdate,
	"remove":   (*Dispatcher).handleRemove,
	"forward":  (*Dispatcher).handleForward,
}

// Dispatch decodes raw as a JSON object, looks its "kind" up in the
// dispatch table, and runs the matching handler.
func (d *Dispatcher) Dispatch(ctx context.Context, principal auth.Principal, conversationHex string, raw []byte) ([]byte, error) {
	var frame map[string]any
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, apperr.New(apperr.Validation, "frame is not valid JSON")
	}

	kind, _ := frame["kind"].(string)
	handler, ok := handlers[kind]
	if !ok {
		return nil, apperr.Field(apperr.Validation, "kind", "is not a recognised frame kind")
	}

	result, err := handler(d, ctx, principal, conversationHex, frame)
	if err != nil {
		metrics.FramesDispatched.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	metrics.FramesDispatched.WithLabelValues(kind, "ok").Inc()
	if result == nil {
		return nil, nil
	}
	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, apperr.Wrap(apperr.Backend, "failed to encode response frame", marshalErr)
	}
	return payload, nil
}

func (d *Dispatcher) conversationOrErr(ctx context.Context, conversationHex string, actorHex string) (*model.Conversation, *apperr.Error) {
	conv, err := d.repository.Conversations().FindByHex(ctx, conversationHex)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "conversation not found")
	}
	if !conv.IsParticipant(actorHex) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this conversation")
	}
	return conv, nil
}

func envelopeFrom(v any) model.Envelope {
	obj, _ := v.(map[string]any)
	enc, _ := obj["encrypted"].(string)
	nonce, _ := obj["nonce"].(string)
	return model.Envelope{Encrypted: enc, Nonce: nonce}
}

func stringsFrom(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// fanOut enqueues a durable delivery job for every other participant
// of conv, letting whichever instance holds their socket push it.
func (d *Dispatcher) fanOut(ctx context.Context, conv *model.Conversation, actorHex, frameKind string, message []byte) {
	for _, hex := range conv.ParticipantHexes() {
		if hex == actorHex {
			continue
		}
		job := queue.Job{
			To:           hex,
			Kind:         "worker",
			Conversation: conv.Hex,
			Data:         queue.Data{Kind: frameKind, Message: message},
		}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.logger.Warnw("failed to enqueue delivery job", "to", hex, "conversation", conv.Hex, "kind", frameKind, "error", err)
		}
	}
}

func (d *Dispatcher) handleNew(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	clean, verr := validate.NewMessageSchema().Apply(frame)
	if verr != nil {
		return nil, verr
	}

	msg := buildMessage(clean, conversationHex, principal.Hex, model.KindMessage)
	inserted, err := d.repository.Messages().Insert(ctx, msg)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "failed to store message", err)
	}
	if err := d.repository.Conversations().IncrementUnread(ctx, conversationHex, principal.Hex); err != nil {
		d.logger.Warnw("failed to increment unread", "conversation", conversationHex, "error", err)
	}

	d.publishAndFanOut(ctx, conv, principal.Hex, "new", inserted)
	return inserted, nil
}

func (d *Dispatcher) handleReply(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	clean, verr := validate.ReplySchema().Apply(frame)
	if verr != nil {
		return nil, verr
	}

	parentID, _ := clean["parent"].(string)
	parent, err := d.repository.Messages().FindByID(ctx, parentID)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "parent message not found")
	}

	msg := buildMessage(clean, conversationHex, principal.Hex, model.KindReply)
	msg.Parent = &parentID
	// Content-swap projection: the parent's sender sees the preview
	// addressed as the recipient would, and vice versa.
	msg.Reply = &model.ReplyProjection{
		RecipientContent: parent.SenderContent,
		SenderContent:    parent.RecipientContent,
	}

	inserted, err := d.repository.Messages().Insert(ctx, msg)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "failed to store reply", err)
	}
	if err := d.repository.Conversations().IncrementUnread(ctx, conversationHex, principal.Hex); err != nil {
		d.logger.Warnw("failed to increment unread", "conversation", conversationHex, "error", err)
	}

	d.publishAndFanOut(ctx, conv, principal.Hex, "reply", inserted)
	return inserted, nil
}

// handleForward is reserved. The dispatcher recognises the "forward"
// kind so it gets a typed error response rather than falling through
// to the unknown-kind branch, but does not implement forwarding.
func (d *Dispatcher) handleForward(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	return nil, apperr.New(apperr.Validation, "not implemented")
}

func (d *Dispatcher) handleStatus(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	id, _ := frame["id"].(string)
	status, _ := frame["status"].(string)
	if id == "" {
		return nil, apperr.Field(apperr.Validation, "id", "is required")
	}
	if !contains(validate.StatusEnum, status) {
		return nil, apperr.Field(apperr.Validation, "status", "is not a permitted value")
	}

	updated, err := d.repository.Messages().UpdateStatus(ctx, id, model.MessageStatus(status))
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.Backend, "failed to update message status", err)
	}

	if model.MessageStatus(status) == model.StatusRead {
		if err := d.repository.Conversations().MarkRead(ctx, conversationHex, principal.Hex); err != nil {
			d.logger.Warnw("failed to mark conversation read", "conversation", conversationHex, "error", err)
		}
	}

	d.publishAndFanOut(ctx, conv, principal.Hex, "status", updated)
	return updated, nil
}

func (d *Dispatcher) handleReaction(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	id, _ := frame["id"].(string)
	if id == "" {
		return nil, apperr.Field(apperr.Validation, "id", "is required")
	}

	var reaction *model.Reaction
	if raw, ok := frame["reaction"].(string); ok && raw != "" {
		if !contains(validate.ReactionEnum, raw) {
			return nil, apperr.Field(apperr.Validation, "reaction", "is not a permitted value")
		}
		r := model.Reaction(raw)
		reaction = &r
	}

	target, err := d.repository.Messages().FindByID(ctx, id)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	// Self-authored messages take the "from" slot, the other
	// participant's reaction takes "to", per Open Question resolution.
	slot := "to"
	if target.User == principal.Hex {
		slot = "from"
	}

	updated, updErr := d.repository.Messages().UpdateReactions(ctx, id, slot, reaction)
	if updErr != nil {
		if ae, ok := updErr.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.Backend, "failed to update reaction", updErr)
	}

	d.publishAndFanOut(ctx, conv, principal.Hex, "reaction", updated)
	return updated, nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	id, _ := frame["id"].(string)
	if id == "" {
		return nil, apperr.Field(apperr.Validation, "id", "is required")
	}
	existing, err := d.repository.Messages().FindByID(ctx, id)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	if existing.User != principal.Hex {
		return nil, apperr.New(apperr.Invariant, "only the author can edit a message")
	}

	clean, verr := validate.ContentEditSchema().Apply(frame)
	if verr != nil {
		return nil, verr
	}
	sender := envelopeFrom(clean["senderContent"])
	recipient := envelopeFrom(clean["recipientContent"])

	updated, updErr := d.repository.Messages().UpdateContents(ctx, id, sender, recipient)
	if updErr != nil {
		if ae, ok := updErr.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.Backend, "failed to update message contents", updErr)
	}

	d.publishAndFanOut(ctx, conv, principal.Hex, "update", updated)
	return updated, nil
}

func (d *Dispatcher) handleRemove(ctx context.Context, principal auth.Principal, conversationHex string, frame map[string]any) (any, *apperr.Error) {
	conv, cerr := d.conversationOrErr(ctx, conversationHex, principal.Hex)
	if cerr != nil {
		return nil, cerr
	}
	id, _ := frame["id"].(string)
	if id == "" {
		return nil, apperr.Field(apperr.Validation, "id", "is required")
	}
	if err := d.repository.Messages().Delete(ctx, id, principal.Hex); err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return nil, ae
		}
		return nil, apperr.Wrap(apperr.Backend, "failed to delete message", err)
	}

	result := map[string]any{"id": id, "conversation": conversationHex}
	d.publishAndFanOut(ctx, conv, principal.Hex, "remove", result)
	return result, nil
}

// publishAndFanOut marshals payload once, publishes it to the
// conversation's local topic so same-instance subscribers see it
// immediately, and separately enqueues a durable delivery job for
// every other participant so a recipient connected to another
// instance (or not connected at all) is still reached. It logs (but
// does not fail the caller's request on) marshal errors — the local
// write already succeeded by the time this runs.
func (d *Dispatcher) publishAndFanOut(ctx context.Context, conv *model.Conversation, actorHex, frameKind string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		d.logger.Errorw("failed to encode frame for delivery", "kind", frameKind, "error", err)
		return
	}
	frame, err := json.Marshal(map[string]any{"kind": frameKind, "message": payload})
	if err != nil {
		d.logger.Errorw("failed to encode frame for local publish", "kind", frameKind, "error", err)
	} else {
		d.hub.Publish(hub.ConversationTopic(conv.Hex), frame, false)
	}
	d.fanOut(ctx, conv, actorHex, frameKind, encoded)
}

func buildMessage(clean map[string]any, conversationHex, actorHex string, kind model.MessageKind) *model.Message {
	return &model.Message{
		Conversation:     conversationHex,
		Kind:             kind,
		Type:             model.MessageType(stringField(clean, "type")),
		User:             actorHex,
		RecipientContent: envelopeFrom(clean["recipientContent"]),
		SenderContent:    envelopeFrom(clean["senderContent"]),
		Status:           model.StatusSent,
		Images:           stringsFrom(clean["images"]),
		Videos:           stringsFrom(clean["videos"]),
		Audio:            stringField(clean, "audio"),
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
