// Package repo defines the typed CRUD surface (C4) over users,
// conversations, and messages, with a MongoDB-backed implementation
// and an in-memory fake sharing the same contract.
package repo

import (
	"context"

	"github.com/brinewave/cipherline/internal/model"
)

// ConversationFilter selects a page of conversation listings.
type ConversationFilter string

const (
	FilterAll           ConversationFilter = "all"
	FilterRequest       ConversationFilter = "request"
	FilterTrusted       ConversationFilter = "trusted"
	FilterTrustedUnread ConversationFilter = "trusted_unread"
	FilterPinned        ConversationFilter = "pinned"
)

type ConversationCounts struct {
	Total     int `json:"total"`
	Unread    int `json:"unread"`
	Requested int `json:"requested"`
}

type CreateConversationInput struct {
	Hex          string
	Participants []model.Participant
	Trust        model.Trust
	From         string
}

// UserRepository is the user half of C4.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	FindByHex(ctx context.Context, hex string) (*model.User, error)
	UpdatePublicKeys(ctx context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) error
	UpdateField(ctx context.Context, hex, field string, value any) error
	Delete(ctx context.Context, hex string) error
}

// ConversationRepository is the conversation half of C4.
type ConversationRepository interface {
	Create(ctx context.Context, in CreateConversationInput) (*model.Conversation, error)
	FindByHex(ctx context.Context, hex string) (*model.Conversation, error)
	Exists(ctx context.Context, participantHexes []string) (*model.Conversation, error)
	Page(ctx context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]*model.Conversation, error)
	Pin(ctx context.Context, convHex, userHex string, maxPins int) error
	Unpin(ctx context.Context, convHex, userHex string) error
	Accept(ctx context.Context, convHex, userHex string) error
	Counts(ctx context.Context, userHex string) (ConversationCounts, error)
	MarkRead(ctx context.Context, convHex, userHex string) error
	IncrementUnread(ctx context.Context, convHex string, exceptUserHex string) error
}

// MessageRepository is the message half of C4.
type MessageRepository interface {
	Insert(ctx context.Context, m *model.Message) (*model.Message, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus) (*model.Message, error)
	UpdateReactions(ctx context.Context, id string, slot string, value *model.Reaction) (*model.Message, error)
	UpdateContents(ctx context.Context, id string, senderContent, recipientContent model.Envelope) (*model.Message, error)
	Delete(ctx context.Context, id, actor string) error
	Page(ctx context.Context, conversationHex string, page, pageSize int) ([]*model.Message, error)
}

// Repository bundles the three typed stores behind one handle, the
// shape every core component depends on.
type Repository interface {
	Users() UserRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
}
