// Package model defines the persisted domain types: users,
// conversations, and messages.
package model

import "time"

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

// Envelope is an opaque, already-encrypted byte pair the server never
// inspects beyond presence and length class.
type Envelope struct {
	Encrypted string `bson:"encrypted" json:"encrypted"`
	Nonce     string `bson:"nonce" json:"nonce"`
}

// User is the identity record created by the key-registration endpoint.
type User struct {
	Hex                  string     `bson:"hex" json:"hex"`
	Name                 string     `bson:"name" json:"name"`
	Avatar               string     `bson:"avatar" json:"avatar"`
	Verified             bool       `bson:"verified" json:"verified"`
	Status               UserStatus `bson:"status" json:"status"`
	PublicKey            string     `bson:"publicKey" json:"publicKey"`
	EncryptedPrivateKey  string     `bson:"encryptedPrivateKey" json:"encryptedPrivateKey"`
	PrivateKeyNonce      string     `bson:"privateKeyNonce" json:"privateKeyNonce"`
	PasscodeSalt         string     `bson:"passcodeSalt" json:"passcodeSalt"`
	CreatedAt            time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt            time.Time  `bson:"updatedAt" json:"updatedAt"`
}

type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantInactive  ParticipantStatus = "inactive"
	ParticipantSuspended ParticipantStatus = "suspended"
	ParticipantBlocked   ParticipantStatus = "blocked"
)

type Participant struct {
	Hex      string            `bson:"hex" json:"hex"`
	Role     ParticipantRole   `bson:"role" json:"role"`
	Status   ParticipantStatus `bson:"status" json:"status"`
	Online   bool              `bson:"online" json:"online"`
	JoinedAt time.Time         `bson:"joinedAt" json:"joinedAt"`
}

// Trust is the request/trusted axis (Open Question 1).
type Trust string

const (
	TrustRequest Trust = "request"
	TrustTrusted Trust = "trusted"
)

// Scope distinguishes 1-to-1 conversations from future group scope;
// only "user" is ever produced, group negotiation being a Non-goal.
type Scope string

const ScopeUser Scope = "user"

type Pin struct {
	UserHex  string    `bson:"userHex" json:"userHex"`
	PinnedAt time.Time `bson:"pinnedAt" json:"pinnedAt"`
}

type Deleted struct {
	UserHex   string    `bson:"userHex" json:"userHex"`
	DeletedAt time.Time `bson:"deletedAt" json:"deletedAt"`
}

type Conversation struct {
	Hex          string        `bson:"hex" json:"hex"`
	Participants []Participant `bson:"participants" json:"participants"`
	Trust        Trust         `bson:"trust" json:"trust"`
	Scope        Scope         `bson:"scope" json:"scope"`
	From         string        `bson:"from" json:"from"`
	Last         *Message      `bson:"last,omitempty" json:"last,omitempty"`
	Unread       map[string]int `bson:"unread" json:"unread"`
	Total        int           `bson:"total" json:"total"`
	Pins         []Pin         `bson:"pins" json:"pins"`
	DeletedFor   []Deleted     `bson:"deletedFor" json:"deletedFor"`
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// ParticipantHexes returns the participant hexes in the order they are
// stored; it does not sort them (the unordered-pair check sorts its own
// copy).
func (c *Conversation) ParticipantHexes() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.Hex)
	}
	return out
}

func (c *Conversation) UnreadFor(userHex string) int {
	if c.Unread == nil {
		return 0
	}
	return c.Unread[userHex]
}

func (c *Conversation) IsParticipant(userHex string) bool {
	for _, p := range c.Participants {
		if p.Hex == userHex {
			return true
		}
	}
	return false
}

func (c *Conversation) IsPinnedBy(userHex string) bool {
	for _, p := range c.Pins {
		if p.UserHex == userHex {
			return true
		}
	}
	return false
}

type MessageKind string

const (
	KindMessage MessageKind = "message"
	KindReply   MessageKind = "reply"
	KindForward MessageKind = "forward"
)

type MessageType string

const (
	TypeAll   MessageType = "all"
	TypeAudio MessageType = "audio"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// StatusRank orders statuses for the monotonic-advance invariant.
func StatusRank(s MessageStatus) int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

type Reaction string

const (
	ReactionLike  Reaction = "like"
	ReactionLove  Reaction = "love"
	ReactionLaugh Reaction = "laugh"
	ReactionWow   Reaction = "wow"
	ReactionSad   Reaction = "sad"
	ReactionAngry Reaction = "angry"
)

type Reactions struct {
	From *Reaction `bson:"from,omitempty" json:"from,omitempty"`
	To   *Reaction `bson:"to,omitempty" json:"to,omitempty"`
}

type Attachment struct {
	Name string `bson:"name" json:"name"`
	Size int64  `bson:"size" json:"size"`
	Type string `bson:"type" json:"type"`
	Link string `bson:"link" json:"link"`
}

// ReplyProjection carries the parent's content swapped so each side
// of a reply sees the correctly addressed preview.
type ReplyProjection struct {
	RecipientContent Envelope `bson:"recipientContent" json:"recipientContent"`
	SenderContent    Envelope `bson:"senderContent" json:"senderContent"`
}

type Message struct {
	ID               string          `bson:"_id,omitempty" json:"_id"`
	Conversation     string          `bson:"conversation" json:"conversation"`
	Kind             MessageKind     `bson:"kind" json:"kind"`
	Type             MessageType     `bson:"type" json:"type"`
	Parent           *string         `bson:"parent,omitempty" json:"parent,omitempty"`
	User             string          `bson:"user" json:"user"`
	RecipientContent Envelope        `bson:"recipientContent" json:"recipientContent"`
	SenderContent    Envelope        `bson:"senderContent" json:"senderContent"`
	Status           MessageStatus   `bson:"status" json:"status"`
	Attachments      []Attachment    `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Images           []string        `bson:"images,omitempty" json:"images,omitempty"`
	Videos           []string        `bson:"videos,omitempty" json:"videos,omitempty"`
	Audio            string          `bson:"audio,omitempty" json:"audio,omitempty"`
	Reactions        Reactions       `bson:"reactions" json:"reactions"`
	Reply            *ReplyProjection `bson:"reply,omitempty" json:"reply,omitempty"`
	CreatedAt        time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time       `bson:"updatedAt" json:"updatedAt"`
}
