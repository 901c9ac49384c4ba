package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/ids"
	"github.com/brinewave/cipherline/internal/model"
)

// MemRepository is an in-process fake satisfying Repository, used by
// package tests in place of a live MongoDB.
type MemRepository struct {
	mu    sync.Mutex
	users map[string]*model.User
	convs map[string]*model.Conversation
	msgs  map[string]*model.Message
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		users: make(map[string]*model.User),
		convs: make(map[string]*model.Conversation),
		msgs:  make(map[string]*model.Message),
	}
}

func (r *MemRepository) Users() UserRepository                 { return (*memUsers)(r) }
func (r *MemRepository) Conversations() ConversationRepository { return (*memConvs)(r) }
func (r *MemRepository) Messages() MessageRepository           { return (*memMsgs)(r) }

type memUsers MemRepository

func (m *memUsers) Create(ctx context.Context, u *model.User) (*model.User, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[u.Hex]; exists {
		return nil, apperr.New(apperr.Conflict, "user hex already exists")
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = model.UserActive
	}
	cp := *u
	r.users[u.Hex] = &cp
	return &cp, nil
}

func (m *memUsers) FindByHex(ctx context.Context, hex string) (*model.User, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[hex]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpdatePublicKeys(ctx context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[hex]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	u.PublicKey, u.EncryptedPrivateKey, u.PrivateKeyNonce, u.PasscodeSalt = publicKey, encryptedPrivateKey, nonce, salt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) UpdateField(ctx context.Context, hex, field string, value any) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[hex]
	if !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	switch field {
	case "name":
		u.Name, _ = value.(string)
	case "avatar":
		u.Avatar, _ = value.(string)
	case "status":
		s, _ := value.(string)
		u.Status = model.UserStatus(s)
	case "verified":
		u.Verified, _ = value.(bool)
	default:
		return apperr.Field(apperr.Validation, field, "is not an editable field")
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) Delete(ctx context.Context, hex string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[hex]; !ok {
		return apperr.New(apperr.NotFound, "user not found")
	}
	delete(r.users, hex)
	return nil
}

type memConvs MemRepository

func unorderedKey(hexes []string) string {
	cp := append([]string{}, hexes...)
	sort.Strings(cp)
	key := ""
	for _, h := range cp {
		key += h + "|"
	}
	return key
}

func (m *memConvs) Create(ctx context.Context, in CreateConversationInput) (*model.Conversation, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()

	hexes := make([]string, 0, len(in.Participants))
	for _, p := range in.Participants {
		hexes = append(hexes, p.Hex)
	}
	target := unorderedKey(hexes)
	for _, c := range r.convs {
		if unorderedKey(c.ParticipantHexes()) == target {
			return nil, apperr.New(apperr.Conflict, "conversation already exists for this participant pair")
		}
	}

	hex := in.Hex
	if hex == "" {
		hex = ids.MustGenerateHex(ids.DefaultHexBytes)
	}
	now := time.Now().UTC()
	c := &model.Conversation{
		Hex:          hex,
		Participants: in.Participants,
		Trust:        in.Trust,
		Scope:        model.ScopeUser,
		From:         in.From,
		Unread:       make(map[string]int),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.convs[hex] = c
	cp := *c
	return &cp, nil
}

func (m *memConvs) FindByHex(ctx context.Context, hex string) (*model.Conversation, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[hex]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "conversation not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memConvs) Exists(ctx context.Context, participantHexes []string) (*model.Conversation, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	target := unorderedKey(participantHexes)
	for _, c := range r.convs {
		if unorderedKey(c.ParticipantHexes()) == target {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "conversation not found")
}

func (m *memConvs) Page(ctx context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]*model.Conversation, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Conversation
	for _, c := range r.convs {
		if !c.IsParticipant(participantHex) {
			continue
		}
		switch filter {
		case FilterRequest:
			if c.Trust != model.TrustRequest {
				continue
			}
		case FilterTrusted:
			if c.Trust != model.TrustTrusted {
				continue
			}
		case FilterTrustedUnread:
			if c.Trust != model.TrustTrusted || c.UnreadFor(participantHex) <= 0 {
				continue
			}
		case FilterPinned:
			if !c.IsPinnedBy(participantHex) {
				continue
			}
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })

	start := (page - 1) * pageSize
	if start < 0 || start >= len(matched) {
		return []*model.Conversation{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (m *memConvs) Pin(ctx context.Context, convHex, userHex string, maxPins int) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convHex]
	if !ok {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	if c.IsPinnedBy(userHex) {
		return apperr.New(apperr.Conflict, "conversation already pinned")
	}
	count := 0
	for _, other := range r.convs {
		if other.IsPinnedBy(userHex) {
			count++
		}
	}
	if count >= maxPins {
		return apperr.New(apperr.Invariant, "cannot pin more than the configured maximum conversations")
	}
	c.Pins = append(c.Pins, model.Pin{UserHex: userHex, PinnedAt: time.Now().UTC()})
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memConvs) Unpin(ctx context.Context, convHex, userHex string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convHex]
	if !ok {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	filtered := make([]model.Pin, 0, len(c.Pins))
	for _, p := range c.Pins {
		if p.UserHex != userHex {
			filtered = append(filtered, p)
		}
	}
	c.Pins = filtered
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memConvs) Accept(ctx context.Context, convHex, userHex string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convHex]
	if !ok {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	if !c.IsParticipant(userHex) {
		return apperr.New(apperr.Forbidden, "not a participant")
	}
	if c.Trust != model.TrustRequest {
		return apperr.New(apperr.Invariant, "conversation is not awaiting acceptance")
	}
	c.Trust = model.TrustTrusted
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memConvs) Counts(ctx context.Context, userHex string) (ConversationCounts, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out ConversationCounts
	for _, c := range r.convs {
		if !c.IsParticipant(userHex) {
			continue
		}
		out.Total++
		out.Unread += c.UnreadFor(userHex)
		if c.Trust == model.TrustRequest && c.From != userHex {
			out.Requested++
		}
	}
	return out, nil
}

func (m *memConvs) MarkRead(ctx context.Context, convHex, userHex string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convHex]
	if !ok {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	if c.Unread == nil {
		c.Unread = make(map[string]int)
	}
	c.Unread[userHex] = 0
	return nil
}

func (m *memConvs) IncrementUnread(ctx context.Context, convHex string, exceptUserHex string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convHex]
	if !ok {
		return apperr.New(apperr.NotFound, "conversation not found")
	}
	if c.Unread == nil {
		c.Unread = make(map[string]int)
	}
	for _, p := range c.Participants {
		if p.Hex != exceptUserHex {
			c.Unread[p.Hex]++
		}
	}
	return nil
}

type memMsgs MemRepository

func (m *memMsgs) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[msg.Conversation]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "conversation not found")
	}

	if msg.ID == "" {
		msg.ID = ids.MustGenerateHex(ids.DefaultHexBytes)
	}
	now := time.Now().UTC()
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := *msg
	r.msgs[msg.ID] = &cp

	c.Total++
	if c.Last == nil || msg.CreatedAt.After(c.Last.CreatedAt) {
		lastCopy := cp
		c.Last = &lastCopy
	}
	c.UpdatedAt = now

	out := cp
	return &out, nil
}

func (m *memMsgs) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	cp := *msg
	return &cp, nil
}

func (m *memMsgs) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) (*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	if model.StatusRank(status) <= model.StatusRank(msg.Status) {
		return nil, apperr.New(apperr.Invariant, "message status cannot move backward")
	}
	msg.Status = status
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	r.syncConversationLast(msg.Conversation, &cp)
	return &cp, nil
}

func (m *memMsgs) UpdateReactions(ctx context.Context, id string, slot string, value *model.Reaction) (*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	switch slot {
	case "from":
		msg.Reactions.From = value
	case "to":
		msg.Reactions.To = value
	default:
		return nil, apperr.Field(apperr.Validation, "slot", "must be from or to")
	}
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	r.syncConversationLast(msg.Conversation, &cp)
	return &cp, nil
}

func (m *memMsgs) UpdateContents(ctx context.Context, id string, senderContent, recipientContent model.Envelope) (*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "message not found")
	}
	msg.SenderContent = senderContent
	msg.RecipientContent = recipientContent
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	r.syncConversationLast(msg.Conversation, &cp)
	return &cp, nil
}

func (m *memMsgs) Delete(ctx context.Context, id, actor string) error {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return apperr.New(apperr.NotFound, "message not found")
	}
	if msg.User != actor {
		return apperr.New(apperr.Invariant, "only the author can delete a message")
	}
	delete(r.msgs, id)

	c, ok := r.convs[msg.Conversation]
	if !ok {
		return nil
	}
	if c.Total > 0 {
		c.Total--
	}
	if c.Last != nil && c.Last.ID == id {
		c.Last = r.recomputeLastLocked(msg.Conversation)
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memMsgs) Page(ctx context.Context, conversationHex string, page, pageSize int) ([]*model.Message, error) {
	r := (*MemRepository)(m)
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Message
	for _, msg := range r.msgs {
		if msg.Conversation == conversationHex {
			cp := *msg
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	start := (page - 1) * pageSize
	if start < 0 || start >= len(matched) {
		return []*model.Message{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// recomputeLastLocked finds the now-greatest-createdAt message of a
// conversation; caller holds r.mu.
func (r *MemRepository) recomputeLastLocked(conversationHex string) *model.Message {
	var best *model.Message
	for _, msg := range r.msgs {
		if msg.Conversation != conversationHex {
			continue
		}
		if best == nil || msg.CreatedAt.After(best.CreatedAt) {
			cp := *msg
			best = &cp
		}
	}
	return best
}

func (r *MemRepository) syncConversationLast(conversationHex string, updated *model.Message) {
	c, ok := r.convs[conversationHex]
	if !ok || c.Last == nil || c.Last.ID != updated.ID {
		return
	}
	lastCopy := *updated
	c.Last = &lastCopy
}
