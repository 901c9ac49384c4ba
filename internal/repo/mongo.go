package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/ids"
	"github.com/brinewave/cipherline/internal/model"
)

// MongoRepository is the MongoDB-backed Repository, wrapping the
// user/conversation/message collections behind one handle.
type MongoRepository struct {
	users *mongoUsers
	convs *mongoConvs
	msgs  *mongoMsgs
}

// NewMongoRepository wraps the three named collections and ensures
// their indexes exist.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	usersCol := db.Collection("users")
	convsCol := db.Collection("conversations")
	msgsCol := db.Collection("messages")

	indexes := []struct {
		col   *mongo.Collection
		model mongo.IndexModel
	}{
		{usersCol, mongo.IndexModel{Keys: bson.D{{Key: "hex", Value: 1}}, Options: options.Index().SetUnique(true).SetName("hex_unique")}},
		{convsCol, mongo.IndexModel{Keys: bson.D{{Key: "hex", Value: 1}}, Options: options.Index().SetUnique(true).SetName("hex_unique")}},
		{convsCol, mongo.IndexModel{Keys: bson.D{{Key: "participants.hex", Value: 1}}, Options: options.Index().SetName("participants_hex")}},
		{msgsCol, mongo.IndexModel{Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("conversation_createdAt")}},
		{msgsCol, mongo.IndexModel{Keys: bson.D{{Key: "parent", Value: 1}}, Options: options.Index().SetSparse(true).SetName("parent_sparse")}},
	}
	for _, ix := range indexes {
		if _, err := ix.col.Indexes().CreateOne(ctx, ix.model); err != nil {
			return nil, err
		}
	}

	return &MongoRepository{
		users: &mongoUsers{col: usersCol},
		convs: &mongoConvs{col: convsCol},
		msgs:  &mongoMsgs{col: msgsCol, convs: convsCol},
	}, nil
}

func (r *MongoRepository) Users() UserRepository                 { return r.users }
func (r *MongoRepository) Conversations() ConversationRepository { return r.convs }
func (r *MongoRepository) Messages() MessageRepository           { return r.msgs }

func wrapMongoErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if err == mongo.ErrNoDocuments {
		return apperr.New(apperr.NotFound, notFoundMsg)
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperr.Wrap(apperr.Conflict, "duplicate key", err)
	}
	return apperr.Wrap(apperr.Backend, "storage failure", err)
}

type mongoUsers struct{ col *mongo.Collection }

func (m *mongoUsers) Create(ctx context.Context, u *model.User) (*model.User, error) {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = model.UserActive
	}
	if _, err := m.col.InsertOne(ctx, u); err != nil {
		return nil, wrapMongoErr(err, "user not found")
	}
	return u, nil
}

func (m *mongoUsers) FindByHex(ctx context.Context, hex string) (*model.User, error) {
	var u model.User
	if err := m.col.FindOne(ctx, bson.M{"hex": hex}).Decode(&u); err != nil {
		return nil, wrapMongoErr(err, "user not found")
	}
	return &u, nil
}

func (m *mongoUsers) UpdatePublicKeys(ctx context.Context, hex, publicKey, encryptedPrivateKey, nonce, salt string) error {
	res, err := m.col.UpdateOne(ctx, bson.M{"hex": hex}, bson.M{"$set": bson.M{
		"publicKey":           publicKey,
		"encryptedPrivateKey": encryptedPrivateKey,
		"privateKeyNonce":     nonce,
		"passcodeSalt":        salt,
		"updatedAt":           time.Now().UTC(),
	}})
	if err != nil {
		return wrapMongoErr(err, "user not found")
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

var editableUserFields = map[string]bool{"name": true, "avatar": true, "status": true, "verified": true}

func (m *mongoUsers) UpdateField(ctx context.Context, hex, field string, value any) error {
	if !editableUserFields[field] {
		return apperr.Field(apperr.Validation, field, "is not an editable field")
	}
	res, err := m.col.UpdateOne(ctx, bson.M{"hex": hex}, bson.M{"$set": bson.M{
		field:       value,
		"updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return wrapMongoErr(err, "user not found")
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

func (m *mongoUsers) Delete(ctx context.Context, hex string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"hex": hex})
	if err != nil {
		return wrapMongoErr(err, "user not found")
	}
	if res.DeletedCount == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}

type mongoConvs struct{ col *mongo.Collection }

func (m *mongoConvs) Create(ctx context.Context, in CreateConversationInput) (*model.Conversation, error) {
	hexes := make([]string, 0, len(in.Participants))
	for _, p := range in.Participants {
		hexes = append(hexes, p.Hex)
	}
	if _, err := m.Exists(ctx, hexes); err == nil {
		return nil, apperr.New(apperr.Conflict, "conversation already exists for this participant pair")
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
	if _, err := m.col.InsertOne(ctx, c); err != nil {
		return nil, wrapMongoErr(err, "conversation not found")
	}
	return c, nil
}

func (m *mongoConvs) FindByHex(ctx context.Context, hex string) (*model.Conversation, error) {
	var c model.Conversation
	if err := m.col.FindOne(ctx, bson.M{"hex": hex}).Decode(&c); err != nil {
		return nil, wrapMongoErr(err, "conversation not found")
	}
	return &c, nil
}

// Exists matches a conversation whose participant set equals
// participantHexes regardless of order, honoring the unordered-pair
// uniqueness invariant.
func (m *mongoConvs) Exists(ctx context.Context, participantHexes []string) (*model.Conversation, error) {
	filter := bson.M{
		"participants.hex": bson.M{"$all": participantHexes},
		"$expr":            bson.M{"$eq": bson.A{bson.M{"$size": "$participants"}, len(participantHexes)}},
	}
	var c model.Conversation
	if err := m.col.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, wrapMongoErr(err, "conversation not found")
	}
	return &c, nil
}

func (m *mongoConvs) Page(ctx context.Context, participantHex string, filter ConversationFilter, page, pageSize int) ([]*model.Conversation, error) {
	query := bson.M{"participants.hex": participantHex}
	switch filter {
	case FilterRequest:
		query["trust"] = model.TrustRequest
	case FilterTrusted:
		query["trust"] = model.TrustTrusted
	case FilterTrustedUnread:
		query["trust"] = model.TrustTrusted
		query["unread."+participantHex] = bson.M{"$gt": 0}
	case FilterPinned:
		query["pins.userHex"] = participantHex
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cur, err := m.col.Find(ctx, query, opts)
	if err != nil {
		return nil, wrapMongoErr(err, "conversation not found")
	}
	defer cur.Close(ctx)

	out := []*model.Conversation{}
	for cur.Next(ctx) {
		var c model.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, wrapMongoErr(err, "conversation not found")
		}
		out = append(out, &c)
	}
	return out, nil
}

func (m *mongoConvs) Pin(ctx context.Context, convHex, userHex string, maxPins int) error {
	var c model.Conversation
	if err := m.col.FindOne(ctx, bson.M{"hex": convHex}).Decode(&c); err != nil {
		return wrapMongoErr(err, "conversation not found")
	}
	if c.IsPinnedBy(userHex) {
		return apperr.New(apperr.Conflict, "conversation already pinned")
	}
	count, err := m.col.CountDocuments(ctx, bson.M{"pins.userHex": userHex})
	if err != nil {
		return wrapMongoErr(err, "conversation not found")
	}
	if count >= int64(maxPins) {
		return apperr.New(apperr.Invariant, "cannot pin more than the configured maximum conversations")
	}
	_, err = m.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{
		"$push": bson.M{"pins": model.Pin{UserHex: userHex, PinnedAt: time.Now().UTC()}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	return wrapMongoErr(err, "conversation not found")
}

func (m *mongoConvs) Unpin(ctx context.Context, convHex, userHex string) error {
	_, err := m.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{
		"$pull": bson.M{"pins": bson.M{"userHex": userHex}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	return wrapMongoErr(err, "conversation not found")
}

func (m *mongoConvs) Accept(ctx context.Context, convHex, userHex string) error {
	var c model.Conversation
	if err := m.col.FindOne(ctx, bson.M{"hex": convHex}).Decode(&c); err != nil {
		return wrapMongoErr(err, "conversation not found")
	}
	if !c.IsParticipant(userHex) {
		return apperr.New(apperr.Forbidden, "not a participant")
	}
	if c.Trust != model.TrustRequest {
		return apperr.New(apperr.Invariant, "conversation is not awaiting acceptance")
	}
	_, err := m.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{"$set": bson.M{
		"trust":     model.TrustTrusted,
		"updatedAt": time.Now().UTC(),
	}})
	return wrapMongoErr(err, "conversation not found")
}

func (m *mongoConvs) Counts(ctx context.Context, userHex string) (ConversationCounts, error) {
	cur, err := m.col.Find(ctx, bson.M{"participants.hex": userHex})
	if err != nil {
		return ConversationCounts{}, wrapMongoErr(err, "conversation not found")
	}
	defer cur.Close(ctx)

	var out ConversationCounts
	for cur.Next(ctx) {
		var c model.Conversation
		if err := cur.Decode(&c); err != nil {
			return ConversationCounts{}, wrapMongoErr(err, "conversation not found")
		}
		out.Total++
		out.Unread += c.UnreadFor(userHex)
		if c.Trust == model.TrustRequest && c.From != userHex {
			out.Requested++
		}
	}
	return out, nil
}

func (m *mongoConvs) MarkRead(ctx context.Context, convHex, userHex string) error {
	_, err := m.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{"$set": bson.M{
		"unread." + userHex: 0,
	}})
	return wrapMongoErr(err, "conversation not found")
}

func (m *mongoConvs) IncrementUnread(ctx context.Context, convHex string, exceptUserHex string) error {
	var c model.Conversation
	if err := m.col.FindOne(ctx, bson.M{"hex": convHex}).Decode(&c); err != nil {
		return wrapMongoErr(err, "conversation not found")
	}
	inc := bson.M{}
	for _, p := range c.Participants {
		if p.Hex != exceptUserHex {
			inc["unread."+p.Hex] = 1
		}
	}
	if len(inc) == 0 {
		return nil
	}
	_, err := m.col.UpdateOne(ctx, bson.M{"hex": convHex}, bson.M{"$inc": inc})
	return wrapMongoErr(err, "conversation not found")
}

type mongoMsgs struct {
	col   *mongo.Collection
	convs *mongo.Collection
}

func (m *mongoMsgs) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.ID == "" {
		msg.ID = ids.MustGenerateHex(ids.DefaultHexBytes)
	}
	now := time.Now().UTC()
	msg.CreatedAt, msg.UpdatedAt = now, now

	if _, err := m.col.InsertOne(ctx, msg); err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	_, err := m.convs.UpdateOne(ctx, bson.M{"hex": msg.Conversation}, bson.M{
		"$set": bson.M{"last": msg, "updatedAt": now},
		"$inc": bson.M{"total": 1},
	})
	if err != nil {
		return nil, wrapMongoErr(err, "conversation not found")
	}
	return msg, nil
}

func (m *mongoMsgs) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	return &msg, nil
}

func (m *mongoMsgs) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) (*model.Message, error) {
	existing, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.StatusRank(status) <= model.StatusRank(existing.Status) {
		return nil, apperr.New(apperr.Invariant, "message status cannot move backward")
	}
	existing.Status = status
	existing.UpdatedAt = time.Now().UTC()
	if _, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"status":    status,
		"updatedAt": existing.UpdatedAt,
	}}); err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	m.syncConversationLast(ctx, existing)
	return existing, nil
}

func (m *mongoMsgs) UpdateReactions(ctx context.Context, id string, slot string, value *model.Reaction) (*model.Message, error) {
	if slot != "from" && slot != "to" {
		return nil, apperr.Field(apperr.Validation, "slot", "must be from or to")
	}
	existing, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot == "from" {
		existing.Reactions.From = value
	} else {
		existing.Reactions.To = value
	}
	existing.UpdatedAt = time.Now().UTC()
	if _, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"reactions." + slot: value,
		"updatedAt":         existing.UpdatedAt,
	}}); err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	m.syncConversationLast(ctx, existing)
	return existing, nil
}

func (m *mongoMsgs) UpdateContents(ctx context.Context, id string, senderContent, recipientContent model.Envelope) (*model.Message, error) {
	existing, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.SenderContent = senderContent
	existing.RecipientContent = recipientContent
	existing.UpdatedAt = time.Now().UTC()
	if _, err := m.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"senderContent":    senderContent,
		"recipientContent": recipientContent,
		"updatedAt":        existing.UpdatedAt,
	}}); err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	m.syncConversationLast(ctx, existing)
	return existing, nil
}

func (m *mongoMsgs) Delete(ctx context.Context, id, actor string) error {
	existing, err := m.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.User != actor {
		return apperr.New(apperr.Invariant, "only the author can delete a message")
	}
	if _, err := m.col.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return wrapMongoErr(err, "message not found")
	}

	newLast, lastErr := m.recomputeLast(ctx, existing.Conversation)
	if lastErr != nil {
		return lastErr
	}
	_, err = m.convs.UpdateOne(ctx, bson.M{"hex": existing.Conversation}, bson.M{
		"$set": bson.M{"last": newLast, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"total": -1},
	})
	return wrapMongoErr(err, "conversation not found")
}

func (m *mongoMsgs) Page(ctx context.Context, conversationHex string, page, pageSize int) ([]*model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))
	cur, err := m.col.Find(ctx, bson.M{"conversation": conversationHex}, opts)
	if err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	defer cur.Close(ctx)

	out := []*model.Message{}
	for cur.Next(ctx) {
		var msg model.Message
		if err := cur.Decode(&msg); err != nil {
			return nil, wrapMongoErr(err, "message not found")
		}
		out = append(out, &msg)
	}
	return out, nil
}

// recomputeLast finds the now-greatest-createdAt message of a
// conversation after a delete, or nil when none remain.
func (m *mongoMsgs) recomputeLast(ctx context.Context, conversationHex string) (*model.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var msg model.Message
	err := m.col.FindOne(ctx, bson.M{"conversation": conversationHex}, opts).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoErr(err, "message not found")
	}
	return &msg, nil
}

// syncConversationLast refreshes conversations.last in place when the
// updated message is still the conversation's most recent one.
func (m *mongoMsgs) syncConversationLast(ctx context.Context, updated *model.Message) {
	_, _ = m.convs.UpdateOne(ctx,
		bson.M{"hex": updated.Conversation, "last._id": updated.ID},
		bson.M{"$set": bson.M{"last": updated}})
}
