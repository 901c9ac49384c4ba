package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brinewave/cipherline/internal/apperr"
)

func validContent() map[string]any {
	return map[string]any{"encrypted": "cipher-bytes", "nonce": "n1"}
}

func validNewMessageInput() map[string]any {
	return map[string]any{
		"conversation":     "abc123",
		"type":             "all",
		"user":             "userhex",
		"recipientContent": validContent(),
		"senderContent":    validContent(),
		"status":           "sent",
	}
}

func TestNewMessageSchemaAcceptsValidInput(t *testing.T) {
	out, err := NewMessageSchema().Apply(validNewMessageInput())
	require.Nil(t, err)
	assert.Equal(t, "abc123", out["conversation"])
}

func TestNewMessageSchemaRejectsMissingRequired(t *testing.T) {
	input := validNewMessageInput()
	delete(input, "recipientContent")
	_, err := NewMessageSchema().Apply(input)
	require.NotNil(t, err)
	assert.Equal(t, apperr.Validation, err.Kind)
	assert.Equal(t, "recipientContent", err.Field)
}

func TestNewMessageSchemaRejectsBadEnum(t *testing.T) {
	input := validNewMessageInput()
	input["type"] = "not-a-type"
	_, err := NewMessageSchema().Apply(input)
	require.NotNil(t, err)
	assert.Equal(t, "type", err.Field)
}

func TestNewMessageSchemaDoesNotValidateRoutingKind(t *testing.T) {
	input := validNewMessageInput()
	input["kind"] = "new"
	_, err := NewMessageSchema().Apply(input)
	assert.Nil(t, err)
}

func TestNewMessageSchemaEscapesStrings(t *testing.T) {
	input := validNewMessageInput()
	input["conversation"] = "<script>alert(1)</script>"
	out, err := NewMessageSchema().Apply(input)
	require.Nil(t, err)
	assert.NotContains(t, out["conversation"], "<script>")
}

func TestContentFieldRequiresEncryptedAndNonce(t *testing.T) {
	input := validNewMessageInput()
	input["senderContent"] = map[string]any{"encrypted": ""}
	_, err := NewMessageSchema().Apply(input)
	require.NotNil(t, err)
	assert.Equal(t, "senderContent", err.Field)
}

func TestReplySchemaRequiresParent(t *testing.T) {
	input := validNewMessageInput()
	_, err := ReplySchema().Apply(input)
	require.NotNil(t, err)
	assert.Equal(t, "parent", err.Field)

	input["parent"] = "parent-hex"
	_, err = ReplySchema().Apply(input)
	assert.Nil(t, err)
}

func TestContentEditSchema(t *testing.T) {
	input := map[string]any{"senderContent": validContent(), "recipientContent": validContent()}
	_, err := ContentEditSchema().Apply(input)
	assert.Nil(t, err)

	delete(input, "recipientContent")
	_, err = ContentEditSchema().Apply(input)
	require.NotNil(t, err)
	assert.Equal(t, "recipientContent", err.Field)
}

func TestArrayFieldBounds(t *testing.T) {
	s := Schema{Fields: []Field{{Name: "tags", Type: TypeArray, MaxLength: 2}}}
	_, err := s.Apply(map[string]any{"tags": []any{"a", "b", "c"}})
	require.NotNil(t, err)
	assert.Equal(t, "tags", err.Field)
}
