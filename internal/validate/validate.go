// Package validate implements the schema-driven structural validator
// (C3): for each declared field it checks presence, type, length
// bounds, and enum membership, failing closed on the first violation,
// and HTML-escapes the string values of declared fields in the copy it
// returns. Undeclared keys are copied unchanged. Field.MinValue,
// MaxValue and HasRange are not checked: no field type is numeric.
package validate

import (
	"html"

	"github.com/brinewave/cipherline/internal/apperr"
)

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeBool    FieldType = "boolean"
	TypeEnum    FieldType = "enum"
	TypeArray   FieldType = "array"
	TypeContent FieldType = "content"
)

type Field struct {
	Name      string
	Type      FieldType
	Required  bool
	MinLength int
	MaxLength int
	MinValue  float64
	MaxValue  float64
	HasRange  bool
	Enum      []string
}

type Schema struct {
	Fields []Field
}

func fail(field, message string) *apperr.Error {
	return apperr.Field(apperr.Validation, field, message)
}

// Apply walks the schema's fields in declared order and returns a
// sanitised copy of input, or the first validation failure.
func (s Schema) Apply(input map[string]any) (map[string]any, *apperr.Error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}

	for _, f := range s.Fields {
		v, present := out[f.Name]
		if !present || v == nil {
			if f.Required {
				return nil, fail(f.Name, "is required")
			}
			continue
		}
		sanitised, err := applyField(f, v)
		if err != nil {
			return nil, err
		}
		out[f.Name] = sanitised
	}
	return out, nil
}

func applyField(f Field, v any) (any, *apperr.Error) {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fail(f.Name, "must be a string")
		}
		if f.MinLength > 0 && len(s) < f.MinLength {
			return nil, fail(f.Name, "is shorter than the minimum length")
		}
		if f.MaxLength > 0 && len(s) > f.MaxLength {
			return nil, fail(f.Name, "exceeds the maximum length")
		}
		return escape(s), nil

	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fail(f.Name, "must be a boolean")
		}
		return b, nil

	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fail(f.Name, "must be a string")
		}
		if !contains(f.Enum, s) {
			return nil, fail(f.Name, "is not a permitted value")
		}
		return escape(s), nil

	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, fail(f.Name, "must be an array")
		}
		if f.MinLength > 0 && len(arr) < f.MinLength {
			return nil, fail(f.Name, "has fewer elements than the minimum")
		}
		if f.MaxLength > 0 && len(arr) > f.MaxLength {
			return nil, fail(f.Name, "has more elements than the maximum")
		}
		sanitised := make([]any, len(arr))
		for i, el := range arr {
			if s, ok := el.(string); ok {
				sanitised[i] = escape(s)
			} else {
				sanitised[i] = el
			}
		}
		return sanitised, nil

	case TypeContent:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fail(f.Name, "must be an object with encrypted and nonce")
		}
		enc, _ := obj["encrypted"].(string)
		nonce, _ := obj["nonce"].(string)
		if enc == "" {
			return nil, fail(f.Name, "encrypted must be a non-empty string")
		}
		if nonce == "" {
			return nil, fail(f.Name, "nonce must be a non-empty string")
		}
		return map[string]any{"encrypted": escape(enc), "nonce": escape(nonce)}, nil

	default:
		return nil, fail(f.Name, "has an unrecognised field type")
	}
}

func escape(s string) string {
	return html.EscapeString(s)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Enum constants shared by the schema constructors below.
var (
	MessageKindEnum = []string{"message", "reply", "forward"}
	MessageTypeEnum = []string{"all", "audio"}
	StatusEnum      = []string{"sent", "delivered", "read"}
	ReactionEnum    = []string{"like", "love", "laugh", "wow", "sad", "angry"}
)

// NewMessageSchema returns the schema for a freshly composed message.
// It does not validate a "kind" field: that key is already consumed by the
// dispatcher's own frame-routing lookup ("new"/"reply"/...), and the
// persisted message's Kind is set by which handler ran, not by
// client input.
func NewMessageSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "conversation", Type: TypeString, Required: true, MaxLength: 64},
		{Name: "type", Type: TypeEnum, Required: true, Enum: MessageTypeEnum},
		{Name: "user", Type: TypeString, Required: true, MaxLength: 64},
		{Name: "recipientContent", Type: TypeContent, Required: true},
		{Name: "senderContent", Type: TypeContent, Required: true},
		{Name: "status", Type: TypeEnum, Required: true, Enum: StatusEnum},
		{Name: "attachments", Type: TypeArray},
		{Name: "images", Type: TypeArray},
		{Name: "videos", Type: TypeArray},
		{Name: "reactions", Type: TypeArray},
		{Name: "audio", Type: TypeString, MaxLength: 512},
	}}
}

// ReplySchema returns the "reply" schema: the new-message schema plus
// a required parent.
func ReplySchema() Schema {
	s := NewMessageSchema()
	s.Fields = append(s.Fields, Field{Name: "parent", Type: TypeString, Required: true, MaxLength: 64})
	return s
}

// ContentEditSchema returns the schema for editing a message's
// encrypted content in place.
func ContentEditSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "senderContent", Type: TypeContent, Required: true},
		{Name: "recipientContent", Type: TypeContent, Required: true},
	}}
}
