package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateHexLengthAndCharset(t *testing.T) {
	s, err := GenerateHex(DefaultHexBytes)
	assert.NoError(t, err)
	assert.Len(t, s, DefaultHexBytes*2)
	for _, r := range s {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestGenerateHexUnique(t *testing.T) {
	a := MustGenerateHex(DefaultHexBytes)
	b := MustGenerateHex(DefaultHexBytes)
	assert.NotEqual(t, a, b)
}
