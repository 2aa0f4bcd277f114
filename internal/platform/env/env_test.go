package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonEmptyTreatsBlankAsUnset(t *testing.T) {
	assert.Equal(t, "fallback", NonEmpty("ATTRIBUTION_ENV_DOES_NOT_EXIST", "fallback"))

	t.Setenv("ATTRIBUTION_ENV_BLANK", "   ")
	assert.Equal(t, "fallback", NonEmpty("ATTRIBUTION_ENV_BLANK", "fallback"))

	t.Setenv("ATTRIBUTION_ENV_SET", " https://example.test ")
	assert.Equal(t, "https://example.test", NonEmpty("ATTRIBUTION_ENV_SET", "fallback"))
}

func TestList(t *testing.T) {
	def := []string{"a"}
	assert.Equal(t, def, List("ATTRIBUTION_ENV_LIST_DOES_NOT_EXIST", def))

	t.Setenv("ATTRIBUTION_ENV_LIST", " x, ,y ,")
	assert.Equal(t, []string{"x", "y"}, List("ATTRIBUTION_ENV_LIST", def))

	t.Setenv("ATTRIBUTION_ENV_LIST_EMPTY", " , ")
	assert.Equal(t, def, List("ATTRIBUTION_ENV_LIST_EMPTY", def))
}
