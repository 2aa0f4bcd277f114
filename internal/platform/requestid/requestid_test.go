package requestid

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, New())
}

func TestFromContext(t *testing.T) {
	ctx := WithContext(context.Background(), "run-1")
	assert.Equal(t, "run-1", FromContext(ctx))
	assert.NotEmpty(t, FromContext(context.Background()))
}
