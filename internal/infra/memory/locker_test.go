package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafi/big-querier/internal/domain"
)

func TestLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocker()

	a, err := l.Lock(ctx, "warmup")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "warmup")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	_, err = l.Lock(ctx, "other")
	assert.NoError(t, err)

	require.NoError(t, a.Unlock(ctx))
	require.NoError(t, a.Unlock(ctx))
	_, err = l.Lock(ctx, "warmup")
	assert.NoError(t, err)
}
