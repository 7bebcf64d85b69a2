package relaysim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, Options{}, zap.NewNop())

	lb1 := h.Create(ctx)
	require.NotNil(t, lb1)
	assert.GreaterOrEqual(t, lb1.Code(), 100000)
	assert.LessOrEqual(t, lb1.Code(), 999999)

	lb2 := h.Get(ctx, lb1.Code())
	assert.Same(t, lb1, lb2)

	h.Inbox() <- RemoveLobby{Code: lb1.Code()}
	assert.Nil(t, h.Get(ctx, lb1.Code()))
}

func TestHub_PlayerIDsUniqueAcrossLobbies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, Options{}, zap.NewNop())

	a, b := h.Create(ctx), h.Create(ctx)
	require.NotNil(t, a)
	require.NotNil(t, b)

	ra := join(t, a, "a", make(chan []byte, 8))
	rb := join(t, b, "b", make(chan []byte, 8))
	assert.NotEqual(t, ra.PlayerID, rb.PlayerID)
}

func TestHub_ShutdownReturnsNil(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, Options{}, zap.NewNop())
	h.Inbox() <- ShutdownHub{}
	<-h.ctx.Done()

	assert.Nil(t, h.Create(ctx))
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		c, err := GenerateCode()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c, 100000)
		assert.LessOrEqual(t, c, 999999)
	}
}
