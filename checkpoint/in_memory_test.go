package checkpoint

import (
	"context"
	"testing"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_LoadMissing(t *testing.T) {
	s := NewInMemoryStore()
	cp, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestInMemoryStore_SaveIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	p := plan.Open("a", "b")
	msgs := []core.Message{core.NewUserMessage("hi")}
	require.NoError(t, s.Save(ctx, "t1", core.Checkpoint{
		Context:  core.ExecutionContext{ThreadKey: "t1", Turn: 1, Plan: &p},
		Messages: msgs,
		Next:     "SELECT_TOOL",
	}))

	// mutating the caller's slice does not leak into the store
	msgs[0].Content = "changed"

	cp, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "t1", cp.ThreadKey)
	assert.Equal(t, "hi", cp.Messages[0].Content)
	assert.Equal(t, "SELECT_TOOL", cp.Next)
	assert.False(t, cp.Finished())
	assert.False(t, cp.UpdatedAt.IsZero())
	assert.Equal(t, []string{"a", "b"}, cp.Context.Plan.Tasks())

	cp.Messages[0].Content = "mutated"
	again, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Messages[0].Content)

	assert.Equal(t, []string{"t1"}, s.Threads())
}
