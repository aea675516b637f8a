package state

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCheckpointID(t *testing.T) {
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, NewCheckpointID())
	}

	assert.True(t, sort.StringsAreSorted(ids), "ids must sort in creation order")
}

func TestCheckpointNext(t *testing.T) {
	first := NewCheckpoint(map[string]any{"messages": "hi"})
	first.ChannelVersions = map[string]string{"messages": "1"}

	second := first.Next(map[string]any{"tool": "result"})

	require.NotEqual(t, first.ID, second.ID)
	assert.Less(t, first.ID, second.ID)
	assert.Equal(t, map[string]any{"messages": "hi"}, first.ChannelValues)
	assert.Equal(t, map[string]any{"messages": "hi", "tool": "result"}, second.ChannelValues)

	second.ChannelVersions["messages"] = "2"
	assert.Equal(t, "1", first.ChannelVersions["messages"])
}

func TestCheckpointCopyNil(t *testing.T) {
	var c *Checkpoint
	assert.Nil(t, c.Copy())
}
