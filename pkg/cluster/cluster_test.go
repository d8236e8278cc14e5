package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(Node{ID: 1, Host: "broker-a", Port: 9092})

	node, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "broker-a:9092", node.Addr())

	_, ok = r.Lookup(2)
	assert.False(t, ok)
}

func TestRegistryReRegisterReplacesAddress(t *testing.T) {
	r := NewRegistry()
	r.Register(Node{ID: 1, Host: "old", Port: 9092})
	r.Register(Node{ID: 1, Host: "new", Port: 9093})

	node, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "new:9093", node.Addr())
	assert.Len(t, r.Nodes(), 1)
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver()

	_, ok := r.LeaderFor("T", 0)
	assert.False(t, ok)

	r.SetLeader("T", 0, 3)
	leader, ok := r.LeaderFor("T", 0)
	require.True(t, ok)
	assert.Equal(t, int32(3), leader)

	r.SetLeader("T", 0, 4)
	leader, _ = r.LeaderFor("T", 0)
	assert.Equal(t, int32(4), leader, "resolver reflects the latest known state")

	r.ClearLeader("T", 0)
	_, ok = r.LeaderFor("T", 0)
	assert.False(t, ok)
}
