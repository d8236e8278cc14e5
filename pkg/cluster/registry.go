package cluster

import (
	"fmt"
	"sync"
)

// Node is the network identity of one broker.
type Node struct {
	ID   int32
	Host string
	Port int
}

func (n Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

func (n Node) String() string {
	return fmt.Sprintf("broker-%d@%s", n.ID, n.Addr())
}

// Registry maps broker ids to their network identity. Re-registering an id
// replaces the address.
type Registry struct {
	mu    sync.RWMutex
	nodes map[int32]Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[int32]Node)}
}

func (r *Registry) Register(node Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes[node.ID] = node
}

func (r *Registry) Lookup(id int32) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[id]
	return node, ok
}

func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node)
	}
	return out
}
