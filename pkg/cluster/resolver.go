package cluster

import (
	"sync"

	"github.com/cursus-io/txnmarker/pkg/types"
)

// LeaderResolver answers which broker currently leads a partition. It must
// reflect the most recently known cluster state; staleness is tolerated by
// callers, incorrect answers are not.
type LeaderResolver interface {
	LeaderFor(topic string, partition int32) (int32, bool)
}

// StaticResolver is a mutable in-memory leader table. The cluster metadata
// listener updates it as leadership moves; tests drive it directly.
type StaticResolver struct {
	mu      sync.RWMutex
	leaders map[types.TopicPartition]int32
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{leaders: make(map[types.TopicPartition]int32)}
}

func (r *StaticResolver) SetLeader(topic string, partition int32, brokerID int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaders[types.TopicPartition{Topic: topic, Partition: partition}] = brokerID
}

func (r *StaticResolver) ClearLeader(topic string, partition int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.leaders, types.TopicPartition{Topic: topic, Partition: partition})
}

func (r *StaticResolver) LeaderFor(topic string, partition int32) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.leaders[types.TopicPartition{Topic: topic, Partition: partition}]
	return id, ok
}
