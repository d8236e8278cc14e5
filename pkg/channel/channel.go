package channel

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/cluster"
	"github.com/cursus-io/txnmarker/pkg/metrics"
	"github.com/cursus-io/txnmarker/pkg/protocol"
	"github.com/cursus-io/txnmarker/pkg/types"
)

var (
	// ErrPendingTxnExists reports a second pending registration for a
	// producer id that already has marker writes outstanding.
	ErrPendingTxnExists = errors.New("pending transaction already exists")

	// ErrNoPendingTxn reports a lookup for a producer id with no
	// outstanding marker writes.
	ErrNoPendingTxn = errors.New("no pending transaction")
)

// unknownDestinationID keys the queue of markers whose partition leader was
// unresolved at enqueue time. Drain cycles re-attempt resolution for it.
const unknownDestinationID int32 = -1

// CompletionCallback receives the summarized outcome of a transaction once
// every targeted partition has reported. It fires exactly once.
type CompletionCallback func(code protocol.ErrorCode)

// Outcome classifies the effect of applying one per-partition response.
type Outcome int

const (
	// OutcomeUnmatched means the (producerId, partition) pair had nothing
	// waiting on it. The response entry is discarded.
	OutcomeUnmatched Outcome = iota
	// OutcomePending means the transaction is still waiting on other
	// partitions.
	OutcomePending
	// OutcomeCompleted means this was the last awaited partition and the
	// completion callback fired.
	OutcomeCompleted
)

// brokerState owns the ordered marker queue of one destination broker. The
// queue persists under the broker id across re-registrations of the node.
type brokerState struct {
	mu    sync.Mutex
	queue []*types.TxnMarkerEntry
}

// enqueue appends unless the queue is at its bound. A bound of zero or less
// means unbounded.
func (b *brokerState) enqueue(entry *types.TxnMarkerEntry, bound int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bound > 0 && len(b.queue) >= bound {
		return false
	}
	b.queue = append(b.queue, entry)
	return true
}

// drain removes and returns every currently queued entry in one atomic step.
func (b *brokerState) drain() []*types.TxnMarkerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue
	b.queue = nil
	return q
}

func (b *brokerState) snapshot() []*types.TxnMarkerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*types.TxnMarkerEntry, len(b.queue))
	copy(out, b.queue)
	return out
}

type pendingTxn struct {
	metadata     *types.TransactionMetadata
	callback     CompletionCallback
	registeredAt time.Time

	mu       sync.Mutex
	firstErr protocol.ErrorCode
	errSet   bool
	once     sync.Once
}

func (p *pendingTxn) recordError(code protocol.ErrorCode) {
	if code == protocol.ErrNone {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.errSet {
		p.firstErr = code
		p.errSet = true
	}
}

func (p *pendingTxn) summary() protocol.ErrorCode {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.errSet {
		return p.firstErr
	}
	return protocol.ErrNone
}

// MarkerChannel routes marker writes into per-broker queues and tracks which
// producer transactions still await acknowledgment.
type MarkerChannel struct {
	logger   *zap.Logger
	resolver cluster.LeaderResolver
	registry *cluster.Registry
	maxQueue int

	mu      sync.RWMutex
	brokers map[int32]*brokerState
	pending map[int64]*pendingTxn
}

func NewMarkerChannel(resolver cluster.LeaderResolver, registry *cluster.Registry, maxQueuePerBroker int, logger *zap.Logger) *MarkerChannel {
	return &MarkerChannel{
		logger:   logger,
		resolver: resolver,
		registry: registry,
		maxQueue: maxQueuePerBroker,
		brokers:  make(map[int32]*brokerState),
		pending:  make(map[int64]*pendingTxn),
	}
}

// AddNewBroker registers a destination. Re-adding an existing broker id
// replaces its address but keeps the queued entries tied to the id.
func (c *MarkerChannel) AddNewBroker(node cluster.Node) {
	c.registry.Register(node)
	c.brokerState(node.ID)
	c.logger.Info("Registered destination broker", zap.Int32("brokerId", node.ID), zap.String("addr", node.Addr()))
}

// brokerState returns the queue owner for a broker id, creating it on first
// use. The unknown-destination id gets a queue like any other.
func (c *MarkerChannel) brokerState(id int32) *brokerState {
	c.mu.RLock()
	bs, ok := c.brokers[id]
	c.mu.RUnlock()
	if ok {
		return bs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if bs, ok = c.brokers[id]; !ok {
		bs = &brokerState{}
		c.brokers[id] = bs
	}
	return bs
}

// AddRequestToSend resolves the leader of every partition and enqueues one
// marker entry per destination broker. Leader resolution happens per call;
// nothing is cached between transactions. Partitions with no known leader
// are parked on the unknown-destination queue and retried on later drain
// cycles. The returned slice holds partitions shed because a queue was at
// its bound; the caller must treat them as retryable.
func (c *MarkerChannel) AddRequestToSend(pid int64, epoch int16, result types.TransactionResult, coordinatorEpoch int32, partitions []types.TopicPartition) []types.TopicPartition {
	grouped := make(map[int32][]types.TopicPartition)
	for _, tp := range partitions {
		leader, ok := c.resolver.LeaderFor(tp.Topic, tp.Partition)
		if !ok {
			metrics.UnresolvedPartitions.Inc()
			c.logger.Debug("No leader known for partition, parking marker",
				zap.Int64("producerId", pid), zap.String("partition", tp.String()))
			leader = unknownDestinationID
		}
		grouped[leader] = append(grouped[leader], tp)
	}

	var shed []types.TopicPartition
	for destination, tps := range grouped {
		entry := &types.TxnMarkerEntry{
			ProducerID:       pid,
			ProducerEpoch:    epoch,
			CoordinatorEpoch: coordinatorEpoch,
			Result:           result,
			Partitions:       tps,
		}
		shed = append(shed, c.enqueueEntry(destination, entry)...)
	}
	return shed
}

// parkEntry places an entry on the unknown-destination queue without a
// bound. Entries already admitted into the channel are never dropped; the
// bound applies at admission only.
func (c *MarkerChannel) parkEntry(entry *types.TxnMarkerEntry) {
	c.brokerState(unknownDestinationID).enqueue(entry, 0)
	metrics.MarkersQueued.WithLabelValues(strconv.Itoa(int(unknownDestinationID))).Inc()
}

// enqueueEntry appends an entry to a destination queue, returning the
// entry's partitions if the queue was at its bound.
func (c *MarkerChannel) enqueueEntry(destination int32, entry *types.TxnMarkerEntry) []types.TopicPartition {
	bs := c.brokerState(destination)
	if !bs.enqueue(entry, c.maxQueue) {
		metrics.ShedMarkers.Inc()
		c.logger.Warn("Marker queue at bound, shedding entry",
			zap.Int32("brokerId", destination),
			zap.Int64("producerId", entry.ProducerID),
			zap.Int("partitions", len(entry.Partitions)))
		return entry.Partitions
	}
	metrics.MarkersQueued.WithLabelValues(strconv.Itoa(int(destination))).Inc()
	return nil
}

// MaybeAddPendingRequest registers a transaction as awaiting markers. At
// most one pending entry may exist per producer id; a duplicate registration
// is a coordinator protocol violation and fails without touching the first.
func (c *MarkerChannel) MaybeAddPendingRequest(meta *types.TransactionMetadata, callback CompletionCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[meta.ProducerID]; ok {
		return fmt.Errorf("%w for producer %d", ErrPendingTxnExists, meta.ProducerID)
	}
	c.pending[meta.ProducerID] = &pendingTxn{
		metadata:     meta,
		callback:     callback,
		registeredAt: time.Now(),
	}
	metrics.PendingTransactions.Inc()
	return nil
}

// PendingTxnMetadata returns the metadata of a pending transaction. Callers
// must expect the lookup to fail for producer ids with nothing outstanding.
func (c *MarkerChannel) PendingTxnMetadata(pid int64) (*types.TransactionMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pending[pid]
	if !ok {
		return nil, fmt.Errorf("%w for producer %d", ErrNoPendingTxn, pid)
	}
	return p.metadata, nil
}

// RemovePendingTxnMetadata drops the pending entry, if any. Subsequent
// lookups for the producer id fail.
func (c *MarkerChannel) RemovePendingTxnMetadata(pid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[pid]; ok {
		delete(c.pending, pid)
		metrics.PendingTransactions.Dec()
	}
}

func (c *MarkerChannel) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.pending)
}

// QueuedMarkers returns a copy of a broker's queue for introspection.
func (c *MarkerChannel) QueuedMarkers(brokerID int32) []*types.TxnMarkerEntry {
	c.mu.RLock()
	bs, ok := c.brokers[brokerID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return bs.snapshot()
}

// UnknownDestinationMarkers returns a copy of the parked queue.
func (c *MarkerChannel) UnknownDestinationMarkers() []*types.TxnMarkerEntry {
	return c.QueuedMarkers(unknownDestinationID)
}

// BrokerNode resolves a broker id to its registered network identity.
func (c *MarkerChannel) BrokerNode(brokerID int32) (cluster.Node, bool) {
	return c.registry.Lookup(brokerID)
}

// ApplyPartitionOutcome records the outcome of one (producerId, partition)
// pair from a broker response. When the last awaited partition reports, the
// pending entry is removed and the completion callback fires with the first
// non-NONE error observed, or NONE.
func (c *MarkerChannel) ApplyPartitionOutcome(pid int64, tp types.TopicPartition, code protocol.ErrorCode) Outcome {
	c.mu.RLock()
	p, ok := c.pending[pid]
	c.mu.RUnlock()
	if !ok {
		return OutcomeUnmatched
	}

	if !p.metadata.RemovePartition(tp) {
		return OutcomeUnmatched
	}
	p.recordError(code)
	return c.maybeComplete(pid, p)
}

// ShedPendingPartitions narrows a pending transaction to the partitions
// whose markers actually reached a queue. A shed partition will never be
// acknowledged, so leaving it registered would keep the callback from ever
// firing. If responses already consumed every queued partition, the
// completion fires now with the outcome of the acknowledged ones.
func (c *MarkerChannel) ShedPendingPartitions(pid int64, shed []types.TopicPartition) Outcome {
	c.mu.RLock()
	p, ok := c.pending[pid]
	c.mu.RUnlock()
	if !ok {
		return OutcomeUnmatched
	}

	removed := false
	for _, tp := range shed {
		if p.metadata.RemovePartition(tp) {
			removed = true
		}
	}
	if !removed {
		return OutcomeUnmatched
	}
	return c.maybeComplete(pid, p)
}

// maybeComplete removes the pending entry and fires its callback once the
// last awaited partition is gone.
func (c *MarkerChannel) maybeComplete(pid int64, p *pendingTxn) Outcome {
	if p.metadata.PartitionCount() > 0 {
		return OutcomePending
	}

	c.mu.Lock()
	if _, still := c.pending[pid]; still {
		delete(c.pending, pid)
		metrics.PendingTransactions.Dec()
	}
	c.mu.Unlock()

	fired := false
	p.once.Do(func() {
		summary := p.summary()
		p.callback(summary)
		fired = true

		outcome := "success"
		if summary != protocol.ErrNone {
			outcome = "error"
		}
		metrics.CompletedTransactions.WithLabelValues(outcome).Inc()
		metrics.CompletionLatency.Observe(time.Since(p.registeredAt).Seconds())
		c.logger.Debug("Transaction markers completed",
			zap.Int64("producerId", pid), zap.String("summary", summary.String()))
	})
	if !fired {
		return OutcomeUnmatched
	}
	return OutcomeCompleted
}
