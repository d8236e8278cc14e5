package channel

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/metrics"
	"github.com/cursus-io/txnmarker/pkg/protocol"
	"github.com/cursus-io/txnmarker/pkg/types"
)

// GenerateRequests drains every broker queue and groups the drained entries
// into one batched request per destination. The drain is destructive and
// single-pass: with no new enqueues, a second call returns an empty map.
// Brokers with empty queues are omitted. Before draining, markers parked for
// unknown destinations get one more resolution attempt.
func (c *MarkerChannel) GenerateRequests() map[int32]*protocol.WriteTxnMarkersRequest {
	c.retryUnknownDestinations()

	c.mu.RLock()
	states := make(map[int32]*brokerState, len(c.brokers))
	for id, bs := range c.brokers {
		if id == unknownDestinationID {
			continue
		}
		states[id] = bs
	}
	c.mu.RUnlock()

	requests := make(map[int32]*protocol.WriteTxnMarkersRequest)
	for id, bs := range states {
		drained := bs.drain()
		if len(drained) == 0 {
			continue
		}
		metrics.MarkersQueued.WithLabelValues(strconv.Itoa(int(id))).Sub(float64(len(drained)))
		metrics.DrainedRequests.Inc()
		requests[id] = &protocol.WriteTxnMarkersRequest{Markers: drained}
	}
	return requests
}

// retryUnknownDestinations re-resolves leaders for parked markers. Entries
// whose partitions now have a leader move onto the proper broker queue;
// still-unresolved partitions are parked again. Nothing is dropped.
func (c *MarkerChannel) retryUnknownDestinations() {
	parked := c.brokerState(unknownDestinationID).drain()
	if len(parked) == 0 {
		return
	}
	metrics.MarkersQueued.WithLabelValues(strconv.Itoa(int(unknownDestinationID))).Sub(float64(len(parked)))

	for _, entry := range parked {
		grouped := make(map[int32][]types.TopicPartition)
		for _, tp := range entry.Partitions {
			leader, ok := c.resolver.LeaderFor(tp.Topic, tp.Partition)
			if !ok {
				leader = unknownDestinationID
			}
			grouped[leader] = append(grouped[leader], tp)
		}

		for destination, tps := range grouped {
			routed := &types.TxnMarkerEntry{
				ProducerID:       entry.ProducerID,
				ProducerEpoch:    entry.ProducerEpoch,
				CoordinatorEpoch: entry.CoordinatorEpoch,
				Result:           entry.Result,
				Partitions:       tps,
			}
			if destination == unknownDestinationID {
				c.parkEntry(routed)
				continue
			}
			c.logger.Debug("Parked marker resolved",
				zap.Int64("producerId", entry.ProducerID),
				zap.Int32("brokerId", destination),
				zap.Int("partitions", len(tps)))
			// A full target queue routes the entry back to the parked
			// queue rather than losing it. The re-park is unbounded: the
			// entry was admitted once and must not be dropped here.
			if shed := c.enqueueEntry(destination, routed); len(shed) > 0 {
				c.parkEntry(routed)
			}
		}
	}
}
