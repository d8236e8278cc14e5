package manager

import (
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/channel"
	"github.com/cursus-io/txnmarker/pkg/config"
	"github.com/cursus-io/txnmarker/pkg/metrics"
	"github.com/cursus-io/txnmarker/pkg/protocol"
	"github.com/cursus-io/txnmarker/pkg/scheduler"
	"github.com/cursus-io/txnmarker/pkg/sender"
	"github.com/cursus-io/txnmarker/pkg/types"
)

// ChannelManager binds the marker channel, the periodic scheduler and the
// send actor into the fan-out lifecycle: register pending transactions,
// periodically drain queues into batched requests, and complete
// transactions as broker responses arrive.
type ChannelManager struct {
	cfg       *config.Config
	logger    *zap.Logger
	channel   *channel.MarkerChannel
	scheduler scheduler.Scheduler
	sender    sender.Sender
}

func NewChannelManager(cfg *config.Config, ch *channel.MarkerChannel, sched scheduler.Scheduler, snd sender.Sender, logger *zap.Logger) *ChannelManager {
	return &ChannelManager{
		cfg:       cfg,
		logger:    logger,
		channel:   ch,
		scheduler: sched,
		sender:    snd,
	}
}

// AddTxnMarkerRequest registers the transaction as pending and enqueues its
// markers for every target partition. The marker result is derived from the
// metadata's state: PrepareCommit maps to COMMIT, PrepareAbort to ABORT; any
// other state is rejected.
//
// Partitions shed because a destination queue was at its bound are returned
// for the caller's retry path. The pending entry only awaits the markers
// that were actually queued; when nothing was queued the registration is
// rolled back entirely, so no transaction is ever left pending with zero
// marker writes outstanding.
func (m *ChannelManager) AddTxnMarkerRequest(meta *types.TransactionMetadata, coordinatorEpoch int32, callback channel.CompletionCallback) ([]types.TopicPartition, error) {
	result, err := meta.State.Result()
	if err != nil {
		return nil, fmt.Errorf("cannot write markers: %w", err)
	}

	if err := m.channel.MaybeAddPendingRequest(meta, callback); err != nil {
		return nil, err
	}

	partitions := meta.TopicPartitions()
	shed := m.channel.AddRequestToSend(meta.ProducerID, meta.ProducerEpoch, result, coordinatorEpoch, partitions)
	if len(shed) == 0 {
		return nil, nil
	}

	if len(shed) == len(partitions) {
		m.channel.RemovePendingTxnMetadata(meta.ProducerID)
	} else {
		m.channel.ShedPendingPartitions(meta.ProducerID, shed)
	}
	m.logger.Warn("Markers shed at enqueue, coordinator retry required",
		zap.Int64("producerId", meta.ProducerID),
		zap.Int("shed", len(shed)),
		zap.Int("requested", len(partitions)))
	return shed, nil
}

// Start brings up the scheduler and the send actor. Both must start; a
// failure of either is fatal and propagates.
func (m *ChannelManager) Start() error {
	if err := m.scheduler.Startup(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := m.sender.Startup(); err != nil {
		err = fmt.Errorf("start sender: %w", err)
		// The scheduler is already running and would be unreachable after
		// a failed start; stop it before handing the error back.
		if stopErr := m.scheduler.Shutdown(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
		return err
	}
	m.scheduler.Schedule("txn-marker-channel", m.tick, m.cfg.PollInterval())
	m.logger.Info("Transaction marker channel manager started",
		zap.Duration("pollInterval", m.cfg.PollInterval()))
	return nil
}

// Shutdown stops the scheduler first, then the send actor. Queued-but-unsent
// requests are dropped; delivery of in-flight work is not guaranteed.
func (m *ChannelManager) Shutdown() error {
	err := multierr.Append(m.scheduler.Shutdown(), m.sender.Shutdown())
	if err != nil {
		return fmt.Errorf("shutdown marker channel manager: %w", err)
	}
	m.logger.Info("Transaction marker channel manager shut down")
	return nil
}

// tick is one scheduler cycle: fold in responses received since the last
// cycle, then drain queues and hand batched requests to the send actor.
func (m *ChannelManager) tick() {
	m.CompleteCompletedRequests()
	m.drainAndSend()
}

func (m *ChannelManager) drainAndSend() {
	requests := m.channel.GenerateRequests()
	if len(requests) == 0 {
		return
	}
	m.sender.SendRequests(requests)
}

// RequestGenerator exposes the draining seam bound to this manager's marker
// channel. It is what the periodic scheduler invokes each cycle, and lets
// the drain be driven and observed independently of the live send loop.
func (m *ChannelManager) RequestGenerator() func() map[int32]*protocol.WriteTxnMarkersRequest {
	return m.channel.GenerateRequests
}

// CompleteCompletedRequests folds every response received from the send
// actor since the last invocation into the pending-transaction bookkeeping.
// Completion callbacks fire exactly once per producer id, with the first
// non-NONE error observed, once all awaited partitions have reported.
func (m *ChannelManager) CompleteCompletedRequests() {
	for {
		select {
		case resp := <-m.sender.Responses():
			m.handleResponse(resp)
		default:
			return
		}
	}
}

func (m *ChannelManager) handleResponse(resp sender.BrokerResponse) {
	if resp.Err != nil {
		// Pending bookkeeping stays intact; the coordinator re-enqueues
		// failed markers through its own retry path.
		metrics.SendFailures.WithLabelValues(strconv.Itoa(int(resp.BrokerID))).Inc()
		m.logger.Warn("Marker request failed, markers remain pending",
			zap.Int32("brokerId", resp.BrokerID), zap.Error(resp.Err))
		return
	}

	for pid, perPartition := range resp.Response.Errors {
		for tp, code := range perPartition {
			switch m.channel.ApplyPartitionOutcome(pid, tp, code) {
			case channel.OutcomeCompleted:
				m.logger.Debug("Transaction completed",
					zap.Int64("producerId", pid), zap.Int32("brokerId", resp.BrokerID))
			case channel.OutcomeUnmatched:
				m.logger.Debug("Discarding unmatched marker response entry",
					zap.Int64("producerId", pid), zap.String("partition", tp.String()))
			}
		}
	}
}
