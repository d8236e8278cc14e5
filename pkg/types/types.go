package types

import (
	"fmt"
	"sync"
	"time"
)

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// TransactionResult is the outcome a marker carries to partition leaders.
type TransactionResult int8

const (
	ResultAbort  TransactionResult = 0
	ResultCommit TransactionResult = 1
)

// TransactionResultForID maps a wire discriminant to a result. Unknown ids
// are rejected, never coerced.
func TransactionResultForID(id int8) (TransactionResult, error) {
	switch TransactionResult(id) {
	case ResultAbort, ResultCommit:
		return TransactionResult(id), nil
	default:
		return 0, fmt.Errorf("unknown transaction result id %d", id)
	}
}

func (r TransactionResult) String() string {
	switch r {
	case ResultAbort:
		return "ABORT"
	case ResultCommit:
		return "COMMIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(r))
	}
}

// TxnState is the coordinator-side lifecycle state of a transaction.
type TxnState int8

const (
	StateOngoing TxnState = iota
	StatePrepareCommit
	StatePrepareAbort
	StateCompleteCommit
	StateCompleteAbort
)

func (s TxnState) String() string {
	switch s {
	case StateOngoing:
		return "Ongoing"
	case StatePrepareCommit:
		return "PrepareCommit"
	case StatePrepareAbort:
		return "PrepareAbort"
	case StateCompleteCommit:
		return "CompleteCommit"
	case StateCompleteAbort:
		return "CompleteAbort"
	default:
		return fmt.Sprintf("Unknown(%d)", int8(s))
	}
}

// MarkersPending reports whether the state still has marker writes outstanding.
func (s TxnState) MarkersPending() bool {
	return s == StatePrepareCommit || s == StatePrepareAbort
}

// Result maps a marker-pending state to the result its markers must carry.
func (s TxnState) Result() (TransactionResult, error) {
	switch s {
	case StatePrepareCommit:
		return ResultCommit, nil
	case StatePrepareAbort:
		return ResultAbort, nil
	default:
		return 0, fmt.Errorf("transaction state %s has no pending markers", s)
	}
}

// TxnMarkerEntry is one batched unit: one producer transaction directed at
// one destination broker. Immutable once constructed.
type TxnMarkerEntry struct {
	ProducerID       int64
	ProducerEpoch    int16
	CoordinatorEpoch int32
	Result           TransactionResult
	Partitions       []TopicPartition
}

func (e *TxnMarkerEntry) String() string {
	return fmt.Sprintf("TxnMarkerEntry{pid=%d epoch=%d coordinatorEpoch=%d result=%s partitions=%v}",
		e.ProducerID, e.ProducerEpoch, e.CoordinatorEpoch, e.Result, e.Partitions)
}

// Equal compares all fields including the partition list.
func (e *TxnMarkerEntry) Equal(other *TxnMarkerEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.ProducerID != other.ProducerID ||
		e.ProducerEpoch != other.ProducerEpoch ||
		e.CoordinatorEpoch != other.CoordinatorEpoch ||
		e.Result != other.Result ||
		len(e.Partitions) != len(other.Partitions) {
		return false
	}
	for i, tp := range e.Partitions {
		if tp != other.Partitions[i] {
			return false
		}
	}
	return true
}

// TransactionMetadata is the coordinator-side record of a transaction whose
// markers are awaiting acknowledgment. The scalar fields are fixed at
// construction; the partition set shrinks as partitions report outcomes and
// never grows afterwards.
type TransactionMetadata struct {
	ProducerID       int64
	ProducerEpoch    int16
	CoordinatorEpoch int32
	State            TxnState

	mu                  sync.RWMutex
	topicPartitions     map[TopicPartition]struct{}
	lastUpdateTimestamp time.Time
}

func NewTransactionMetadata(pid int64, epoch int16, coordinatorEpoch int32, state TxnState, partitions []TopicPartition) *TransactionMetadata {
	set := make(map[TopicPartition]struct{}, len(partitions))
	for _, tp := range partitions {
		set[tp] = struct{}{}
	}
	return &TransactionMetadata{
		ProducerID:          pid,
		ProducerEpoch:       epoch,
		CoordinatorEpoch:    coordinatorEpoch,
		State:               state,
		topicPartitions:     set,
		lastUpdateTimestamp: time.Now(),
	}
}

// TopicPartitions returns a copy of the remaining partition set.
func (m *TransactionMetadata) TopicPartitions() []TopicPartition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TopicPartition, 0, len(m.topicPartitions))
	for tp := range m.topicPartitions {
		out = append(out, tp)
	}
	return out
}

// RemovePartition narrows the remaining set after one partition reported an
// outcome. It returns false if the partition was not awaited.
func (m *TransactionMetadata) RemovePartition(tp TopicPartition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.topicPartitions[tp]; !ok {
		return false
	}
	delete(m.topicPartitions, tp)
	m.lastUpdateTimestamp = time.Now()
	return true
}

func (m *TransactionMetadata) PartitionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.topicPartitions)
}

func (m *TransactionMetadata) LastUpdateTimestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastUpdateTimestamp
}
