package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxnStateResult(t *testing.T) {
	result, err := StatePrepareCommit.Result()
	require.NoError(t, err)
	assert.Equal(t, ResultCommit, result)

	result, err = StatePrepareAbort.Result()
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, result)

	for _, state := range []TxnState{StateOngoing, StateCompleteCommit, StateCompleteAbort} {
		_, err := state.Result()
		assert.Error(t, err, "state %s must not produce markers", state)
	}
}

func TestTransactionResultForID(t *testing.T) {
	r, err := TransactionResultForID(0)
	require.NoError(t, err)
	assert.Equal(t, ResultAbort, r)

	r, err = TransactionResultForID(1)
	require.NoError(t, err)
	assert.Equal(t, ResultCommit, r)

	_, err = TransactionResultForID(2)
	assert.Error(t, err)
}

func TestTxnMarkerEntryEqual(t *testing.T) {
	a := &TxnMarkerEntry{
		ProducerID: 1, ProducerEpoch: 2, CoordinatorEpoch: 3, Result: ResultCommit,
		Partitions: []TopicPartition{{Topic: "t", Partition: 0}},
	}
	b := &TxnMarkerEntry{
		ProducerID: 1, ProducerEpoch: 2, CoordinatorEpoch: 3, Result: ResultCommit,
		Partitions: []TopicPartition{{Topic: "t", Partition: 0}},
	}
	assert.True(t, a.Equal(b))

	b.Partitions[0].Partition = 1
	assert.False(t, a.Equal(b))
}

func TestTransactionMetadataPartitionNarrowing(t *testing.T) {
	meta := NewTransactionMetadata(1, 0, 0, StatePrepareCommit, []TopicPartition{
		{Topic: "t", Partition: 0},
		{Topic: "t", Partition: 1},
	})
	before := meta.LastUpdateTimestamp()

	assert.True(t, meta.RemovePartition(TopicPartition{Topic: "t", Partition: 0}))
	assert.False(t, meta.RemovePartition(TopicPartition{Topic: "t", Partition: 0}), "second removal is a no-op")
	assert.Equal(t, 1, meta.PartitionCount())
	assert.False(t, meta.LastUpdateTimestamp().Before(before))
}
