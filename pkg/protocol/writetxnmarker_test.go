package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cursus-io/txnmarker/pkg/types"
)

func TestRequestRoundTripGroupsByTopic(t *testing.T) {
	entry := &types.TxnMarkerEntry{
		ProducerID:       42,
		ProducerEpoch:    3,
		CoordinatorEpoch: 7,
		Result:           types.ResultCommit,
		Partitions: []types.TopicPartition{
			{Topic: "orders", Partition: 0},
			{Topic: "payments", Partition: 2},
			{Topic: "orders", Partition: 1},
		},
	}
	req := &WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{entry}}

	data, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWriteTxnMarkersRequest(data)
	require.NoError(t, err)
	require.Len(t, decoded.Markers, 1)

	got := decoded.Markers[0]
	assert.Equal(t, entry.ProducerID, got.ProducerID)
	assert.Equal(t, entry.ProducerEpoch, got.ProducerEpoch)
	assert.Equal(t, entry.CoordinatorEpoch, got.CoordinatorEpoch)
	assert.Equal(t, entry.Result, got.Result)
	assert.ElementsMatch(t, entry.Partitions, got.Partitions)
}

func TestRequestRoundTripPreservesEntryOrder(t *testing.T) {
	first := &types.TxnMarkerEntry{
		ProducerID: 1, Result: types.ResultAbort,
		Partitions: []types.TopicPartition{{Topic: "a", Partition: 0}},
	}
	second := &types.TxnMarkerEntry{
		ProducerID: 2, Result: types.ResultCommit,
		Partitions: []types.TopicPartition{{Topic: "b", Partition: 5}},
	}
	req := &WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{first, second}}

	data, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWriteTxnMarkersRequest(data)
	require.NoError(t, err)
	require.Len(t, decoded.Markers, 2)
	assert.Equal(t, int64(1), decoded.Markers[0].ProducerID)
	assert.Equal(t, int64(2), decoded.Markers[1].ProducerID)
}

func TestEncodeRejectsEmptyRequest(t *testing.T) {
	req := &WriteTxnMarkersRequest{}
	_, err := req.Encode()
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownResult(t *testing.T) {
	entry := &types.TxnMarkerEntry{
		ProducerID: 9, Result: types.ResultCommit,
		Partitions: []types.TopicPartition{{Topic: "t", Partition: 0}},
	}
	req := &WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{entry}}
	data, err := req.Encode()
	require.NoError(t, err)

	// The result byte sits after count(4) + pid(8) + epoch(2) + coordinatorEpoch(4).
	data[18] = 0x7F
	_, err = DecodeWriteTxnMarkersRequest(data)
	assert.ErrorContains(t, err, "unknown transaction result")
}

func TestDecodeRejectsTruncatedRequest(t *testing.T) {
	entry := &types.TxnMarkerEntry{
		ProducerID: 9, Result: types.ResultCommit,
		Partitions: []types.TopicPartition{{Topic: "t", Partition: 0}},
	}
	req := &WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{entry}}
	data, err := req.Encode()
	require.NoError(t, err)

	_, err = DecodeWriteTxnMarkersRequest(data[:len(data)-3])
	assert.Error(t, err)
}

func TestDecodeBoundsPreallocationByFrameSize(t *testing.T) {
	// A short frame claiming the maximum element count must fail on the
	// per-element reads, not allocate for the claimed count up front.
	forged := []byte{0x7F, 0xFF, 0xFF, 0xFF, 0x00, 0x00}

	_, err := DecodeWriteTxnMarkersRequest(forged)
	assert.ErrorContains(t, err, "data too short")

	_, err = DecodeWriteTxnMarkersResponse(forged)
	assert.ErrorContains(t, err, "data too short")

	assert.Zero(t, capHint(0x7FFFFFFF, 2, minMarkerWireSize))
	assert.Equal(t, 3, capHint(3, 1024, minProducerWireSize))
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &WriteTxnMarkersResponse{
		Errors: map[int64]map[types.TopicPartition]ErrorCode{
			42: {
				{Topic: "orders", Partition: 0}:   ErrNone,
				{Topic: "orders", Partition: 1}:   ErrNotLeaderForPartition,
				{Topic: "payments", Partition: 2}: ErrNone,
			},
			7: {
				{Topic: "orders", Partition: 3}: ErrRequestTimedOut,
			},
		},
	}

	data, err := resp.Encode()
	require.NoError(t, err)

	decoded, err := DecodeWriteTxnMarkersResponse(data)
	require.NoError(t, err)
	assert.Equal(t, resp.Errors, decoded.Errors)
}

func TestNewErrorResponseStampsEveryPair(t *testing.T) {
	req := &WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{
		{
			ProducerID: 1, Result: types.ResultCommit,
			Partitions: []types.TopicPartition{
				{Topic: "a", Partition: 0},
				{Topic: "b", Partition: 1},
			},
		},
		{
			ProducerID: 2, Result: types.ResultAbort,
			Partitions: []types.TopicPartition{{Topic: "a", Partition: 2}},
		},
	}}

	resp := NewErrorResponse(req, ErrBrokerNotAvailable)
	require.Len(t, resp.Errors, 2)
	assert.Equal(t, ErrBrokerNotAvailable, resp.Errors[1][types.TopicPartition{Topic: "a", Partition: 0}])
	assert.Equal(t, ErrBrokerNotAvailable, resp.Errors[1][types.TopicPartition{Topic: "b", Partition: 1}])
	assert.Equal(t, ErrBrokerNotAvailable, resp.Errors[2][types.TopicPartition{Topic: "a", Partition: 2}])
}

func TestErrorCodeRetryable(t *testing.T) {
	assert.False(t, ErrNone.Retryable())
	assert.False(t, ErrUnknownServerError.Retryable())
	assert.True(t, ErrNotLeaderForPartition.Retryable())
	assert.True(t, ErrRequestTimedOut.Retryable())
}
