package sender

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/cluster"
	"github.com/cursus-io/txnmarker/pkg/protocol"
	"github.com/cursus-io/txnmarker/pkg/types"
	"github.com/cursus-io/txnmarker/util"
)

// fakeBroker accepts one connection, decodes a marker request and answers
// with the given code stamped onto every pair.
func fakeBroker(t *testing.T, code protocol.ErrorCode) net.Addr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		raw, err := util.ReadWithLength(conn)
		if err != nil {
			return
		}
		req, err := protocol.DecodeWriteTxnMarkersRequest(raw)
		if err != nil {
			return
		}
		resp := protocol.NewErrorResponse(req, code)
		data, err := resp.Encode()
		if err != nil {
			return
		}
		_ = util.WriteWithLength(conn, data)
	}()
	return l.Addr()
}

func markerRequest() *protocol.WriteTxnMarkersRequest {
	return &protocol.WriteTxnMarkersRequest{Markers: []*types.TxnMarkerEntry{{
		ProducerID:       55,
		ProducerEpoch:    1,
		CoordinatorEpoch: 2,
		Result:           types.ResultCommit,
		Partitions: []types.TopicPartition{
			{Topic: "T", Partition: 0},
			{Topic: "U", Partition: 3},
		},
	}}}
}

func awaitResponse(t *testing.T, s *TCPSender) BrokerResponse {
	t.Helper()
	select {
	case resp := <-s.Responses():
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broker response")
		return BrokerResponse{}
	}
}

func TestTCPSenderRoundTrip(t *testing.T) {
	addr := fakeBroker(t, protocol.ErrNone)
	tcpAddr := addr.(*net.TCPAddr)

	registry := cluster.NewRegistry()
	registry.Register(cluster.Node{ID: 1, Host: "127.0.0.1", Port: tcpAddr.Port})

	s := NewTCPSender(registry, 2*time.Second, zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	s.SendRequests(map[int32]*protocol.WriteTxnMarkersRequest{1: markerRequest()})

	resp := awaitResponse(t, s)
	require.NoError(t, resp.Err)
	assert.Equal(t, int32(1), resp.BrokerID)
	assert.Equal(t, protocol.ErrNone, resp.Response.Errors[55][types.TopicPartition{Topic: "T", Partition: 0}])
	assert.Equal(t, protocol.ErrNone, resp.Response.Errors[55][types.TopicPartition{Topic: "U", Partition: 3}])
}

func TestTCPSenderSurfacesBrokerError(t *testing.T) {
	addr := fakeBroker(t, protocol.ErrNotLeaderForPartition)
	tcpAddr := addr.(*net.TCPAddr)

	registry := cluster.NewRegistry()
	registry.Register(cluster.Node{ID: 2, Host: "127.0.0.1", Port: tcpAddr.Port})

	s := NewTCPSender(registry, 2*time.Second, zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	s.SendRequests(map[int32]*protocol.WriteTxnMarkersRequest{2: markerRequest()})

	resp := awaitResponse(t, s)
	require.NoError(t, resp.Err)
	assert.Equal(t, protocol.ErrNotLeaderForPartition,
		resp.Response.Errors[55][types.TopicPartition{Topic: "T", Partition: 0}])
}

func TestTCPSenderUnknownBroker(t *testing.T) {
	registry := cluster.NewRegistry()
	s := NewTCPSender(registry, time.Second, zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	s.SendRequests(map[int32]*protocol.WriteTxnMarkersRequest{9: markerRequest()})

	resp := awaitResponse(t, s)
	assert.Error(t, resp.Err)
	assert.Nil(t, resp.Response)
}

func TestTCPSenderDialFailure(t *testing.T) {
	registry := cluster.NewRegistry()
	// A listener that is closed immediately leaves a port nothing accepts on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	registry.Register(cluster.Node{ID: 3, Host: "127.0.0.1", Port: port})
	s := NewTCPSender(registry, time.Second, zap.NewNop())
	require.NoError(t, s.Startup())
	defer s.Shutdown()

	s.SendRequests(map[int32]*protocol.WriteTxnMarkersRequest{3: markerRequest()})

	resp := awaitResponse(t, s)
	assert.Error(t, resp.Err)
}

func TestTCPSenderShutdownIdempotent(t *testing.T) {
	s := NewTCPSender(cluster.NewRegistry(), time.Second, zap.NewNop())
	require.NoError(t, s.Startup())
	assert.NoError(t, s.Shutdown())
	assert.NoError(t, s.Shutdown())
}
