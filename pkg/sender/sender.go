package sender

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cursus-io/txnmarker/pkg/cluster"
	"github.com/cursus-io/txnmarker/pkg/protocol"
	"github.com/cursus-io/txnmarker/util"
)

// BrokerResponse is one broker's reply to a batched marker request, or the
// transport failure that prevented one.
type BrokerResponse struct {
	BrokerID int32
	Response *protocol.WriteTxnMarkersResponse
	Err      error
}

// Sender owns all network I/O for batched marker requests. SendRequests
// never blocks on the network; responses surface asynchronously on
// Responses. Shutdown drops queued-but-unsent requests.
type Sender interface {
	Startup() error
	Shutdown() error
	SendRequests(requests map[int32]*protocol.WriteTxnMarkersRequest)
	Responses() <-chan BrokerResponse
}

type brokerRequest struct {
	brokerID int32
	req      *protocol.WriteTxnMarkersRequest
}

// TCPSender exchanges length-prefixed codec frames with destination brokers
// over short-lived TCP connections, one request at a time from a dedicated
// goroutine.
type TCPSender struct {
	registry *cluster.Registry
	logger   *zap.Logger
	timeout  time.Duration

	requests  chan brokerRequest
	responses chan BrokerResponse
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func NewTCPSender(registry *cluster.Registry, timeout time.Duration, logger *zap.Logger) *TCPSender {
	return &TCPSender{
		registry:  registry,
		logger:    logger,
		timeout:   timeout,
		requests:  make(chan brokerRequest, 128),
		responses: make(chan BrokerResponse, 128),
		stopCh:    make(chan struct{}),
	}
}

func (s *TCPSender) Startup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("sender already started")
	}
	s.started = true
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Marker sender started")
	return nil
}

func (s *TCPSender) Shutdown() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Marker sender shut down")
	return nil
}

// SendRequests hands the batched requests to the send goroutine. Requests
// that cannot be queued during shutdown are dropped.
func (s *TCPSender) SendRequests(requests map[int32]*protocol.WriteTxnMarkersRequest) {
	for brokerID, req := range requests {
		select {
		case s.requests <- brokerRequest{brokerID: brokerID, req: req}:
		case <-s.stopCh:
			s.logger.Warn("Dropping unsent marker request on shutdown", zap.Int32("brokerId", brokerID))
			return
		}
	}
}

func (s *TCPSender) Responses() <-chan BrokerResponse {
	return s.responses
}

func (s *TCPSender) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case br := <-s.requests:
			resp := s.exchange(br)
			select {
			case s.responses <- resp:
			case <-s.stopCh:
				return
			}
		}
	}
}

// exchange performs one request/response round trip with a broker.
func (s *TCPSender) exchange(br brokerRequest) BrokerResponse {
	correlationID := uuid.NewString()
	node, ok := s.registry.Lookup(br.brokerID)
	if !ok {
		return BrokerResponse{
			BrokerID: br.brokerID,
			Err:      fmt.Errorf("broker %d not registered", br.brokerID),
		}
	}

	data, err := br.req.Encode()
	if err != nil {
		return BrokerResponse{
			BrokerID: br.brokerID,
			Err:      fmt.Errorf("encode request for broker %d: %w", br.brokerID, err),
		}
	}

	s.logger.Debug("Sending marker request",
		zap.String("correlationId", correlationID),
		zap.Int32("brokerId", br.brokerID),
		zap.String("addr", node.Addr()),
		zap.Int("markers", len(br.req.Markers)))

	conn, err := net.DialTimeout("tcp", node.Addr(), s.timeout)
	if err != nil {
		return BrokerResponse{
			BrokerID: br.brokerID,
			Err:      fmt.Errorf("dial broker %d at %s: %w", br.brokerID, node.Addr(), err),
		}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return BrokerResponse{BrokerID: br.brokerID, Err: fmt.Errorf("set deadline: %w", err)}
	}
	if err := util.WriteWithLength(conn, data); err != nil {
		return BrokerResponse{BrokerID: br.brokerID, Err: fmt.Errorf("send to broker %d: %w", br.brokerID, err)}
	}

	raw, err := util.ReadWithLength(conn)
	if err != nil {
		return BrokerResponse{BrokerID: br.brokerID, Err: fmt.Errorf("read from broker %d: %w", br.brokerID, err)}
	}
	resp, err := protocol.DecodeWriteTxnMarkersResponse(raw)
	if err != nil {
		return BrokerResponse{BrokerID: br.brokerID, Err: fmt.Errorf("decode response from broker %d: %w", br.brokerID, err)}
	}

	s.logger.Debug("Received marker response",
		zap.String("correlationId", correlationID),
		zap.Int32("brokerId", br.brokerID),
		zap.Int("producers", len(resp.Errors)))
	return BrokerResponse{BrokerID: br.brokerID, Response: resp}
}
