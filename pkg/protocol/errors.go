package protocol

import "fmt"

// ErrorCode is the per-partition outcome carried in a WriteTxnMarkers
// response. Numeric values follow the broker protocol and must not change.
type ErrorCode int16

const (
	ErrUnknownServerError    ErrorCode = -1
	ErrNone                  ErrorCode = 0
	ErrCorruptMessage        ErrorCode = 2
	ErrNotLeaderForPartition ErrorCode = 6
	ErrRequestTimedOut       ErrorCode = 7
	ErrBrokerNotAvailable    ErrorCode = 8
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "NONE"
	case ErrUnknownServerError:
		return "UNKNOWN_SERVER_ERROR"
	case ErrCorruptMessage:
		return "CORRUPT_MESSAGE"
	case ErrNotLeaderForPartition:
		return "NOT_LEADER_FOR_PARTITION"
	case ErrRequestTimedOut:
		return "REQUEST_TIMED_OUT"
	case ErrBrokerNotAvailable:
		return "BROKER_NOT_AVAILABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int16(e))
	}
}

// Retryable reports whether the condition is expected to clear on a later
// attempt without operator intervention.
func (e ErrorCode) Retryable() bool {
	switch e {
	case ErrCorruptMessage, ErrNotLeaderForPartition, ErrRequestTimedOut, ErrBrokerNotAvailable:
		return true
	default:
		return false
	}
}
