package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/cursus-io/txnmarker/pkg/types"
)

// WriteTxnMarkersRequest batches marker entries bound for one broker.
// Entry order is preserved round-trip.
type WriteTxnMarkersRequest struct {
	Markers []*types.TxnMarkerEntry
}

// WriteTxnMarkersResponse carries one error code per (producerId, partition)
// pair that appeared in the request.
type WriteTxnMarkersResponse struct {
	Errors map[int64]map[types.TopicPartition]ErrorCode
}

// NewErrorResponse stamps the same error code onto every (producerId,
// partition) pair present in the request's markers.
func NewErrorResponse(req *WriteTxnMarkersRequest, code ErrorCode) *WriteTxnMarkersResponse {
	errs := make(map[int64]map[types.TopicPartition]ErrorCode, len(req.Markers))
	for _, marker := range req.Markers {
		perPartition, ok := errs[marker.ProducerID]
		if !ok {
			perPartition = make(map[types.TopicPartition]ErrorCode, len(marker.Partitions))
			errs[marker.ProducerID] = perPartition
		}
		for _, tp := range marker.Partitions {
			perPartition[tp] = code
		}
	}
	return &WriteTxnMarkersResponse{Errors: errs}
}

// groupByTopic buckets a marker's partitions per distinct topic, preserving
// first-encounter topic order and per-topic partition order.
func groupByTopic(partitions []types.TopicPartition) ([]string, map[string][]int32) {
	topics := make([]string, 0)
	grouped := make(map[string][]int32)
	for _, tp := range partitions {
		if _, seen := grouped[tp.Topic]; !seen {
			topics = append(topics, tp.Topic)
		}
		grouped[tp.Topic] = append(grouped[tp.Topic], tp.Partition)
	}
	return topics, grouped
}

// Encode serializes the request.
//
// Layout (big endian):
//
//	int32 marker count
//	per marker: int64 pid, int16 epoch, int32 coordinator epoch, int8 result,
//	            int32 topic count,
//	            per topic: int16 topic length + bytes, int32 partition count,
//	                       int32 partitions...
func (r *WriteTxnMarkersRequest) Encode() ([]byte, error) {
	if len(r.Markers) == 0 {
		return nil, errors.New("request has no markers")
	}

	var buf bytes.Buffer
	write := func(v any) error {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return fmt.Errorf("encode value failed: %w", err)
		}
		return nil
	}

	if err := write(int32(len(r.Markers))); err != nil {
		return nil, err
	}
	for _, marker := range r.Markers {
		if len(marker.Partitions) == 0 {
			return nil, fmt.Errorf("marker for producer %d has no partitions", marker.ProducerID)
		}
		if _, err := types.TransactionResultForID(int8(marker.Result)); err != nil {
			return nil, err
		}

		if err := write(marker.ProducerID); err != nil {
			return nil, err
		}
		if err := write(marker.ProducerEpoch); err != nil {
			return nil, err
		}
		if err := write(marker.CoordinatorEpoch); err != nil {
			return nil, err
		}
		if err := write(int8(marker.Result)); err != nil {
			return nil, err
		}

		topics, grouped := groupByTopic(marker.Partitions)
		if err := write(int32(len(topics))); err != nil {
			return nil, err
		}
		for _, topic := range topics {
			if err := writeString(&buf, topic); err != nil {
				return nil, err
			}
			if err := write(int32(len(grouped[topic]))); err != nil {
				return nil, err
			}
			for _, partition := range grouped[topic] {
				if err := write(partition); err != nil {
					return nil, err
				}
			}
		}
	}

	return buf.Bytes(), nil
}

// DecodeWriteTxnMarkersRequest reconstructs the flat partition list of every
// marker from the grouped wire layout.
func DecodeWriteTxnMarkersRequest(data []byte) (*WriteTxnMarkersRequest, error) {
	d := &decoder{data: data}

	markerCount, err := d.int32()
	if err != nil {
		return nil, err
	}
	if markerCount <= 0 {
		return nil, fmt.Errorf("invalid marker count %d", markerCount)
	}

	markers := make([]*types.TxnMarkerEntry, 0, capHint(markerCount, d.remaining(), minMarkerWireSize))
	for i := int32(0); i < markerCount; i++ {
		pid, err := d.int64()
		if err != nil {
			return nil, err
		}
		epoch, err := d.int16()
		if err != nil {
			return nil, err
		}
		coordinatorEpoch, err := d.int32()
		if err != nil {
			return nil, err
		}
		resultID, err := d.int8()
		if err != nil {
			return nil, err
		}
		result, err := types.TransactionResultForID(resultID)
		if err != nil {
			return nil, err
		}

		topicCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		var partitions []types.TopicPartition
		for j := int32(0); j < topicCount; j++ {
			topic, err := d.str()
			if err != nil {
				return nil, err
			}
			partitionCount, err := d.int32()
			if err != nil {
				return nil, err
			}
			for k := int32(0); k < partitionCount; k++ {
				partition, err := d.int32()
				if err != nil {
					return nil, err
				}
				partitions = append(partitions, types.TopicPartition{Topic: topic, Partition: partition})
			}
		}

		markers = append(markers, &types.TxnMarkerEntry{
			ProducerID:       pid,
			ProducerEpoch:    epoch,
			CoordinatorEpoch: coordinatorEpoch,
			Result:           result,
			Partitions:       partitions,
		})
	}

	return &WriteTxnMarkersRequest{Markers: markers}, nil
}

// Encode serializes the response. Producer ids, topics and partitions are
// sorted so the encoding is deterministic.
//
// Layout (big endian):
//
//	int32 producer count
//	per producer: int64 pid, int32 topic count,
//	              per topic: int16 topic length + bytes, int32 partition count,
//	                         per partition: int32 partition, int16 error code
func (r *WriteTxnMarkersResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	write := func(v any) error {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return fmt.Errorf("encode value failed: %w", err)
		}
		return nil
	}

	pids := make([]int64, 0, len(r.Errors))
	for pid := range r.Errors {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	if err := write(int32(len(pids))); err != nil {
		return nil, err
	}
	for _, pid := range pids {
		if err := write(pid); err != nil {
			return nil, err
		}

		perTopic := make(map[string][]types.TopicPartition)
		topics := make([]string, 0)
		for tp := range r.Errors[pid] {
			if _, seen := perTopic[tp.Topic]; !seen {
				topics = append(topics, tp.Topic)
			}
			perTopic[tp.Topic] = append(perTopic[tp.Topic], tp)
		}
		sort.Strings(topics)

		if err := write(int32(len(topics))); err != nil {
			return nil, err
		}
		for _, topic := range topics {
			tps := perTopic[topic]
			sort.Slice(tps, func(i, j int) bool { return tps[i].Partition < tps[j].Partition })

			if err := writeString(&buf, topic); err != nil {
				return nil, err
			}
			if err := write(int32(len(tps))); err != nil {
				return nil, err
			}
			for _, tp := range tps {
				if err := write(tp.Partition); err != nil {
					return nil, err
				}
				if err := write(int16(r.Errors[pid][tp])); err != nil {
					return nil, err
				}
			}
		}
	}

	return buf.Bytes(), nil
}

// DecodeWriteTxnMarkersResponse decodes a response encoded by Encode.
func DecodeWriteTxnMarkersResponse(data []byte) (*WriteTxnMarkersResponse, error) {
	d := &decoder{data: data}

	pidCount, err := d.int32()
	if err != nil {
		return nil, err
	}
	if pidCount < 0 {
		return nil, fmt.Errorf("invalid producer count %d", pidCount)
	}

	errs := make(map[int64]map[types.TopicPartition]ErrorCode, capHint(pidCount, d.remaining(), minProducerWireSize))
	for i := int32(0); i < pidCount; i++ {
		pid, err := d.int64()
		if err != nil {
			return nil, err
		}
		perPartition := make(map[types.TopicPartition]ErrorCode)

		topicCount, err := d.int32()
		if err != nil {
			return nil, err
		}
		for j := int32(0); j < topicCount; j++ {
			topic, err := d.str()
			if err != nil {
				return nil, err
			}
			partitionCount, err := d.int32()
			if err != nil {
				return nil, err
			}
			for k := int32(0); k < partitionCount; k++ {
				partition, err := d.int32()
				if err != nil {
					return nil, err
				}
				code, err := d.int16()
				if err != nil {
					return nil, err
				}
				perPartition[types.TopicPartition{Topic: topic, Partition: partition}] = ErrorCode(code)
			}
		}
		errs[pid] = perPartition
	}

	return &WriteTxnMarkersResponse{Errors: errs}, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b := []byte(s)
	if len(b) > 0xFFFF {
		return fmt.Errorf("string too long: %d bytes", len(b))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(b))); err != nil {
		return fmt.Errorf("encode string length failed: %w", err)
	}
	if _, err := buf.Write(b); err != nil {
		return fmt.Errorf("write string bytes failed: %w", err)
	}
	return nil
}

// Smallest possible wire footprints per element, used to bound slice and map
// preallocation so a forged count cannot force a huge allocation before the
// per-element reads hit the end of the frame.
const (
	minMarkerWireSize   = 19 // pid + epoch + coordinator epoch + result + topic count
	minProducerWireSize = 12 // pid + topic count
)

func capHint(count int32, remaining, minSize int) int {
	max := remaining / minSize
	if int(count) < max {
		return int(count)
	}
	return max
}

// decoder walks a byte slice with bounds checking.
type decoder struct {
	data   []byte
	offset int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.offset
}

func (d *decoder) read(size int) ([]byte, error) {
	if d.offset+size > len(d.data) {
		return nil, errors.New("data too short")
	}
	b := d.data[d.offset : d.offset+size]
	d.offset += size
	return b, nil
}

func (d *decoder) int8() (int8, error) {
	b, err := d.read(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (d *decoder) int16() (int16, error) {
	b, err := d.read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (d *decoder) int32() (int32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *decoder) int64() (int64, error) {
	b, err := d.read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (d *decoder) str() (string, error) {
	length, err := d.int16()
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", fmt.Errorf("invalid string length %d", length)
	}
	b, err := d.read(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
