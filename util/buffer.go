package util

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrameSize bounds a single length-prefixed frame. Marker requests are
// small; anything near this size indicates a corrupted peer.
const MaxFrameSize = 16 * 1024 * 1024

// WriteWithLength writes one frame: a 4-byte big-endian length prefix
// followed by the payload.
func WriteWithLength(conn net.Conn, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", len(data), MaxFrameSize)
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := conn.Write(lenBuf); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadWithLength reads one frame written by WriteWithLength.
func ReadWithLength(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d", length, MaxFrameSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return buf, nil
}
