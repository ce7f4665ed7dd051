package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize is the largest payload a single frame can carry; the length
// prefix is an unsigned 16-bit integer.
const MaxFrameSize = 65535

// Transport is one framed byte-stream to a meter. ReadFrame blocks until a
// whole frame arrives, the configured read deadline expires, or the peer
// goes away. WriteFrame must complete within the given timeout.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte, timeout time.Duration) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// FrameConn frames a net.Conn with the 16-bit big-endian length prefix.
type FrameConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func NewFrameConn(conn net.Conn) *FrameConn {
	return &FrameConn{conn: conn, r: bufio.NewReader(conn)}
}

func (fc *FrameConn) ReadFrame() ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(fc.r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(fc.r, payload); err != nil {
		return nil, fmt.Errorf("short frame: %w", err)
	}
	return payload, nil
}

func (fc *FrameConn) WriteFrame(payload []byte, timeout time.Duration) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("payload of %d bytes exceeds frame limit", len(payload))
	}
	if err := fc.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	if _, err := fc.conn.Write(buf); err != nil {
		return err
	}
	return nil
}

func (fc *FrameConn) SetReadDeadline(t time.Time) error {
	return fc.conn.SetReadDeadline(t)
}

func (fc *FrameConn) Close() error {
	return fc.conn.Close()
}
