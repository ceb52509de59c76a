// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize bounds a single encoded frame, rejecting a corrupt or
// hostile length prefix before allocating a buffer for it.
const maxFrameSize = 16 << 20

// Conn wraps a net.Conn with this package's length-delimited CBOR
// envelope framing: each frame is a 4-byte big-endian length prefix
// followed by that many bytes of Encode output. It implements Sink
// directly, so it can be handed to the proxy pair as either source or
// target without an adapter.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex
}

// NewConn wraps conn for framed Frame read/write.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// ReadFrame blocks until one frame has been read off the connection,
// or an error (including io.EOF on clean close) occurs.
func (c *Conn) ReadFrame() (Frame, error) {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(c.conn, lengthBytes[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBytes[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, err
	}
	return Decode(payload)
}

// writeFrame encodes f and writes it as one length-prefixed message.
// Concurrent writers are serialized so a DATA frame's bytes from one
// caller never interleave with another's.
func (c *Conn) writeFrame(f Frame) error {
	payload, err := Encode(f)
	if err != nil {
		return err
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("wire: encoded frame %d bytes exceeds maximum %d", len(payload), maxFrameSize)
	}

	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(lengthBytes[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(payload)
	return err
}

func (c *Conn) Begin(f Begin) error   { return c.writeFrame(f) }
func (c *Conn) Data(f Data) error     { return c.writeFrame(f) }
func (c *Conn) End(f End) error       { return c.writeFrame(f) }
func (c *Conn) Abort(f Abort) error   { return c.writeFrame(f) }
func (c *Conn) Window(f Window) error { return c.writeFrame(f) }
func (c *Conn) Reset(f Reset) error   { return c.writeFrame(f) }
func (c *Conn) Signal(f Signal) error { return c.writeFrame(f) }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

var _ Sink = (*Conn)(nil)
