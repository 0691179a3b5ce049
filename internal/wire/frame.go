// Package wire implements the length-framed binary protocol shared by the
// chat server and client: a 4-byte big-endian length prefix followed by
// exactly that many payload bytes, and the eight request/response messages
// encoded into that payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the length field to guard against a malicious or
// corrupt peer claiming an enormous payload. 16 MiB comfortably exceeds any
// legitimate message (bodies are capped at 64 KiB by the codec) while still
// catching garbage length prefixes early.
const MaxFrameSize = 16 << 20

// ErrDisconnected indicates the peer closed the connection cleanly between
// frames, or mid-frame before a complete length+payload was read.
var ErrDisconnected = errors.New("wire: disconnected")

// ErrFrameTooLarge indicates a length prefix exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Send writes one length-prefixed frame to w. It loops until the full
// 4-byte header and payload are written or an error occurs.
func Send(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := writeFull(w, header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := writeFull(w, payload)
	return err
}

// Recv reads one length-prefixed frame from r, returning its payload.
func Recv(r io.Reader) ([]byte, error) {
	var header [4]byte
	if err := readFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if length == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, length)
	if err := readFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFull loops over short writes until all of buf is written.
func writeFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// readFull loops over short reads until buf is filled, mapping a clean EOF
// (including one encountered mid-frame) to ErrDisconnected.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrDisconnected
		}
		return err
	}
	return nil
}
