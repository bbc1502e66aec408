package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/delix-net/delix/crypto"
)

// MaxFrameSize bounds the sealed frame length accepted from a peer.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame encodes the packet, seals it and writes it to w with a 4-byte
// big-endian length prefix. The prefix and frame are written in a single call
// so a frame is never interleaved mid-write at this layer; callers serialize
// concurrent writers.
func WriteFrame(w io.Writer, cipher *crypto.Cipher, packet *Packet) error {
	plaintext, err := Marshal(packet)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}

	sealed, err := cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal packet: %w", err)
	}
	if len(sealed) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
	copy(frame[4:], sealed)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, opens it and decodes the
// packet. Every error it returns is fatal to the stream: after a failed
// authentication or a malformed packet there is no way to resynchronize.
func ReadFrame(r io.Reader, cipher *crypto.Cipher) (*Packet, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	sealed := make([]byte, length)
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	plaintext, err := cipher.Open(sealed)
	if err != nil {
		return nil, err
	}

	packet, err := Unmarshal[Packet](plaintext)
	if err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	return packet, nil
}
