// Package persistence implements the framed append-only journal used by the
// standalone profile store.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// MagicByte opens every frame so a reader can detect lost
	// synchronization.
	MagicByte = 0xA5

	// HeaderSize is Magic(1) + Op(1) + Length(4) + CRC32(4).
	HeaderSize = 10

	// MaxPayload bounds a single frame; anything larger is treated as a
	// corrupted length field.
	MaxPayload = 16 << 20
)

// Op tells the replayer what a frame means.
type Op byte

const (
	OpPut    Op = 0x01
	OpDelete Op = 0x02
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(0x%02x)", byte(o))
	}
}

var (
	// ErrInvalidMagic means the stream is not positioned on a frame.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch means the payload does not match its CRC.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame means the stream ended inside a frame, typically
	// after a crash during a write.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrUnknownOp means the frame carries an op this version cannot apply.
	ErrUnknownOp = errors.New("unknown frame op")
)

// Frame is one decoded journal record.
type Frame struct {
	Op      Op
	Payload []byte
}

// FrameWriter encodes frames onto an io.Writer.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes [Magic][Op][Length LE][CRC32 LE][Payload]. Header and
// payload go out in one Write call.
func (fw *FrameWriter) WriteFrame(op Op, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("frame payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = MagicByte
	buf[1] = byte(op)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[6:10], crc32.ChecksumIEEE(payload))
	copy(buf[HeaderSize:], payload)

	_, err := fw.w.Write(buf)
	return err
}

// ReadFrame decodes the next frame. It returns the number of bytes consumed
// and io.EOF when the stream ends cleanly on a frame boundary.
func ReadFrame(r io.Reader) (Frame, int, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, n, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	op := Op(header[1])
	if op != OpPut && op != OpDelete {
		return Frame{}, HeaderSize, fmt.Errorf("%w: %s", ErrUnknownOp, op)
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	if length > MaxPayload {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}
	want := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if m, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, HeaderSize + m, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != want {
		return Frame{}, HeaderSize + int(length), ErrChecksumMismatch
	}
	return Frame{Op: op, Payload: payload}, HeaderSize + int(length), nil
}
