// Package record implements the fixed binary layout for raw items and
// merged records (spec §3, §4.1): a byte buffer with independent read and
// write cursors, primitive encode/decode helpers, and whole-record
// parse/encode that is transactional — a failed parse or encode leaves the
// buffer's cursor exactly where it was on entry.
package record

import (
	"encoding/binary"
	"errors"
)

// Kind distinguishes retryable decode failures from unrecoverable ones, per
// spec §7. The codec never logs; it only returns one of these.
type Kind int

const (
	// KindNotEnough means the buffer doesn't yet hold a full frame; retry
	// once more bytes arrive.
	KindNotEnough Kind = iota
	// KindCorrupt means the frame's discriminant or length fields are
	// invalid; the stream position holding it should be abandoned.
	KindCorrupt
)

// Error wraps a Kind with a message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func errNotEnough(msg string) error { return &Error{Kind: KindNotEnough, Msg: msg} }
func errCorrupt(msg string) error   { return &Error{Kind: KindCorrupt, Msg: msg} }

// IsNotEnough reports whether err is a KindNotEnough codec error.
func IsNotEnough(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotEnough
}

// IsCorrupt reports whether err is a KindCorrupt codec error.
func IsCorrupt(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCorrupt
}

// Buffer is a bounded byte slice with independent read and write cursors.
// All multi-byte integers are little-endian (spec §9.4 resolves the
// open endianness question this way).
type Buffer struct {
	data []byte
	rpos int
	wpos int
}

// NewBuffer wraps an existing slice for reading (wpos is set to len(data),
// so the whole slice is readable).
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data, wpos: len(data)}
}

// NewWriteBuffer allocates a buffer of the given capacity for writing.
func NewWriteBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// ReadPos returns the current read cursor.
func (b *Buffer) ReadPos() int { return b.rpos }

// WritePos returns the current write cursor.
func (b *Buffer) WritePos() int { return b.wpos }

// SetReadPos restores the read cursor, e.g. after a savepoint restore.
func (b *Buffer) SetReadPos(p int) { b.rpos = p }

// SetWritePos restores the write cursor.
func (b *Buffer) SetWritePos(p int) { b.wpos = p }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return b.wpos - b.rpos }

// Capacity returns the buffer's total capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Bytes returns the written portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.wpos] }

// --- primitive reads ---

func (b *Buffer) ReadU8() (uint8, error) {
	if b.Remaining() < 1 {
		return 0, errNotEnough("u8: underflow")
	}
	v := b.data[b.rpos]
	b.rpos++
	return v, nil
}

func (b *Buffer) ReadU16() (uint16, error) {
	if b.Remaining() < 2 {
		return 0, errNotEnough("u16: underflow")
	}
	v := binary.LittleEndian.Uint16(b.data[b.rpos:])
	b.rpos += 2
	return v, nil
}

func (b *Buffer) ReadU32() (uint32, error) {
	if b.Remaining() < 4 {
		return 0, errNotEnough("u32: underflow")
	}
	v := binary.LittleEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

func (b *Buffer) ReadI32() (int32, error) {
	v, err := b.ReadU32()
	return int32(v), err
}

func (b *Buffer) ReadI64() (int64, error) {
	if b.Remaining() < 8 {
		return 0, errNotEnough("i64: underflow")
	}
	v := binary.LittleEndian.Uint64(b.data[b.rpos:])
	b.rpos += 8
	return int64(v), nil
}

// ReadFixed reads n raw bytes.
func (b *Buffer) ReadFixed(n int) ([]byte, error) {
	if b.Remaining() < n {
		return nil, errNotEnough("fixed: underflow")
	}
	v := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return v, nil
}

// ReadString reads a u16-length-prefixed string into dst, truncating with
// NUL termination on overflow (spec §4.1) and returning the decoded string
// either way. It fails only on underflow: when the u16 length prefix, or the
// number of bytes it declares, is not yet in the buffer.
func (b *Buffer) ReadString(dst []byte) (string, error) {
	n, err := b.ReadU16()
	if err != nil {
		return "", err
	}
	raw, err := b.ReadFixed(int(n))
	if err != nil {
		return "", err
	}
	if dst == nil {
		return string(raw), nil
	}
	if len(raw) >= len(dst) {
		copy(dst, raw[:len(dst)-1])
		dst[len(dst)-1] = 0
		return string(dst[:len(dst)-1]), nil
	}
	m := copy(dst, raw)
	dst[m] = 0
	return string(dst[:m]), nil
}

// --- primitive writes ---

func (b *Buffer) WriteU8(v uint8) error {
	if len(b.data)-b.wpos < 1 {
		return errNotEnough("u8: capacity exceeded")
	}
	b.data[b.wpos] = v
	b.wpos++
	return nil
}

func (b *Buffer) WriteU16(v uint16) error {
	if len(b.data)-b.wpos < 2 {
		return errNotEnough("u16: capacity exceeded")
	}
	binary.LittleEndian.PutUint16(b.data[b.wpos:], v)
	b.wpos += 2
	return nil
}

func (b *Buffer) WriteU32(v uint32) error {
	if len(b.data)-b.wpos < 4 {
		return errNotEnough("u32: capacity exceeded")
	}
	binary.LittleEndian.PutUint32(b.data[b.wpos:], v)
	b.wpos += 4
	return nil
}

func (b *Buffer) WriteI32(v int32) error { return b.WriteU32(uint32(v)) }

func (b *Buffer) WriteI64(v int64) error {
	if len(b.data)-b.wpos < 8 {
		return errNotEnough("i64: capacity exceeded")
	}
	binary.LittleEndian.PutUint64(b.data[b.wpos:], uint64(v))
	b.wpos += 8
	return nil
}

func (b *Buffer) WriteFixed(v []byte) error {
	if len(b.data)-b.wpos < len(v) {
		return errNotEnough("fixed: capacity exceeded")
	}
	copy(b.data[b.wpos:], v)
	b.wpos += len(v)
	return nil
}

// WriteString writes a u16-length-prefixed string.
func (b *Buffer) WriteString(s string) error {
	if len(s) > 0xFFFF {
		return errCorrupt("string exceeds u16 length")
	}
	if err := b.WriteU16(uint16(len(s))); err != nil {
		return err
	}
	return b.WriteFixed([]byte(s))
}
