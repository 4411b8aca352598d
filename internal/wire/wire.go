// Package wire implements the agent↔storage message framing (spec §6.2): a
// fixed 16-byte header followed by a body whose layout depends on cmd. The
// SAVE_STATS and GET_SYSTEM_STATS bodies use the record package's binary
// layout directly; the meta/host-info-report flow, left undefined by the
// spec, is framed the same way but carries a msgpack body (see
// HostInfoReport and EncodeMeta/DecodeMeta in meta.go).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Command identifies the RPC being carried.
type Command uint16

const (
	CmdSaveStatsReq      Command = 1
	CmdSaveStatsRsp      Command = 2
	CmdGetSystemStatsReq Command = 3
	CmdGetSystemStatsRsp Command = 4
	CmdHostInfoReport    Command = 100 // meta flow
	CmdHostInfoReportAck Command = 101
)

// MaxBodySize bounds a single message body (spec doesn't set a hard cap;
// this mirrors the merged-record frame budget note in spec §5 with
// generous headroom for a full SAVE_STATS batch of 100 records).
const MaxBodySize = 1 << 20

// Header is the fixed 16-byte envelope prefix (spec §4.5, §6.2):
// len:u32, cmd:u16, ver:u8, flags:u8, syn:u32, ack:u32.
type Header struct {
	Len   uint32
	Cmd   Command
	Ver   uint8
	Flags uint8
	Syn   uint32
	Ack   uint32
}

const headerSize = 16

// WireVersion is the protocol version stamped into every header.
const WireVersion uint8 = 1

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Len)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Cmd))
	buf[6] = h.Ver
	buf[7] = h.Flags
	binary.LittleEndian.PutUint32(buf[8:12], h.Syn)
	binary.LittleEndian.PutUint32(buf[12:16], h.Ack)
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		Len:   binary.LittleEndian.Uint32(buf[0:4]),
		Cmd:   Command(binary.LittleEndian.Uint16(buf[4:6])),
		Ver:   buf[6],
		Flags: buf[7],
		Syn:   binary.LittleEndian.Uint32(buf[8:12]),
		Ack:   binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// WriteMessage writes header+body to w. h.Len is overwritten with len(body).
func WriteMessage(w io.Writer, h Header, body []byte) error {
	if len(body) > MaxBodySize {
		return fmt.Errorf("wire: body too large: %d > %d", len(body), MaxBodySize)
	}
	h.Len = uint32(len(body))
	if _, err := w.Write(h.encode()); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadMessage reads one header+body message from r.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return Header{}, nil, err
	}
	h := decodeHeader(hdrBuf)
	if h.Len > MaxBodySize {
		return h, nil, fmt.Errorf("wire: declared body size %d exceeds max %d", h.Len, MaxBodySize)
	}
	body := make([]byte, h.Len)
	if _, err := io.ReadFull(r, body); err != nil {
		return h, nil, fmt.Errorf("wire: read body: %w", err)
	}
	return h, body, nil
}

// SynCounter hands out monotonically increasing syn values per processor,
// per spec §4.5 ("syn is monotonically increasing per processor").
type SynCounter struct {
	next uint32
}

// Next returns the next syn value, starting at 1.
func (s *SynCounter) Next() uint32 {
	s.next++
	return s.next
}

// NewSynCounter returns a fresh per-processor syn counter.
func NewSynCounter() *SynCounter { return &SynCounter{} }
