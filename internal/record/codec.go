package record

import (
	"fmt"

	"github.com/thobiasn/statpipe/internal/ident"
)

// Frame is a decoded on-disk frame: exactly one of the pointer fields is
// non-nil, selected by Kind.
type Frame struct {
	Kind   uint8
	Gauge  *ItemGauge
	Lcall  *ItemLcall
	Rcall  *ItemRcall
	MGauge *MergedGauge
	MLcall *MergedLcall
	MRcall *MergedRcall
}

func writeHost(b *Buffer, h ident.HostAddr) error {
	if err := b.WriteU8(h.Ver); err != nil {
		return err
	}
	if h.Ver == 6 {
		return b.WriteFixed(h.IPv6[:])
	}
	return b.WriteFixed(h.IPv4[:])
}

func readHost(b *Buffer) (ident.HostAddr, error) {
	var h ident.HostAddr
	ver, err := b.ReadU8()
	if err != nil {
		return h, err
	}
	h.Ver = ver
	switch ver {
	case 4:
		raw, err := b.ReadFixed(4)
		if err != nil {
			return h, err
		}
		copy(h.IPv4[:], raw)
	case 6:
		raw, err := b.ReadFixed(16)
		if err != nil {
			return h, err
		}
		copy(h.IPv6[:], raw)
	default:
		return h, errCorrupt(fmt.Sprintf("host: bad version tag %d", ver))
	}
	return h, nil
}

func writeSid(b *Buffer, s ident.StatId) error {
	if err := b.WriteU16(s.Pid); err != nil {
		return err
	}
	if err := b.WriteU16(s.Mid); err != nil {
		return err
	}
	return b.WriteU16(s.Iid)
}

func readSid(b *Buffer) (ident.StatId, error) {
	var s ident.StatId
	var err error
	if s.Pid, err = b.ReadU16(); err != nil {
		return s, err
	}
	if s.Mid, err = b.ReadU16(); err != nil {
		return s, err
	}
	if s.Iid, err = b.ReadU16(); err != nil {
		return s, err
	}
	return s, nil
}

func writeResult(b *Buffer, r Result) error {
	if err := b.WriteU32(r.Rsptime); err != nil {
		return err
	}
	if err := b.WriteU32(r.Isize); err != nil {
		return err
	}
	return b.WriteU32(r.Osize)
}

func readResult(b *Buffer) (Result, error) {
	var r Result
	var err error
	if r.Rsptime, err = b.ReadU32(); err != nil {
		return r, err
	}
	if r.Isize, err = b.ReadU32(); err != nil {
		return r, err
	}
	if r.Osize, err = b.ReadU32(); err != nil {
		return r, err
	}
	return r, nil
}

func writeMResult(b *Buffer, m MResult) error {
	if err := b.WriteU32(m.Count); err != nil {
		return err
	}
	if err := b.WriteU32(m.Rsptime); err != nil {
		return err
	}
	if err := b.WriteU32(m.Isize); err != nil {
		return err
	}
	return b.WriteU32(m.Osize)
}

func readMResult(b *Buffer) (MResult, error) {
	var m MResult
	var err error
	if m.Count, err = b.ReadU32(); err != nil {
		return m, err
	}
	if m.Rsptime, err = b.ReadU32(); err != nil {
		return m, err
	}
	if m.Isize, err = b.ReadU32(); err != nil {
		return m, err
	}
	if m.Osize, err = b.ReadU32(); err != nil {
		return m, err
	}
	return m, nil
}

// writeMResultMap clamps the map to maxMresultEntries: a larger map is
// written with only that many of its entries.
func writeMResultMap(b *Buffer, m map[int32]MResult) error {
	n := len(m)
	if n > maxMresultEntries {
		n = maxMresultEntries
	}
	if err := b.WriteU16(uint16(n)); err != nil {
		return err
	}
	written := 0
	for rc, mr := range m {
		if written == n {
			break
		}
		written++
		if err := b.WriteI32(rc); err != nil {
			return err
		}
		if err := writeMResult(b, mr); err != nil {
			return err
		}
	}
	return nil
}

func readMResultMap(b *Buffer) (map[int32]MResult, error) {
	n, err := b.ReadU16()
	if err != nil {
		return nil, err
	}
	if n > maxMresultEntries {
		return nil, errCorrupt("mresult map declares too many entries")
	}
	m := make(map[int32]MResult, n)
	for i := 0; i < int(n); i++ {
		rc, err := b.ReadI32()
		if err != nil {
			return nil, err
		}
		mr, err := readMResult(b)
		if err != nil {
			return nil, err
		}
		m[rc] = mr
	}
	return m, nil
}

func writeFreq(b *Buffer, f Freq) error {
	if err := b.WriteU8(f.Ftype); err != nil {
		return err
	}
	return b.WriteU8(f.Freqs)
}

func readFreq(b *Buffer) (Freq, error) {
	var f Freq
	var err error
	if f.Ftype, err = b.ReadU8(); err != nil {
		return f, err
	}
	if f.Freqs, err = b.ReadU8(); err != nil {
		return f, err
	}
	return f, nil
}

// EncodeItem writes rec's discriminant and payload to b. On any failure the
// write cursor is restored to its value on entry (spec §4.1 transactional
// semantics).
func EncodeItem(b *Buffer, f *Frame) error {
	savepoint := b.WritePos()
	if err := encodeItem(b, f); err != nil {
		b.SetWritePos(savepoint)
		return err
	}
	return nil
}

func encodeItem(b *Buffer, f *Frame) error {
	if err := b.WriteU8(f.Kind); err != nil {
		return err
	}
	switch f.Kind {
	case KindItemGauge:
		g := f.Gauge
		if err := b.WriteI64(g.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, g.Host); err != nil {
			return err
		}
		if err := writeSid(b, g.Sid); err != nil {
			return err
		}
		if err := b.WriteU8(g.Gtype); err != nil {
			return err
		}
		return b.WriteI64(g.Value)

	case KindItemLcall:
		l := f.Lcall
		if len(l.Key) > maxKeyLen || len(l.Extra) > maxExtraLen {
			return errCorrupt("lcall key/extra too long")
		}
		if err := b.WriteI64(l.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, l.Host); err != nil {
			return err
		}
		if err := writeSid(b, l.Sid); err != nil {
			return err
		}
		if err := b.WriteI32(l.Retcode); err != nil {
			return err
		}
		if err := writeResult(b, l.Result); err != nil {
			return err
		}
		if err := b.WriteString(l.Key); err != nil {
			return err
		}
		return b.WriteString(l.Extra)

	case KindItemRcall:
		r := f.Rcall
		if len(r.Key) > maxKeyLen || len(r.Extra) > maxExtraLen {
			return errCorrupt("rcall key/extra too long")
		}
		if err := b.WriteI64(r.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, r.SrcHost); err != nil {
			return err
		}
		if err := writeSid(b, r.SrcSid); err != nil {
			return err
		}
		if err := writeHost(b, r.DstHost); err != nil {
			return err
		}
		if err := writeSid(b, r.DstSid); err != nil {
			return err
		}
		if err := b.WriteI32(r.Retcode); err != nil {
			return err
		}
		if err := writeResult(b, r.Result); err != nil {
			return err
		}
		if err := b.WriteString(r.Key); err != nil {
			return err
		}
		return b.WriteString(r.Extra)

	case KindMergedGauge:
		g := f.MGauge
		if err := b.WriteI64(g.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, g.Host); err != nil {
			return err
		}
		if err := writeSid(b, g.Sid); err != nil {
			return err
		}
		if err := writeFreq(b, g.Freq); err != nil {
			return err
		}
		if err := b.WriteU8(g.Gtype); err != nil {
			return err
		}
		return b.WriteI64(g.Value)

	case KindMergedLcall:
		l := f.MLcall
		if err := b.WriteI64(l.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, l.Host); err != nil {
			return err
		}
		if err := writeSid(b, l.Sid); err != nil {
			return err
		}
		if err := writeFreq(b, l.Freq); err != nil {
			return err
		}
		return writeMResultMap(b, l.Results)

	case KindMergedRcall:
		r := f.MRcall
		if err := b.WriteI64(r.Timestamp); err != nil {
			return err
		}
		if err := writeHost(b, r.SrcHost); err != nil {
			return err
		}
		if err := writeSid(b, r.SrcSid); err != nil {
			return err
		}
		if err := writeHost(b, r.DstHost); err != nil {
			return err
		}
		if err := writeSid(b, r.DstSid); err != nil {
			return err
		}
		if err := writeFreq(b, r.Freq); err != nil {
			return err
		}
		return writeMResultMap(b, r.Results)

	default:
		return errCorrupt(fmt.Sprintf("unknown discriminant %d", f.Kind))
	}
}

// ParseItem reads one frame from b. On any failure — including a
// KindNotEnough underflow — the read cursor is restored to its value on
// entry, so the caller can retry once more bytes are appended (spec §4.1).
func ParseItem(b *Buffer) (*Frame, error) {
	savepoint := b.ReadPos()
	f, err := parseItem(b)
	if err != nil {
		b.SetReadPos(savepoint)
		return nil, err
	}
	return f, nil
}

func parseItem(b *Buffer) (*Frame, error) {
	kind, err := b.ReadU8()
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindItemGauge:
		g := &ItemGauge{}
		var err error
		if g.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if g.Host, err = readHost(b); err != nil {
			return nil, err
		}
		if g.Sid, err = readSid(b); err != nil {
			return nil, err
		}
		if g.Gtype, err = b.ReadU8(); err != nil {
			return nil, err
		}
		if g.Value, err = b.ReadI64(); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, Gauge: g}, nil

	case KindItemLcall:
		l := &ItemLcall{}
		var err error
		if l.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if l.Host, err = readHost(b); err != nil {
			return nil, err
		}
		if l.Sid, err = readSid(b); err != nil {
			return nil, err
		}
		if l.Retcode, err = b.ReadI32(); err != nil {
			return nil, err
		}
		if l.Result, err = readResult(b); err != nil {
			return nil, err
		}
		if l.Key, err = b.ReadString(nil); err != nil {
			return nil, err
		}
		if l.Extra, err = b.ReadString(nil); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, Lcall: l}, nil

	case KindItemRcall:
		r := &ItemRcall{}
		var err error
		if r.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if r.SrcHost, err = readHost(b); err != nil {
			return nil, err
		}
		if r.SrcSid, err = readSid(b); err != nil {
			return nil, err
		}
		if r.DstHost, err = readHost(b); err != nil {
			return nil, err
		}
		if r.DstSid, err = readSid(b); err != nil {
			return nil, err
		}
		if r.Retcode, err = b.ReadI32(); err != nil {
			return nil, err
		}
		if r.Result, err = readResult(b); err != nil {
			return nil, err
		}
		if r.Key, err = b.ReadString(nil); err != nil {
			return nil, err
		}
		if r.Extra, err = b.ReadString(nil); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, Rcall: r}, nil

	case KindMergedGauge:
		g := &MergedGauge{}
		var err error
		if g.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if g.Host, err = readHost(b); err != nil {
			return nil, err
		}
		if g.Sid, err = readSid(b); err != nil {
			return nil, err
		}
		if g.Freq, err = readFreq(b); err != nil {
			return nil, err
		}
		if g.Gtype, err = b.ReadU8(); err != nil {
			return nil, err
		}
		if g.Value, err = b.ReadI64(); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, MGauge: g}, nil

	case KindMergedLcall:
		l := &MergedLcall{}
		var err error
		if l.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if l.Host, err = readHost(b); err != nil {
			return nil, err
		}
		if l.Sid, err = readSid(b); err != nil {
			return nil, err
		}
		if l.Freq, err = readFreq(b); err != nil {
			return nil, err
		}
		if l.Results, err = readMResultMap(b); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, MLcall: l}, nil

	case KindMergedRcall:
		r := &MergedRcall{}
		var err error
		if r.Timestamp, err = b.ReadI64(); err != nil {
			return nil, err
		}
		if r.SrcHost, err = readHost(b); err != nil {
			return nil, err
		}
		if r.SrcSid, err = readSid(b); err != nil {
			return nil, err
		}
		if r.DstHost, err = readHost(b); err != nil {
			return nil, err
		}
		if r.DstSid, err = readSid(b); err != nil {
			return nil, err
		}
		if r.Freq, err = readFreq(b); err != nil {
			return nil, err
		}
		if r.Results, err = readMResultMap(b); err != nil {
			return nil, err
		}
		return &Frame{Kind: kind, MRcall: r}, nil

	default:
		return nil, errCorrupt(fmt.Sprintf("bad discriminant %d", kind))
	}
}
