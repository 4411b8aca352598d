package wire

import (
	"fmt"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

// EncodeSaveStatsBody concatenates {u8 discriminant, MERGED_* payload}
// tuples for a batch of merged frames (spec §6.2, SAVE_STATS_REQ/RSP body).
func EncodeSaveStatsBody(frames []*record.Frame) ([]byte, error) {
	buf := record.NewWriteBuffer(estimateSize(frames))
	for _, f := range frames {
		if err := record.EncodeItem(buf, f); err != nil {
			return nil, fmt.Errorf("wire: encode save-stats frame: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func estimateSize(frames []*record.Frame) int {
	// A generous per-frame estimate avoids repeated buffer growth; the
	// Buffer type has no dynamic growth, so this must be an upper bound.
	// Each retcode entry of a merged call frame adds 20 bytes on top.
	n := len(frames)*512 + 64
	for _, f := range frames {
		if f.MLcall != nil {
			n += 20 * len(f.MLcall.Results)
		}
		if f.MRcall != nil {
			n += 20 * len(f.MRcall.Results)
		}
	}
	return n
}

// DecodeSaveStatsBody parses a SAVE_STATS body back into its constituent
// merged frames.
func DecodeSaveStatsBody(body []byte) ([]*record.Frame, error) {
	buf := record.NewBuffer(body)
	var frames []*record.Frame
	for buf.Remaining() > 0 {
		f, err := record.ParseItem(buf)
		if err != nil {
			return nil, fmt.Errorf("wire: decode save-stats body: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// QueryContext distinguishes the business/resource id namespaces for
// GET_SYSTEM_STATS (spec §4.8).
type QueryContext uint8

const (
	ContextBusiness QueryContext = 0
	ContextResource QueryContext = 1
)

// StatsQuery is the decoded GET_SYSTEM_STATS_REQ body (spec §6.2).
type StatsQuery struct {
	Context   QueryContext
	TotalView bool
	Start     int64
	End       int64
	Ftype     uint8
	Freqs     uint8
	Pid       uint16
	Mid       uint16
	Iids      []uint16
	Hosts     []ident.HostAddr
}

// EncodeStatsQuery writes a StatsQuery per the GET_SYSTEM_STATS_REQ layout:
// u8 context, u8 totalView, i64 start, i64 end, u8 ftype, u8 freqs, u16 pid,
// u16 mid, u16 iidCount, u16 iid×iidCount, u16 hostCount, HostAddr×hostCount.
func EncodeStatsQuery(q *StatsQuery) ([]byte, error) {
	buf := record.NewWriteBuffer(32 + 2*len(q.Iids) + 17*len(q.Hosts))
	if err := buf.WriteU8(uint8(q.Context)); err != nil {
		return nil, err
	}
	totalView := uint8(0)
	if q.TotalView {
		totalView = 1
	}
	if err := buf.WriteU8(totalView); err != nil {
		return nil, err
	}
	if err := buf.WriteI64(q.Start); err != nil {
		return nil, err
	}
	if err := buf.WriteI64(q.End); err != nil {
		return nil, err
	}
	if err := buf.WriteU8(q.Ftype); err != nil {
		return nil, err
	}
	if err := buf.WriteU8(q.Freqs); err != nil {
		return nil, err
	}
	if err := buf.WriteU16(q.Pid); err != nil {
		return nil, err
	}
	if err := buf.WriteU16(q.Mid); err != nil {
		return nil, err
	}
	if err := buf.WriteU16(uint16(len(q.Iids))); err != nil {
		return nil, err
	}
	for _, iid := range q.Iids {
		if err := buf.WriteU16(iid); err != nil {
			return nil, err
		}
	}
	if err := buf.WriteU16(uint16(len(q.Hosts))); err != nil {
		return nil, err
	}
	for _, h := range q.Hosts {
		if err := writeHostAddr(buf, h); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeStatsQuery parses a GET_SYSTEM_STATS_REQ body.
func DecodeStatsQuery(body []byte) (*StatsQuery, error) {
	buf := record.NewBuffer(body)
	q := &StatsQuery{}

	ctx, err := buf.ReadU8()
	if err != nil {
		return nil, err
	}
	q.Context = QueryContext(ctx)

	tv, err := buf.ReadU8()
	if err != nil {
		return nil, err
	}
	q.TotalView = tv != 0

	if q.Start, err = buf.ReadI64(); err != nil {
		return nil, err
	}
	if q.End, err = buf.ReadI64(); err != nil {
		return nil, err
	}
	if q.Ftype, err = buf.ReadU8(); err != nil {
		return nil, err
	}
	if q.Freqs, err = buf.ReadU8(); err != nil {
		return nil, err
	}
	if q.Pid, err = buf.ReadU16(); err != nil {
		return nil, err
	}
	if q.Mid, err = buf.ReadU16(); err != nil {
		return nil, err
	}
	iidCount, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	q.Iids = make([]uint16, iidCount)
	for i := range q.Iids {
		if q.Iids[i], err = buf.ReadU16(); err != nil {
			return nil, err
		}
	}
	hostCount, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	q.Hosts = make([]ident.HostAddr, hostCount)
	for i := range q.Hosts {
		if q.Hosts[i], err = readHostAddr(buf); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// writeHostAddr/readHostAddr mirror record's internal host encoding (1-byte
// version tag + 4 or 16 raw bytes); duplicated here rather than exported
// from record because the wire layer's HostAddr framing is a distinct
// protocol surface from the on-disk frame layout, even though the bytes
// happen to coincide.
func writeHostAddr(b *record.Buffer, h ident.HostAddr) error {
	if err := b.WriteU8(h.Ver); err != nil {
		return err
	}
	if h.Ver == 6 {
		ip := h.IP()
		return b.WriteFixed(ip)
	}
	ip := h.IP().To4()
	return b.WriteFixed(ip)
}

func readHostAddr(b *record.Buffer) (ident.HostAddr, error) {
	ver, err := b.ReadU8()
	if err != nil {
		return ident.HostAddr{}, err
	}
	n := 4
	if ver == 6 {
		n = 16
	}
	raw, err := b.ReadFixed(n)
	if err != nil {
		return ident.HostAddr{}, err
	}
	return ident.HostAddrFromIP(rawIP(raw)), nil
}

func rawIP(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// StatsBucket is one bucket's worth of combiner output: every merged gauge,
// lcall, and rcall resident in that bucket.
type StatsBucket struct {
	Gauges []*record.MergedGauge
	Lcalls []*record.MergedLcall
	Rcalls []*record.MergedRcall
}

// StatsResponse is the decoded GET_SYSTEM_STATS_RSP body (spec §6.2): a
// combiner's ring encoded as ftype, freqs, periodStartTime, periodCount,
// then each bucket's gauge/lcall/rcall rows.
type StatsResponse struct {
	Ftype           uint8
	Freqs           uint8
	PeriodStartTime int64
	Buckets         []StatsBucket
}

// EncodeStatsResponse serializes a StatsResponse for GET_SYSTEM_STATS_RSP.
func EncodeStatsResponse(resp *StatsResponse) ([]byte, error) {
	buf := record.NewWriteBuffer(estimateResponseSize(resp))
	if err := buf.WriteU8(resp.Ftype); err != nil {
		return nil, err
	}
	if err := buf.WriteU8(resp.Freqs); err != nil {
		return nil, err
	}
	if err := buf.WriteI64(resp.PeriodStartTime); err != nil {
		return nil, err
	}
	if err := buf.WriteU16(uint16(len(resp.Buckets))); err != nil {
		return nil, err
	}
	for _, bk := range resp.Buckets {
		if err := buf.WriteU16(uint16(len(bk.Gauges))); err != nil {
			return nil, err
		}
		for _, g := range bk.Gauges {
			if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedGauge, MGauge: g}); err != nil {
				return nil, err
			}
		}
		if err := buf.WriteU16(uint16(len(bk.Lcalls))); err != nil {
			return nil, err
		}
		for _, l := range bk.Lcalls {
			if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedLcall, MLcall: l}); err != nil {
				return nil, err
			}
		}
		if err := buf.WriteU16(uint16(len(bk.Rcalls))); err != nil {
			return nil, err
		}
		for _, r := range bk.Rcalls {
			if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedRcall, MRcall: r}); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func estimateResponseSize(resp *StatsResponse) int {
	n := 16
	for _, bk := range resp.Buckets {
		n += 6 + len(bk.Gauges)*64 + len(bk.Lcalls)*128 + len(bk.Rcalls)*192
		for _, l := range bk.Lcalls {
			n += 20 * len(l.Results)
		}
		for _, r := range bk.Rcalls {
			n += 20 * len(r.Results)
		}
	}
	return n
}

// DecodeStatsResponse parses a GET_SYSTEM_STATS_RSP body. Each per-bucket
// frame's leading discriminant byte is read and discarded by
// record.ParseItem itself, so this only needs to drive the count prefixes.
func DecodeStatsResponse(body []byte) (*StatsResponse, error) {
	buf := record.NewBuffer(body)
	resp := &StatsResponse{}
	var err error
	if resp.Ftype, err = buf.ReadU8(); err != nil {
		return nil, err
	}
	if resp.Freqs, err = buf.ReadU8(); err != nil {
		return nil, err
	}
	if resp.PeriodStartTime, err = buf.ReadI64(); err != nil {
		return nil, err
	}
	periodCount, err := buf.ReadU16()
	if err != nil {
		return nil, err
	}
	resp.Buckets = make([]StatsBucket, periodCount)
	for i := range resp.Buckets {
		bk := &resp.Buckets[i]

		gaugeCount, err := buf.ReadU16()
		if err != nil {
			return nil, err
		}
		bk.Gauges = make([]*record.MergedGauge, gaugeCount)
		for j := range bk.Gauges {
			f, err := record.ParseItem(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode stats response gauge: %w", err)
			}
			bk.Gauges[j] = f.MGauge
		}

		lcallCount, err := buf.ReadU16()
		if err != nil {
			return nil, err
		}
		bk.Lcalls = make([]*record.MergedLcall, lcallCount)
		for j := range bk.Lcalls {
			f, err := record.ParseItem(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode stats response lcall: %w", err)
			}
			bk.Lcalls[j] = f.MLcall
		}

		rcallCount, err := buf.ReadU16()
		if err != nil {
			return nil, err
		}
		bk.Rcalls = make([]*record.MergedRcall, rcallCount)
		for j := range bk.Rcalls {
			f, err := record.ParseItem(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode stats response rcall: %w", err)
			}
			bk.Rcalls[j] = f.MRcall
		}
	}
	return resp, nil
}
