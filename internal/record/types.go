package record

import "github.com/thobiasn/statpipe/internal/ident"

// Discriminants for the six on-disk frame kinds (spec §3).
const (
	KindItemGauge   uint8 = 0
	KindItemLcall   uint8 = 1
	KindItemRcall   uint8 = 2
	KindMergedGauge uint8 = 3
	KindMergedLcall uint8 = 4
	KindMergedRcall uint8 = 5
)

// Gauge value semantics.
const (
	GaugeSnapshot uint8 = 0
	GaugeDelta    uint8 = 1
)

const (
	maxKeyLen   = 128
	maxExtraLen = 256
	// maxMresultEntries is the clamp on a merged LCALL/RCALL retcode map
	// (spec §3 invariants: "≤ 65535 entries").
	maxMresultEntries = 65535
)

// Result is a single local/remote call outcome: response time and
// request/response sizes.
type Result struct {
	Rsptime uint32 // microseconds
	Isize   uint32 // bytes
	Osize   uint32 // bytes
}

// MResult is a running aggregate over one retcode's worth of Results.
type MResult struct {
	Count   uint32
	Rsptime uint32 // average
	Isize   uint32 // average
	Osize   uint32 // average
}

// MergeResult folds a single Result into an existing (possibly zero) count
// using the running-mean formula from spec §3/§4.2, with u64 intermediate
// arithmetic to avoid overflow (spec §5).
func MergeResult(m MResult, r Result) MResult {
	if m.Count == 0 {
		return MResult{Count: 1, Rsptime: r.Rsptime, Isize: r.Isize, Osize: r.Osize}
	}
	c1 := uint64(m.Count)
	return MResult{
		Count:   m.Count + 1,
		Rsptime: runningMean(m.Rsptime, c1, r.Rsptime, 1),
		Isize:   runningMean(m.Isize, c1, r.Isize, 1),
		Osize:   runningMean(m.Osize, c1, r.Osize, 1),
	}
}

// MergeMResult combines two already-aggregated MResult rows for the same
// retcode (spec §4.2: "combines two mresult rows ... by running mean").
func MergeMResult(a, b MResult) MResult {
	if a.Count == 0 {
		return b
	}
	if b.Count == 0 {
		return a
	}
	c1, c2 := uint64(a.Count), uint64(b.Count)
	return MResult{
		Count:   a.Count + b.Count,
		Rsptime: runningMean(a.Rsptime, c1, b.Rsptime, c2),
		Isize:   runningMean(a.Isize, c1, b.Isize, c2),
		Osize:   runningMean(a.Osize, c1, b.Osize, c2),
	}
}

// runningMean computes round((f1*c1 + f2*c2) / (c1+c2)) in u64 arithmetic.
func runningMean(f1 uint32, c1 uint64, f2 uint32, c2 uint64) uint32 {
	total := c1 + c2
	num := uint64(f1)*c1 + uint64(f2)*c2
	// round-to-nearest
	return uint32((num + total/2) / total)
}

// ItemGauge is a scalar metric sample (spec §3, ITEM_GAUGE).
type ItemGauge struct {
	Timestamp int64
	Host      ident.HostAddr
	Sid       ident.StatId
	Gtype     uint8
	Value     int64
}

// ItemLcall is a local-call observation (spec §3, ITEM_LCALL).
type ItemLcall struct {
	Timestamp int64
	Host      ident.HostAddr
	Sid       ident.StatId
	Retcode   int32
	Result    Result
	Key       string
	Extra     string
}

// ItemRcall is a remote-call observation (spec §3, ITEM_RCALL).
type ItemRcall struct {
	Timestamp int64
	SrcHost   ident.HostAddr
	SrcSid    ident.StatId
	DstHost   ident.HostAddr
	DstSid    ident.StatId
	Retcode   int32
	Result    Result
	Key       string
	Extra     string
}

// Freq is a (ftype, freqs) bucket frequency (spec §3).
type Freq struct {
	Ftype uint8
	Freqs uint8
}

// Frequency type constants.
const (
	FreqSecond uint8 = 0
	FreqMinute uint8 = 1
	FreqHour   uint8 = 2
	FreqDay    uint8 = 3
	FreqMonth  uint8 = 4
	FreqYear   uint8 = 5
)

// UnitMillis returns the bucket width in milliseconds for a frequency.
// SECOND/MINUTE/HOUR/DAY have a fixed width; MONTH/YEAR are representable
// here but return 0, since they have no fixed width in milliseconds and
// the merger does not bucket them (spec's open question §9.3).
func (f Freq) UnitMillis() int64 {
	k := int64(f.Freqs)
	switch f.Ftype {
	case FreqSecond:
		return 1000 * k
	case FreqMinute:
		return 60000 * k
	case FreqHour:
		return 3600000 * k
	case FreqDay:
		return 86400000 * k
	default:
		return 0
	}
}

// MergedGauge is a merged gauge bucket (spec §3, MERGED_GAUGE).
type MergedGauge struct {
	Timestamp int64 // bucket start
	Host      ident.HostAddr
	Sid       ident.StatId
	Freq      Freq
	Gtype     uint8
	Value     int64
}

// MergedLcall is a merged local-call bucket keyed by retcode (spec §3,
// MERGED_LCALL).
type MergedLcall struct {
	Timestamp int64
	Host      ident.HostAddr
	Sid       ident.StatId
	Freq      Freq
	Results   map[int32]MResult
}

// MergedRcall is a merged remote-call bucket keyed by retcode (spec §3,
// MERGED_RCALL).
type MergedRcall struct {
	Timestamp int64
	SrcHost   ident.HostAddr
	SrcSid    ident.StatId
	DstHost   ident.HostAddr
	DstSid    ident.StatId
	Freq      Freq
	Results   map[int32]MResult
}
