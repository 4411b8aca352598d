// Package merge implements the bucketed time-window aggregator (spec §4.2):
// a ring of periodCount buckets per record kind, keyed by LocalKey or
// RcallKey, that upserts incoming items and merged records and flushes
// whole buckets forward as time advances.
package merge

import (
	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

// SaveGauges, SaveLcalls, SaveRcalls are invoked by move_ahead with the
// contents of a bucket about to be evicted. The receiver owns the map.
type (
	SaveGaugesFunc = func(map[ident.LocalKey]*record.MergedGauge)
	SaveLcallsFunc = func(map[ident.LocalKey]*record.MergedLcall)
	SaveRcallsFunc = func(map[ident.RcallKey]*record.MergedRcall)
)

// Merger is the ring-buffered aggregator described in spec §4.2. It is not
// safe for concurrent use; per spec §5 each tailer owns its own merger with
// no shared mutable state.
type Merger struct {
	ftype  uint8
	freqs  uint8
	unit   int64 // bucket width in ms
	period int   // periodCount, >= 2

	periodStartTime int64 // start of bucket 0; 0 == uninitialized

	gaugeBuckets []map[ident.LocalKey]*record.MergedGauge
	lcallBuckets []map[ident.LocalKey]*record.MergedLcall
	rcallBuckets []map[ident.RcallKey]*record.MergedRcall

	saveGauges SaveGaugesFunc
	saveLcalls SaveLcallsFunc
	saveRcalls SaveRcallsFunc
}

// New constructs a Merger. periodCount is clamped to a minimum of 2, per
// spec §4.2.
func New(ftype, freqs uint8, periodCount int, saveGauges SaveGaugesFunc, saveLcalls SaveLcallsFunc, saveRcalls SaveRcallsFunc) *Merger {
	if periodCount < 2 {
		periodCount = 2
	}
	f := record.Freq{Ftype: ftype, Freqs: freqs}
	m := &Merger{
		ftype:        ftype,
		freqs:        freqs,
		unit:         f.UnitMillis(),
		period:       periodCount,
		gaugeBuckets: make([]map[ident.LocalKey]*record.MergedGauge, periodCount),
		lcallBuckets: make([]map[ident.LocalKey]*record.MergedLcall, periodCount),
		rcallBuckets: make([]map[ident.RcallKey]*record.MergedRcall, periodCount),
		saveGauges:   saveGauges,
		saveLcalls:   saveLcalls,
		saveRcalls:   saveRcalls,
	}
	for i := range m.gaugeBuckets {
		m.gaugeBuckets[i] = make(map[ident.LocalKey]*record.MergedGauge)
		m.lcallBuckets[i] = make(map[ident.LocalKey]*record.MergedLcall)
		m.rcallBuckets[i] = make(map[ident.RcallKey]*record.MergedRcall)
	}
	return m
}

// NewCombiner builds a Merger pinned to [start, start+periodCount*unit) with
// no save callbacks, for the query-time combiner described in spec §4.8:
// "identical to the merger's in-bucket merge except it never flushes" —
// since every record fed to it is pre-filtered to fall inside that span,
// the bucket index never exceeds periodCount and move_ahead is never
// exercised.
func NewCombiner(ftype, freqs uint8, periodCount int, start int64) *Merger {
	m := New(ftype, freqs, periodCount, nil, nil, nil)
	m.periodStartTime = start
	return m
}

// PeriodStartTime returns the start of bucket 0, or 0 if no sample has ever
// been placed.
func (m *Merger) PeriodStartTime() int64 { return m.periodStartTime }

// PeriodCount returns the configured ring length.
func (m *Merger) PeriodCount() int { return m.period }

// GaugeBucket returns bucket i's gauge map. Exported for the query combiner
// (internal/query), which reads a Merger's resident state directly instead
// of going through save callbacks since NewCombiner never flushes.
func (m *Merger) GaugeBucket(i int) map[ident.LocalKey]*record.MergedGauge { return m.gaugeBuckets[i] }

// LcallBucket returns bucket i's local-call map. See GaugeBucket.
func (m *Merger) LcallBucket(i int) map[ident.LocalKey]*record.MergedLcall { return m.lcallBuckets[i] }

// RcallBucket returns bucket i's remote-call map. See GaugeBucket.
func (m *Merger) RcallBucket(i int) map[ident.RcallKey]*record.MergedRcall { return m.rcallBuckets[i] }

func (m *Merger) bucketStart(ts int64) int64 {
	if m.unit <= 0 {
		return ts
	}
	return ts - (ts % m.unit)
}

// locateIndex runs the bucket placement algorithm (spec §4.2 steps 1-5) and
// returns the bucket index to use, or -1 if the sample should be dropped as
// too old.
func (m *Merger) locateIndex(ts int64) int {
	p := m.bucketStart(ts)
	if m.periodStartTime == 0 {
		m.periodStartTime = p - m.unit*int64(m.period-1)
		return m.period - 1
	}
	idx := (p - m.periodStartTime) / m.unit
	if idx < 0 {
		return -1
	}
	if idx >= int64(m.period) {
		m.moveAhead(int(idx) - m.period + 1)
		return m.period - 1
	}
	return int(idx)
}

// MoveAhead flushes and slides the ring forward by n buckets (spec §4.2).
// Exported so the orchestrator can force a flush (e.g. on shutdown or a
// timer) without waiting for a sample to push the ring forward.
func (m *Merger) MoveAhead(n int) { m.moveAhead(n) }

func (m *Merger) moveAhead(n int) {
	if n <= 0 {
		return
	}
	flushN := n
	if flushN > m.period {
		flushN = m.period
	}
	for i := 0; i < flushN; i++ {
		if len(m.gaugeBuckets[i]) > 0 && m.saveGauges != nil {
			m.saveGauges(m.gaugeBuckets[i])
		}
		if len(m.lcallBuckets[i]) > 0 && m.saveLcalls != nil {
			m.saveLcalls(m.lcallBuckets[i])
		}
		if len(m.rcallBuckets[i]) > 0 && m.saveRcalls != nil {
			m.saveRcalls(m.rcallBuckets[i])
		}
		m.gaugeBuckets[i] = make(map[ident.LocalKey]*record.MergedGauge)
		m.lcallBuckets[i] = make(map[ident.LocalKey]*record.MergedLcall)
		m.rcallBuckets[i] = make(map[ident.RcallKey]*record.MergedRcall)
	}

	if n < m.period {
		copy(m.gaugeBuckets, m.gaugeBuckets[n:])
		copy(m.lcallBuckets, m.lcallBuckets[n:])
		copy(m.rcallBuckets, m.rcallBuckets[n:])
	}
	for i := m.period - n; i < m.period; i++ {
		if i < 0 {
			continue
		}
		m.gaugeBuckets[i] = make(map[ident.LocalKey]*record.MergedGauge)
		m.lcallBuckets[i] = make(map[ident.LocalKey]*record.MergedLcall)
		m.rcallBuckets[i] = make(map[ident.RcallKey]*record.MergedRcall)
	}
	m.periodStartTime += m.unit * int64(n)
}

func bucketTimestamp(start, unit int64, idx int) int64 { return start + unit*int64(idx) }

// PutGauge upserts a raw gauge item (spec §3 invariant: SNAPSHOT replaces,
// DELTA sums).
func (m *Merger) PutGauge(g *record.ItemGauge) {
	idx := m.locateIndex(g.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.LocalKey{Host: g.Host, Sid: g.Sid}
	b := m.gaugeBuckets[idx]
	cur, ok := b[key]
	if !ok {
		b[key] = &record.MergedGauge{
			Timestamp: bucketTimestamp(m.periodStartTime, m.unit, idx),
			Host:      g.Host,
			Sid:       g.Sid,
			Freq:      record.Freq{Ftype: m.ftype, Freqs: m.freqs},
			Gtype:     g.Gtype,
			Value:     g.Value,
		}
		return
	}
	switch g.Gtype {
	case record.GaugeDelta:
		cur.Value += g.Value
	default: // GaugeSnapshot and any other value: last-writer-wins
		cur.Value = g.Value
	}
	cur.Gtype = g.Gtype
}

// PutLcall upserts a raw local-call item into its retcode's running mean.
func (m *Merger) PutLcall(l *record.ItemLcall) {
	idx := m.locateIndex(l.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.LocalKey{Host: l.Host, Sid: l.Sid}
	b := m.lcallBuckets[idx]
	cur, ok := b[key]
	if !ok {
		cur = &record.MergedLcall{
			Timestamp: bucketTimestamp(m.periodStartTime, m.unit, idx),
			Host:      l.Host,
			Sid:       l.Sid,
			Freq:      record.Freq{Ftype: m.ftype, Freqs: m.freqs},
			Results:   make(map[int32]record.MResult),
		}
		b[key] = cur
	}
	cur.Results[l.Retcode] = record.MergeResult(cur.Results[l.Retcode], l.Result)
}

// PutRcall upserts a raw remote-call item into its retcode's running mean.
func (m *Merger) PutRcall(r *record.ItemRcall) {
	idx := m.locateIndex(r.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.RcallKey{
		Src: ident.LocalKey{Host: r.SrcHost, Sid: r.SrcSid},
		Dst: ident.LocalKey{Host: r.DstHost, Sid: r.DstSid},
	}
	b := m.rcallBuckets[idx]
	cur, ok := b[key]
	if !ok {
		cur = &record.MergedRcall{
			Timestamp: bucketTimestamp(m.periodStartTime, m.unit, idx),
			SrcHost:   r.SrcHost,
			SrcSid:    r.SrcSid,
			DstHost:   r.DstHost,
			DstSid:    r.DstSid,
			Freq:      record.Freq{Ftype: m.ftype, Freqs: m.freqs},
			Results:   make(map[int32]record.MResult),
		}
		b[key] = cur
	}
	cur.Results[r.Retcode] = record.MergeResult(cur.Results[r.Retcode], r.Result)
}

// MergeGauge upserts an already-merged gauge bucket seen by the tailer (a
// MERGED_GAUGE frame read from a log written by an upstream merger).
func (m *Merger) MergeGauge(g *record.MergedGauge) {
	idx := m.locateIndex(g.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.LocalKey{Host: g.Host, Sid: g.Sid}
	b := m.gaugeBuckets[idx]
	cur, ok := b[key]
	if !ok {
		cp := *g
		cp.Timestamp = bucketTimestamp(m.periodStartTime, m.unit, idx)
		b[key] = &cp
		return
	}
	switch g.Gtype {
	case record.GaugeDelta:
		cur.Value += g.Value
	default:
		cur.Value = g.Value
	}
}

// MergeLcall merges an already-merged local-call bucket, combining each
// retcode's mresult by running mean (spec §4.2).
func (m *Merger) MergeLcall(l *record.MergedLcall) {
	idx := m.locateIndex(l.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.LocalKey{Host: l.Host, Sid: l.Sid}
	b := m.lcallBuckets[idx]
	cur, ok := b[key]
	if !ok {
		cur = &record.MergedLcall{
			Timestamp: bucketTimestamp(m.periodStartTime, m.unit, idx),
			Host:      l.Host,
			Sid:       l.Sid,
			Freq:      record.Freq{Ftype: m.ftype, Freqs: m.freqs},
			Results:   make(map[int32]record.MResult),
		}
		b[key] = cur
	}
	for rc, mr := range l.Results {
		cur.Results[rc] = record.MergeMResult(cur.Results[rc], mr)
	}
}

// MergeRcall merges an already-merged remote-call bucket.
func (m *Merger) MergeRcall(r *record.MergedRcall) {
	idx := m.locateIndex(r.Timestamp)
	if idx < 0 {
		return
	}
	key := ident.RcallKey{
		Src: ident.LocalKey{Host: r.SrcHost, Sid: r.SrcSid},
		Dst: ident.LocalKey{Host: r.DstHost, Sid: r.DstSid},
	}
	b := m.rcallBuckets[idx]
	cur, ok := b[key]
	if !ok {
		cur = &record.MergedRcall{
			Timestamp: bucketTimestamp(m.periodStartTime, m.unit, idx),
			SrcHost:   r.SrcHost,
			SrcSid:    r.SrcSid,
			DstHost:   r.DstHost,
			DstSid:    r.DstSid,
			Freq:      record.Freq{Ftype: m.ftype, Freqs: m.freqs},
			Results:   make(map[int32]record.MResult),
		}
		b[key] = cur
	}
	for rc, mr := range r.Results {
		cur.Results[rc] = record.MergeMResult(cur.Results[rc], mr)
	}
}

// Flush forces every non-empty bucket to save and clears the ring, without
// advancing periodStartTime. Used on orchestrator shutdown so no resident
// data is silently dropped.
func (m *Merger) Flush() {
	for i := 0; i < m.period; i++ {
		if len(m.gaugeBuckets[i]) > 0 && m.saveGauges != nil {
			m.saveGauges(m.gaugeBuckets[i])
		}
		if len(m.lcallBuckets[i]) > 0 && m.saveLcalls != nil {
			m.saveLcalls(m.lcallBuckets[i])
		}
		if len(m.rcallBuckets[i]) > 0 && m.saveRcalls != nil {
			m.saveRcalls(m.rcallBuckets[i])
		}
		m.gaugeBuckets[i] = make(map[ident.LocalKey]*record.MergedGauge)
		m.lcallBuckets[i] = make(map[ident.LocalKey]*record.MergedLcall)
		m.rcallBuckets[i] = make(map[ident.RcallKey]*record.MergedRcall)
	}
}
