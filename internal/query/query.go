// Package query implements the storage query combiner (spec §4.8): given a
// span, a (pid, mid) filter, a set of resource metric ids, and a host set,
// it scans the on-disk tree, re-aggregates matching merged records into a
// fixed-size bucket ring, and projects identities under a grouping rule.
package query

import (
	"fmt"
	"os"
	"strconv"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/merge"
	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/scan"
	"github.com/thobiasn/statpipe/internal/sysmetric"
)

// Context selects the business/resource id namespace (spec §4.8). Business
// ids are translated into resource ids before scanning; the translation
// itself is an explicit Open Question stub (spec §9) — see Translate below.
type Context uint8

const (
	ContextBusiness Context = 0
	ContextResource Context = 1
)

// Request bundles the GET_SYSTEM_STATS_REQ parameters (spec §6.2, §4.8).
type Request struct {
	Context   Context
	TotalView bool
	Start     int64
	End       int64
	SpanUnit  uint8 // record.Freq ftype
	SpanCount uint8
	Pid       uint16
	Mid       uint16
	Iids      []uint16
	Hosts     map[ident.HostAddr]struct{} // empty/nil = any
}

// Translate maps a business id to a resource id. The spec explicitly leaves
// this translation unspecified ("stub in this spec", §4.8/§9); until a real
// mapping table exists this is the identity function.
func Translate(businessIid uint16) uint16 { return businessIid }

// Combined is the re-aggregated result: a bucket ring plus the freq it was
// built at, ready to hand to wire.EncodeStatsResponse.
type Combined struct {
	Ftype           uint8
	Freqs           uint8
	PeriodStartTime int64
	Buckets         []Bucket
}

// Bucket mirrors wire.StatsBucket but stays internal to this package until
// the caller decides how to serialize it.
type Bucket struct {
	Gauges map[ident.LocalKey]*record.MergedGauge
	Lcalls map[ident.LocalKey]*record.MergedLcall
}

// Run executes the query algorithm described in spec §4.8 steps 1-5 against
// the storage tree rooted at baseDir.
func Run(baseDir string, req Request) (*Combined, error) {
	freq := record.Freq{Ftype: req.SpanUnit, Freqs: req.SpanCount}
	unit := freq.UnitMillis()
	if unit <= 0 {
		return nil, fmt.Errorf("query: span unit produces zero-width buckets")
	}
	mergeCount := int((req.End - req.Start) / unit)
	if mergeCount <= 0 {
		return nil, fmt.Errorf("query: empty or inverted span [%d, %d)", req.Start, req.End)
	}

	iids := req.Iids
	if req.Context == ContextBusiness {
		iids = make([]uint16, len(req.Iids))
		for i, id := range req.Iids {
			iids[i] = Translate(id)
		}
	}
	wantIids := make(map[uint16]struct{}, len(iids))
	for _, id := range iids {
		wantIids[id] = struct{}{}
	}

	years := yearsInSpan(req.Start, req.End)

	combinerGauge := merge.NewCombiner(req.SpanUnit, req.SpanCount, mergeCount, req.Start)
	combinerLcall := merge.NewCombiner(req.SpanUnit, req.SpanCount, mergeCount, req.Start)

	gaugeBuckets := make([]map[ident.LocalKey]*record.MergedGauge, mergeCount)
	lcallBuckets := make([]map[ident.LocalKey]*record.MergedLcall, mergeCount)

	filters := scan.Filters{
		AcceptYear: func(name string) bool {
			y, err := strconv.Atoi(name)
			if err != nil {
				return false
			}
			_, ok := years[y]
			return ok
		},
		AcceptProduct: func(name string) bool {
			if req.Pid == 0 {
				return true
			}
			return matchesHex(name, req.Pid)
		},
		AcceptModule: func(name string) bool {
			if req.Mid == 0 {
				return true
			}
			return matchesHex(name, req.Mid)
		},
	}

	// Only records inside the mergeCount whole buckets are fed in, so the
	// combiners' bucket index stays below mergeCount and never flushes.
	feedReq := req
	feedReq.End = req.Start + int64(mergeCount)*unit

	err := scan.WalkFiles(baseDir, filters, func(path string, key ident.LocalKey) {
		if _, ok := wantIids[key.Sid.Iid]; !ok {
			return
		}
		if len(req.Hosts) > 0 {
			if _, ok := req.Hosts[key.Host]; !ok {
				return
			}
		}
		if fam, _, _ := sysmetric.Classify(key.Sid.Iid); fam == sysmetric.FamilyUnknown {
			return
		}
		readAndFeed(path, feedReq, combinerGauge, combinerLcall)
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < mergeCount; i++ {
		gaugeBuckets[i] = make(map[ident.LocalKey]*record.MergedGauge)
		lcallBuckets[i] = make(map[ident.LocalKey]*record.MergedLcall)
	}
	projectInto(combinerGauge, combinerLcall, req, gaugeBuckets, lcallBuckets, mergeCount)

	out := &Combined{
		Ftype:           req.SpanUnit,
		Freqs:           req.SpanCount,
		PeriodStartTime: req.Start,
		Buckets:         make([]Bucket, mergeCount),
	}
	for i := range out.Buckets {
		out.Buckets[i] = Bucket{Gauges: gaugeBuckets[i], Lcalls: lcallBuckets[i]}
	}
	return out, nil
}

func yearsInSpan(start, end int64) map[int]struct{} {
	out := make(map[int]struct{})
	for ms := start; ms < end; ms += 365 * 24 * 3600 * 1000 {
		out[yearOf(ms)] = struct{}{}
	}
	out[yearOf(end-1)] = struct{}{}
	// yearOf can run ahead of the real year (see below), so also include
	// the year before the start.
	out[yearOf(start)-1] = struct{}{}
	return out
}

func yearOf(ms int64) int {
	// Avoids importing time just for Unix->year; UTC year boundaries only
	// need to be approximately right for directory-pruning purposes — a
	// false negative here would incorrectly skip a year, so yearsInSpan
	// rounds outward. Ignoring leap days makes this estimate run up to a
	// few days ahead of the real UTC year near New Year, never behind it.
	const msPerYear = 365 * 24 * 3600 * 1000
	return 1970 + int(ms/msPerYear)
}

func matchesHex(name string, want uint16) bool {
	v, err := strconv.ParseUint(name, 16, 16)
	if err != nil {
		return false
	}
	return uint16(v) == want
}

// readAndFeed opens one MG_/ML_ file and feeds every frame whose timestamp
// falls in [req.Start, req.End) into the matching combiner.
func readAndFeed(path string, req Request, gaugeCombiner, lcallCombiner *merge.Merger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	buf := record.NewBuffer(data)
	for buf.Remaining() > 0 {
		f, err := record.ParseItem(buf)
		if err != nil {
			return
		}
		switch f.Kind {
		case record.KindMergedGauge:
			if f.MGauge.Timestamp >= req.Start && f.MGauge.Timestamp < req.End {
				gaugeCombiner.MergeGauge(f.MGauge)
			}
		case record.KindMergedLcall:
			if f.MLcall.Timestamp >= req.Start && f.MLcall.Timestamp < req.End {
				lcallCombiner.MergeLcall(f.MLcall)
			}
		}
	}
}

// projectInto reads the combiners' internal bucket state by re-running
// their own upsert through the grouping rule (spec §4.8 step 4):
//   - pid==0, or totalView at department level: roll up to (0,0,iid), host=0.
//   - mid==0, or (mid!=0 ∧ totalView): roll up to (pid,0,iid), host=0.
//   - mid!=0 ∧ ¬totalView: per-host, sid=(0,0,iid), host preserved.
//
// Since *merge.Merger keeps its buckets unexported, this package reaches
// them through the GaugeBucket/LcallBucket accessors instead of re-deriving
// state.
func projectInto(gaugeCombiner, lcallCombiner *merge.Merger, req Request, gaugeBuckets []map[ident.LocalKey]*record.MergedGauge, lcallBuckets []map[ident.LocalKey]*record.MergedLcall, periodCount int) {
	for i := 0; i < periodCount; i++ {
		for key, g := range gaugeCombiner.GaugeBucket(i) {
			newKey := projectKey(key, req)
			cp := *g
			cp.Host = newKey.Host
			cp.Sid = newKey.Sid
			cur, ok := gaugeBuckets[i][newKey]
			if !ok {
				gaugeBuckets[i][newKey] = &cp
				continue
			}
			if g.Gtype == record.GaugeDelta {
				cur.Value += g.Value
			} else {
				cur.Value = g.Value
			}
		}
		for key, l := range lcallCombiner.LcallBucket(i) {
			newKey := projectKey(key, req)
			cur, ok := lcallBuckets[i][newKey]
			if !ok {
				cp := *l
				cp.Host = newKey.Host
				cp.Sid = newKey.Sid
				cp.Results = make(map[int32]record.MResult, len(l.Results))
				for rc, mr := range l.Results {
					cp.Results[rc] = mr
				}
				lcallBuckets[i][newKey] = &cp
				continue
			}
			for rc, mr := range l.Results {
				cur.Results[rc] = record.MergeMResult(cur.Results[rc], mr)
			}
		}
	}
}

func projectKey(key ident.LocalKey, req Request) ident.LocalKey {
	var zeroHost ident.HostAddr
	switch {
	case req.Pid == 0 || (req.TotalView && req.Mid == 0):
		return ident.LocalKey{Host: zeroHost, Sid: ident.StatId{Pid: 0, Mid: 0, Iid: key.Sid.Iid}}
	case req.Mid == 0 || (req.Mid != 0 && req.TotalView):
		return ident.LocalKey{Host: zeroHost, Sid: ident.StatId{Pid: req.Pid, Mid: 0, Iid: key.Sid.Iid}}
	default: // mid != 0 && !totalView: per-host
		return ident.LocalKey{Host: key.Host, Sid: ident.StatId{Pid: 0, Mid: 0, Iid: key.Sid.Iid}}
	}
}
