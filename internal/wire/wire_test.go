package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := Header{Cmd: CmdSaveStatsReq, Ver: WireVersion, Syn: 7, Ack: 0}
	body := []byte("hello")

	if err := WriteMessage(&buf, h, body); err != nil {
		t.Fatal(err)
	}

	gotH, gotBody, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if gotH.Cmd != CmdSaveStatsReq || gotH.Syn != 7 || gotH.Len != uint32(len(body)) {
		t.Fatalf("header mismatch: %+v", gotH)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestSynCounterMonotonic(t *testing.T) {
	sc := NewSynCounter()
	if sc.Next() != 1 || sc.Next() != 2 || sc.Next() != 3 {
		t.Fatal("syn counter not monotonically increasing from 1")
	}
}

func TestSaveStatsBodyRoundTrip(t *testing.T) {
	frames := []*record.Frame{
		{Kind: record.KindMergedGauge, MGauge: &record.MergedGauge{
			Timestamp: 1, Host: hostV4("127.0.0.1"), Sid: ident.StatId{Pid: 1, Mid: 1, Iid: 1},
			Freq: record.Freq{Ftype: record.FreqMinute, Freqs: 1}, Gtype: record.GaugeSnapshot, Value: 5,
		}},
		{Kind: record.KindMergedLcall, MLcall: &record.MergedLcall{
			Timestamp: 2, Host: hostV4("10.0.0.2"), Sid: ident.StatId{Pid: 2, Mid: 1, Iid: 1},
			Freq: record.Freq{Ftype: record.FreqMinute, Freqs: 1},
			Results: map[int32]record.MResult{0: {Count: 1, Rsptime: 10, Isize: 1, Osize: 1}},
		}},
	}
	body, err := EncodeSaveStatsBody(frames)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSaveStatsBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0].MGauge.Value != 5 {
		t.Errorf("gauge value = %d, want 5", got[0].MGauge.Value)
	}
}

func TestStatsQueryRoundTrip(t *testing.T) {
	q := &StatsQuery{
		Context:   ContextResource,
		TotalView: true,
		Start:     100,
		End:       200,
		Ftype:     record.FreqHour,
		Freqs:     1,
		Pid:       1,
		Mid:       2,
		Iids:      []uint16{2020, 2021},
		Hosts:     []ident.HostAddr{hostV4("127.0.0.1")},
	}
	body, err := EncodeStatsQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStatsQuery(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.Start != 100 || got.End != 200 || !got.TotalView || got.Context != ContextResource {
		t.Fatalf("got %+v", got)
	}
	if len(got.Iids) != 2 || got.Iids[1] != 2021 {
		t.Fatalf("iids = %v", got.Iids)
	}
	if len(got.Hosts) != 1 || !got.Hosts[0].Equal(q.Hosts[0]) {
		t.Fatalf("hosts = %v", got.Hosts)
	}
}

func TestStatsResponseRoundTrip(t *testing.T) {
	resp := &StatsResponse{
		Ftype:           record.FreqHour,
		Freqs:           1,
		PeriodStartTime: 1000,
		Buckets: []StatsBucket{
			{Gauges: []*record.MergedGauge{{
				Timestamp: 1000, Host: hostV4("127.0.0.1"), Sid: ident.StatId{Pid: 1, Mid: 1, Iid: 2020},
				Freq: record.Freq{Ftype: record.FreqHour, Freqs: 1}, Gtype: record.GaugeSnapshot, Value: 42,
			}}},
			{},
			{},
		},
	}
	body, err := EncodeStatsResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStatsResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Buckets) != 3 {
		t.Fatalf("buckets = %d, want 3", len(got.Buckets))
	}
	if len(got.Buckets[0].Gauges) != 1 || got.Buckets[0].Gauges[0].Value != 42 {
		t.Fatalf("bucket 0 gauges = %+v", got.Buckets[0].Gauges)
	}
}

func TestHostInfoReportMsgpackRoundTrip(t *testing.T) {
	r := HostInfoReport{HostIP: "10.0.0.1", Hostname: "agent-1", AgentVer: "1.0", PrefixCount: 3}
	body, err := EncodeMeta(r)
	if err != nil {
		t.Fatal(err)
	}
	var got HostInfoReport
	if err := DecodeMeta(body, &got); err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func hostV4(s string) ident.HostAddr {
	return ident.HostAddrFromIP(net.ParseIP(s))
}
