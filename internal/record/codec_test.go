package record

import (
	"net"
	"testing"

	"github.com/thobiasn/statpipe/internal/ident"
)

func hostV4(s string) ident.HostAddr {
	return ident.HostAddrFromIP(net.ParseIP(s))
}

func TestRoundTripGauge(t *testing.T) {
	f := &Frame{Kind: KindItemGauge, Gauge: &ItemGauge{
		Timestamp: 1622505600000,
		Host:      hostV4("127.0.0.1"),
		Sid:       ident.StatId{Pid: 1, Mid: 2, Iid: 100},
		Gtype:     GaugeDelta,
		Value:     100,
	}}

	buf := NewWriteBuffer(64)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatalf("encode: %v", err)
	}

	rbuf := NewBuffer(buf.Bytes())
	got, err := ParseItem(rbuf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *got.Gauge != *f.Gauge {
		t.Errorf("got %+v, want %+v", got.Gauge, f.Gauge)
	}
	if rbuf.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", rbuf.Remaining())
	}
}

func TestGaugeEmitSize(t *testing.T) {
	// End-to-end scenario 1 (spec §8): 1+8+(1+4)+(2+2+2)+1+8 = 29 bytes.
	f := &Frame{Kind: KindItemGauge, Gauge: &ItemGauge{
		Timestamp: 1622505600000,
		Host:      hostV4("127.0.0.1"),
		Sid:       ident.StatId{Pid: 1, Mid: 2, Iid: 100},
		Gtype:     GaugeDelta,
		Value:     100,
	}}
	buf := NewWriteBuffer(64)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatal(err)
	}
	if len(buf.Bytes()) != 29 {
		t.Errorf("encoded length = %d, want 29", len(buf.Bytes()))
	}
	if buf.Bytes()[0] != 0x00 {
		t.Errorf("discriminant = %#x, want 0x00", buf.Bytes()[0])
	}
}

func TestRoundTripLcall(t *testing.T) {
	f := &Frame{Kind: KindItemLcall, Lcall: &ItemLcall{
		Timestamp: 1000,
		Host:      hostV4("10.0.0.1"),
		Sid:       ident.StatId{Pid: 1, Mid: 1, Iid: 200},
		Retcode:   0,
		Result:    Result{Rsptime: 100, Isize: 23, Osize: 1024},
		Key:       "key",
		Extra:     "extra",
	}}
	buf := NewWriteBuffer(128)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatal(err)
	}
	// End-to-end scenario 2 (spec §8): 48 bytes total.
	if len(buf.Bytes()) != 48 {
		t.Errorf("encoded length = %d, want 48", len(buf.Bytes()))
	}

	rbuf := NewBuffer(buf.Bytes())
	got, err := ParseItem(rbuf)
	if err != nil {
		t.Fatal(err)
	}
	if *got.Lcall != *f.Lcall {
		t.Errorf("got %+v, want %+v", got.Lcall, f.Lcall)
	}
}

func TestRoundTripRcall(t *testing.T) {
	f := &Frame{Kind: KindItemRcall, Rcall: &ItemRcall{
		Timestamp: 5000,
		SrcHost:   hostV4("10.0.0.1"),
		SrcSid:    ident.StatId{Pid: 1, Mid: 1, Iid: 1},
		DstHost:   hostV4("10.0.0.2"),
		DstSid:    ident.StatId{Pid: 2, Mid: 1, Iid: 1},
		Retcode:   -1,
		Result:    Result{Rsptime: 50, Isize: 10, Osize: 20},
		Key:       "rc-key",
		Extra:     "",
	}}
	buf := NewWriteBuffer(128)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatal(err)
	}
	rbuf := NewBuffer(buf.Bytes())
	got, err := ParseItem(rbuf)
	if err != nil {
		t.Fatal(err)
	}
	if *got.Rcall != *f.Rcall {
		t.Errorf("got %+v, want %+v", got.Rcall, f.Rcall)
	}
}

func TestRoundTripMergedLcall(t *testing.T) {
	f := &Frame{Kind: KindMergedLcall, MLcall: &MergedLcall{
		Timestamp: 60000,
		Host:      hostV4("127.0.0.1"),
		Sid:       ident.StatId{Pid: 1, Mid: 2, Iid: 100},
		Freq:      Freq{Ftype: FreqMinute, Freqs: 1},
		Results: map[int32]MResult{
			0:  {Count: 3, Rsptime: 100, Isize: 10, Osize: 20},
			-1: {Count: 1, Rsptime: 5, Isize: 1, Osize: 2},
		},
	}}
	buf := NewWriteBuffer(128)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatal(err)
	}
	rbuf := NewBuffer(buf.Bytes())
	got, err := ParseItem(rbuf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.MLcall.Results) != 2 {
		t.Fatalf("map len = %d, want 2", len(got.MLcall.Results))
	}
	for rc, want := range f.MLcall.Results {
		if got.MLcall.Results[rc] != want {
			t.Errorf("retcode %d: got %+v, want %+v", rc, got.MLcall.Results[rc], want)
		}
	}
}

func TestPartialFrameSafety(t *testing.T) {
	f := &Frame{Kind: KindItemGauge, Gauge: &ItemGauge{
		Timestamp: 1,
		Host:      hostV4("1.2.3.4"),
		Sid:       ident.StatId{Pid: 1, Mid: 1, Iid: 1},
		Gtype:     GaugeSnapshot,
		Value:     42,
	}}
	buf := NewWriteBuffer(64)
	if err := EncodeItem(buf, f); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()

	for n := 0; n < len(full); n++ {
		rbuf := NewBuffer(full[:n])
		before := rbuf.ReadPos()
		_, err := ParseItem(rbuf)
		if err == nil {
			t.Fatalf("prefix len %d: expected error, got none", n)
		}
		if !IsNotEnough(err) {
			t.Fatalf("prefix len %d: expected NotEnough, got %v", n, err)
		}
		if rbuf.ReadPos() != before {
			t.Errorf("prefix len %d: read cursor moved from %d to %d", n, before, rbuf.ReadPos())
		}
	}
}

func TestEncodeRestoresWriteCursorOnOverflow(t *testing.T) {
	f := &Frame{Kind: KindItemGauge, Gauge: &ItemGauge{
		Timestamp: 1,
		Host:      hostV4("1.2.3.4"),
		Sid:       ident.StatId{Pid: 1, Mid: 1, Iid: 1},
		Gtype:     GaugeSnapshot,
		Value:     42,
	}}
	buf := NewWriteBuffer(10) // too small for a 29-byte gauge frame
	before := buf.WritePos()
	if err := EncodeItem(buf, f); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
	if buf.WritePos() != before {
		t.Errorf("write cursor = %d, want %d", buf.WritePos(), before)
	}
}

func TestCorruptDiscriminant(t *testing.T) {
	rbuf := NewBuffer([]byte{0xFF, 1, 2, 3})
	_, err := ParseItem(rbuf)
	if !IsCorrupt(err) {
		t.Fatalf("expected Corrupt, got %v", err)
	}
	if rbuf.ReadPos() != 0 {
		t.Errorf("read cursor moved on corrupt frame")
	}
}

func TestRunningMeanMergeMatchesEitherOrder(t *testing.T) {
	a := MResult{Count: 3, Rsptime: 100, Isize: 50, Osize: 20}
	b := MResult{Count: 7, Rsptime: 200, Isize: 80, Osize: 40}

	ab := MergeMResult(a, b)
	ba := MergeMResult(b, a)

	if ab.Count != ba.Count || ab.Count != 10 {
		t.Fatalf("count mismatch: ab=%d ba=%d", ab.Count, ba.Count)
	}
	if diff(ab.Rsptime, ba.Rsptime) > 1 {
		t.Errorf("rsptime mismatch: ab=%d ba=%d", ab.Rsptime, ba.Rsptime)
	}
	if diff(ab.Isize, ba.Isize) > 1 {
		t.Errorf("isize mismatch: ab=%d ba=%d", ab.Isize, ba.Isize)
	}
}

func diff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestStringTruncation(t *testing.T) {
	buf := NewWriteBuffer(256)
	if err := buf.WriteString("this is a long string that will be truncated"); err != nil {
		t.Fatal(err)
	}
	rbuf := NewBuffer(buf.Bytes())
	dst := make([]byte, 8)
	s, err := rbuf.ReadString(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 7 {
		t.Errorf("truncated len = %d, want 7", len(s))
	}
	if dst[7] != 0 {
		t.Errorf("expected NUL terminator in dst[7]")
	}
}
