package statview

import (
	"net"
	"testing"
	"time"

	"github.com/thobiasn/statpipe/internal/wire"
)

// fakeStore answers a single GET_SYSTEM_STATS_REQ with a canned response,
// standing in for internal/storesrv without depending on it.
func fakeStore(t *testing.T, resp *wire.StatsResponse) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		hdr, _, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		body, err := wire.EncodeStatsResponse(resp)
		if err != nil {
			return
		}
		wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdGetSystemStatsRsp, Ver: wire.WireVersion, Ack: hdr.Syn}, body)
	}()
	return ln.Addr().String()
}

func TestClientQueryRoundTrip(t *testing.T) {
	want := &wire.StatsResponse{Ftype: 0, Freqs: 1, PeriodStartTime: 60_000, Buckets: []wire.StatsBucket{{}}}
	addr := fakeStore(t, want)

	c := NewClient(addr, 2*time.Second)
	defer c.Close()

	got, err := c.Query(&wire.StatsQuery{Start: 60_000, End: 120_000, Ftype: 0, Freqs: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got.PeriodStartTime != want.PeriodStartTime {
		t.Errorf("PeriodStartTime = %d, want %d", got.PeriodStartTime, want.PeriodStartTime)
	}
}

func TestClientQueryDialFailureReturnsError(t *testing.T) {
	c := NewClient("127.0.0.1:1", 200*time.Millisecond)
	defer c.Close()
	if _, err := c.Query(&wire.StatsQuery{}); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}
