package storesrv

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/wire"
)

func hostV4(s string) ident.HostAddr {
	return ident.HostAddrFromIP(net.ParseIP(s))
}

func startServer(t *testing.T, baseDir string) (addr string, stop func()) {
	t.Helper()
	srv := New(baseDir, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	return srv.listener.Addr().String(), func() {
		cancel()
		<-done
	}
}

func TestSaveStatsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startServer(t, dir)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	host := hostV4("192.168.0.1")
	sid := ident.StatId{Pid: 1, Mid: 2, Iid: 1000}
	frame := &record.Frame{Kind: record.KindMergedGauge, MGauge: &record.MergedGauge{
		Timestamp: 60_000,
		Host:      host,
		Sid:       sid,
		Freq:      record.Freq{Ftype: record.FreqSecond, Freqs: 1},
		Gtype:     record.GaugeSnapshot,
		Value:     42,
	}}
	body, err := wire.EncodeSaveStatsBody([]*record.Frame{frame})
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdSaveStatsReq, Ver: wire.WireVersion, Syn: 7}, body); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdr, _, err := wire.ReadMessage(conn)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Cmd != wire.CmdSaveStatsRsp || hdr.Ack != 7 {
		t.Fatalf("got cmd=%d ack=%d, want CmdSaveStatsRsp ack=7", hdr.Cmd, hdr.Ack)
	}
}

func TestGetSystemStatsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	addr, stop := startServer(t, dir)
	defer stop()

	writeConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	host := hostV4("192.168.0.2")
	sid := ident.StatId{Pid: 5, Mid: 9, Iid: 1000}
	frame := &record.Frame{Kind: record.KindMergedGauge, MGauge: &record.MergedGauge{
		Timestamp: 60_000,
		Host:      host,
		Sid:       sid,
		Freq:      record.Freq{Ftype: record.FreqSecond, Freqs: 1},
		Gtype:     record.GaugeSnapshot,
		Value:     99,
	}}
	body, _ := wire.EncodeSaveStatsBody([]*record.Frame{frame})
	if err := wire.WriteMessage(writeConn, wire.Header{Cmd: wire.CmdSaveStatsReq, Ver: wire.WireVersion, Syn: 1}, body); err != nil {
		t.Fatal(err)
	}
	writeConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wire.ReadMessage(writeConn); err != nil {
		t.Fatal(err)
	}
	writeConn.Close()

	queryConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer queryConn.Close()

	q := &wire.StatsQuery{
		Context:   wire.ContextResource,
		TotalView: false,
		Start:     60_000,
		End:       180_000,
		Ftype:     record.FreqSecond,
		Freqs:     1,
		Pid:       5,
		Mid:       9,
		Iids:      []uint16{1000},
		Hosts:     []ident.HostAddr{host},
	}
	qBody, err := wire.EncodeStatsQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteMessage(queryConn, wire.Header{Cmd: wire.CmdGetSystemStatsReq, Ver: wire.WireVersion, Syn: 2}, qBody); err != nil {
		t.Fatal(err)
	}
	queryConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	hdr, respBody, err := wire.ReadMessage(queryConn)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Cmd != wire.CmdGetSystemStatsRsp {
		t.Fatalf("cmd = %d, want CmdGetSystemStatsRsp", hdr.Cmd)
	}
	resp, err := wire.DecodeStatsResponse(respBody)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, bk := range resp.Buckets {
		for _, g := range bk.Gauges {
			if g.Value == 99 {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected a gauge with value 99 in the response")
	}
}
