package orch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/thobiasn/statpipe/internal/agentlib"
	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/wire"
)

func hostV4(s string) ident.HostAddr {
	return ident.HostAddrFromIP(net.ParseIP(s))
}

// mockStorage accepts connections and reports every SAVE_STATS_REQ batch it
// receives on frames, acking every host-info-report it sees.
type mockStorage struct {
	ln     net.Listener
	frames chan *record.Frame
}

func newMockStorage(t *testing.T) *mockStorage {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ms := &mockStorage{ln: ln, frames: make(chan *record.Frame, 256)}
	go ms.acceptLoop()
	return ms
}

func (ms *mockStorage) acceptLoop() {
	for {
		conn, err := ms.ln.Accept()
		if err != nil {
			return
		}
		go ms.serve(conn)
	}
}

func (ms *mockStorage) serve(conn net.Conn) {
	defer conn.Close()
	for {
		hdr, body, err := wire.ReadMessage(conn)
		if err != nil {
			return
		}
		switch hdr.Cmd {
		case wire.CmdSaveStatsReq:
			frames, err := wire.DecodeSaveStatsBody(body)
			if err != nil {
				return
			}
			for _, f := range frames {
				ms.frames <- f
			}
		case wire.CmdHostInfoReport:
			wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdHostInfoReportAck, Ver: wire.WireVersion, Ack: hdr.Syn}, nil)
		}
	}
}

func (ms *mockStorage) Close() { ms.ln.Close() }

func TestOrchestratorDiscoversPrefixAndForwardsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	storage := newMockStorage(t)
	defer storage.Close()

	client, err := agentlib.Open(dir, "svc")
	if err != nil {
		t.Fatal(err)
	}
	host := hostV4("10.0.0.5")
	sid := ident.StatId{Pid: 1, Mid: 1, Iid: 1000}
	now := time.Now().UnixMilli()
	if err := client.PutGauge(now, host, sid, record.GaugeSnapshot, 7); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		BaseDir:        dir,
		WatchInterval:  10 * time.Millisecond,
		Ftype:          record.FreqSecond,
		Freqs:          1,
		PeriodCount:    2,
		ForwardAddress: storage.ln.Addr().String(),
		DialTimeout:    time.Second,
		BatchSize:      10,
		ReportInterval: 30 * time.Millisecond,
	}
	cfg.TailCfg.StatCheckInterval = 10 * time.Millisecond
	cfg.TailCfg.IoRetries = 5

	o := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Give the watch loop time to discover the prefix and the tailer time
	// to read the gauge into the merger.
	time.Sleep(150 * time.Millisecond)
	if o.PrefixCount() != 1 {
		t.Fatalf("PrefixCount = %d, want 1", o.PrefixCount())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	select {
	case f := <-storage.frames:
		if f.Kind != record.KindMergedGauge {
			t.Fatalf("kind = %d, want KindMergedGauge", f.Kind)
		}
		if f.MGauge.Value != 7 {
			t.Fatalf("value = %d, want 7", f.MGauge.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded merged gauge frame")
	}
}

func TestPrefixFilterIncludeExclude(t *testing.T) {
	f := NewPrefixFilter([]string{"web-*"}, []string{"web-debug*"})
	cases := []struct {
		prefix string
		want   bool
	}{
		{"web-api", true},
		{"web-debug-1", false},
		{"other", false},
	}
	for _, c := range cases {
		if got := f(c.prefix); got != c.want {
			t.Errorf("filter(%q) = %v, want %v", c.prefix, got, c.want)
		}
	}
}

func TestPrefixFilterNoIncludeAcceptsAll(t *testing.T) {
	f := NewPrefixFilter(nil, []string{"quiet-*"})
	if !f("anything") {
		t.Error("expected acceptance with empty include list")
	}
	if f("quiet-one") {
		t.Error("expected exclude to still apply")
	}
}

func TestReportBackoffBounds(t *testing.T) {
	if got := reportBackoff(10 * time.Second); got != minReportBackoff {
		t.Errorf("reportBackoff(10s) = %s, want floor %s", got, minReportBackoff)
	}
	if got := reportBackoff(time.Hour); got != maxReportBackoff {
		t.Errorf("reportBackoff(1h) = %s, want ceiling %s", got, maxReportBackoff)
	}
	if got := reportBackoff(90 * time.Second); got != minReportBackoff {
		t.Errorf("reportBackoff(90s) = %s, want floor %s (90/3=30 < 60)", got, minReportBackoff)
	}
}
