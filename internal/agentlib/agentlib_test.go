package agentlib

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

func hostV4(s string) ident.HostAddr {
	return ident.HostAddrFromIP(net.ParseIP(s))
}

func TestOpenCreatesSentinelOnce(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sentinel := filepath.Join(dir, "svc_cursor.pt")
	fi, err := os.Stat(sentinel)
	if err != nil {
		t.Fatalf("expected sentinel to exist: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("expected empty sentinel, got %d bytes", fi.Size())
	}

	// Re-opening must not fail or truncate an existing sentinel.
	c2, err := Open(dir, "svc")
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer c2.Close()
}

func TestPutGaugeAppendsDecodableFrame(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	host := hostV4("127.0.0.1")
	sid := ident.StatId{Pid: 1, Mid: 1, Iid: 1}
	if err := c.PutGauge(1000, host, sid, record.GaugeSnapshot, 42); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	today := time.Now().UTC().Format("2006_01_02")
	path := filepath.Join(dir, "svc_"+today+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file at %s: %v", path, err)
	}

	buf := record.NewBuffer(data)
	f, err := record.ParseItem(buf)
	if err != nil {
		t.Fatalf("ParseItem: %v", err)
	}
	if f.Kind != record.KindItemGauge {
		t.Fatalf("kind = %d, want KindItemGauge", f.Kind)
	}
	if f.Gauge.Value != 42 {
		t.Fatalf("value = %d, want 42", f.Gauge.Value)
	}
}

func TestPutLcallAndRcallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	host := hostV4("10.0.0.1")
	sid := ident.StatId{Pid: 1, Mid: 1, Iid: 1}
	result := record.Result{Rsptime: 100, Isize: 10, Osize: 20}
	if err := c.PutLcall(1000, host, sid, 0, result, "op", ""); err != nil {
		t.Fatal(err)
	}
	dstHost := hostV4("10.0.0.2")
	if err := c.PutRcall(1001, host, sid, dstHost, sid, 0, result, "op", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	today := time.Now().UTC().Format("2006_01_02")
	path := filepath.Join(dir, "svc_"+today+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf := record.NewBuffer(data)

	f1, err := record.ParseItem(buf)
	if err != nil || f1.Kind != record.KindItemLcall {
		t.Fatalf("expected ItemLcall first, got kind=%v err=%v", f1, err)
	}
	f2, err := record.ParseItem(buf)
	if err != nil || f2.Kind != record.KindItemRcall {
		t.Fatalf("expected ItemRcall second, got kind=%v err=%v", f2, err)
	}
}

func TestAppendsAreConcatenatedNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "svc")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	host := hostV4("127.0.0.1")
	sid := ident.StatId{Pid: 1, Mid: 1, Iid: 1}
	for i := int64(0); i < 3; i++ {
		if err := c.PutGauge(1000+i, host, sid, record.GaugeSnapshot, i); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	today := time.Now().UTC().Format("2006_01_02")
	path := filepath.Join(dir, "svc_"+today+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf := record.NewBuffer(data)
	count := 0
	for buf.Remaining() > 0 {
		if _, err := record.ParseItem(buf); err != nil {
			t.Fatalf("ParseItem failed after %d frames: %v", count, err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 frames, got %d", count)
	}
}
