package scan

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/thobiasn/statpipe/internal/ident"
)

func TestParseLocalFilenameRoundTrip(t *testing.T) {
	host := ident.HostAddrFromIP(net.ParseIP("127.0.0.1"))
	name := "MG_0001_0002_0064_" + host.PathToken() + "_1m.bin"

	key, ok := ParseLocalFilename(name)
	if !ok {
		t.Fatalf("failed to parse %q", name)
	}
	want := ident.LocalKey{Host: host, Sid: ident.StatId{Pid: 1, Mid: 2, Iid: 100}}
	if !key.Equal(want) {
		t.Fatalf("got %+v, want %+v", key, want)
	}
}

func TestParseLocalFilenameRejectsGarbage(t *testing.T) {
	for _, name := range []string{"garbage.bin", "MG_bad.bin", "MR_0001_0002_0003_aabbccdd_5s.bin"} {
		if _, ok := ParseLocalFilename(name); ok {
			t.Errorf("expected %q to fail parsing as a local filename", name)
		}
	}
}

func TestParseRcallFilenameRoundTrip(t *testing.T) {
	src := ident.HostAddrFromIP(net.ParseIP("10.0.0.1"))
	dst := ident.HostAddrFromIP(net.ParseIP("10.0.0.2"))
	name := "MR_0001_0001_0001_" + src.PathToken() + "_0002_0001_0001_" + dst.PathToken() + "_1h.bin"

	key, ok := ParseRcallFilename(name)
	if !ok {
		t.Fatalf("failed to parse %q", name)
	}
	if key.Src.Sid.Pid != 1 || key.Dst.Sid.Pid != 2 {
		t.Fatalf("got %+v", key)
	}
}

func TestWalkFindsAcceptedFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2021", "0001", "0002")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	host := ident.HostAddrFromIP(net.ParseIP("127.0.0.1"))
	name := "MG_0001_0002_0064_" + host.PathToken() + "_1m.bin"
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A sibling file that should be pruned by AcceptModule.
	otherDir := filepath.Join(root, "2021", "0001", "0099")
	if err := os.MkdirAll(otherDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(otherDir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := make(map[ident.LocalKey]struct{})
	err := Walk(root, Filters{
		AcceptModule: func(name string) bool { return name == "0002" },
	}, out)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 key after module pruning, got %d", len(out))
	}
}
