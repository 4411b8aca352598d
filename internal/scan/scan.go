// Package scan implements the storage directory walk (spec §4.7): a
// four-level tree traversal with pluggable accept filters that parses
// filenames back into LocalKeys.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thobiasn/statpipe/internal/ident"
)

// Filters gate which parts of the tree are descended into and which
// filenames are accepted — replacing the deep filter-class inheritance the
// spec calls out in §9 with plain predicate functions.
type Filters struct {
	AcceptYear    func(name string) bool
	AcceptProduct func(name string) bool
	AcceptModule  func(name string) bool
	Accept        func(name string) bool // full filename, including extension
}

func defaultTrue(string) bool { return true }

func (f *Filters) fillDefaults() {
	if f.AcceptYear == nil {
		f.AcceptYear = defaultTrue
	}
	if f.AcceptProduct == nil {
		f.AcceptProduct = defaultTrue
	}
	if f.AcceptModule == nil {
		f.AcceptModule = defaultTrue
	}
	if f.Accept == nil {
		f.Accept = defaultTrue
	}
}

// Walk performs the four-level directory walk rooted at baseDir
// (<baseDir>/<year>/<pid>/<mid>/<filename>), pruning whole subtrees when
// AcceptYear/AcceptProduct/AcceptModule reject a directory name, and adding
// a LocalKey for every filename that parses cleanly and passes Accept.
// Filenames that fail to parse are silently skipped (spec §4.7).
func Walk(baseDir string, filters Filters, out map[ident.LocalKey]struct{}) error {
	return WalkFiles(baseDir, filters, func(_ string, key ident.LocalKey) {
		out[key] = struct{}{}
	})
}

// WalkFiles is like Walk but invokes fn with the full file path alongside
// each accepted LocalKey, so callers that need to read the file's contents
// (e.g. the query combiner) don't have to re-derive the path.
func WalkFiles(baseDir string, filters Filters, fn func(path string, key ident.LocalKey)) error {
	filters.fillDefaults()

	years, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("scan: read %s: %w", baseDir, err)
	}
	for _, y := range years {
		if !y.IsDir() || !filters.AcceptYear(y.Name()) {
			continue
		}
		yearDir := filepath.Join(baseDir, y.Name())
		products, err := os.ReadDir(yearDir)
		if err != nil {
			continue
		}
		for _, p := range products {
			if !p.IsDir() || !filters.AcceptProduct(p.Name()) {
				continue
			}
			productDir := filepath.Join(yearDir, p.Name())
			modules, err := os.ReadDir(productDir)
			if err != nil {
				continue
			}
			for _, md := range modules {
				if !md.IsDir() || !filters.AcceptModule(md.Name()) {
					continue
				}
				moduleDir := filepath.Join(productDir, md.Name())
				files, err := os.ReadDir(moduleDir)
				if err != nil {
					continue
				}
				for _, file := range files {
					if file.IsDir() || !filters.Accept(file.Name()) {
						continue
					}
					key, ok := ParseLocalFilename(file.Name())
					if !ok {
						continue
					}
					fn(filepath.Join(moduleDir, file.Name()), key)
				}
			}
		}
	}
	return nil
}

// ParseLocalFilename parses an MG_/ML_ filename
// "<TYPE>_<pid:04x>_<mid:04x>_<iid:04x>_<host-token>_<freq>.bin" into a
// LocalKey. Returns ok=false for anything that doesn't cleanly parse,
// including MR_ (remote-call) files, which carry two identities and are
// handled by ParseRcallFilename instead.
func ParseLocalFilename(name string) (ident.LocalKey, bool) {
	name = strings.TrimSuffix(name, ".bin")
	parts := strings.Split(name, "_")
	if len(parts) != 6 {
		return ident.LocalKey{}, false
	}
	typ := parts[0]
	if typ != "MG" && typ != "ML" {
		return ident.LocalKey{}, false
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return ident.LocalKey{}, false
	}
	mid, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return ident.LocalKey{}, false
	}
	iid, err := strconv.ParseUint(parts[3], 16, 16)
	if err != nil {
		return ident.LocalKey{}, false
	}
	host, ok := parseHostToken(parts[4])
	if !ok {
		return ident.LocalKey{}, false
	}
	return ident.LocalKey{
		Host: host,
		Sid:  ident.StatId{Pid: uint16(pid), Mid: uint16(mid), Iid: uint16(iid)},
	}, true
}

// ParseRcallFilename parses an MR_ filename into its (src, dst) RcallKey.
func ParseRcallFilename(name string) (ident.RcallKey, bool) {
	name = strings.TrimSuffix(name, ".bin")
	parts := strings.Split(name, "_")
	if len(parts) != 10 || parts[0] != "MR" {
		return ident.RcallKey{}, false
	}
	srcPid, err1 := strconv.ParseUint(parts[1], 16, 16)
	srcMid, err2 := strconv.ParseUint(parts[2], 16, 16)
	srcIid, err3 := strconv.ParseUint(parts[3], 16, 16)
	if err1 != nil || err2 != nil || err3 != nil {
		return ident.RcallKey{}, false
	}
	srcHost, ok := parseHostToken(parts[4])
	if !ok {
		return ident.RcallKey{}, false
	}
	dstPid, err1 := strconv.ParseUint(parts[5], 16, 16)
	dstMid, err2 := strconv.ParseUint(parts[6], 16, 16)
	dstIid, err3 := strconv.ParseUint(parts[7], 16, 16)
	if err1 != nil || err2 != nil || err3 != nil {
		return ident.RcallKey{}, false
	}
	dstHost, ok := parseHostToken(parts[8])
	if !ok {
		return ident.RcallKey{}, false
	}
	return ident.RcallKey{
		Src: ident.LocalKey{Host: srcHost, Sid: ident.StatId{Pid: uint16(srcPid), Mid: uint16(srcMid), Iid: uint16(srcIid)}},
		Dst: ident.LocalKey{Host: dstHost, Sid: ident.StatId{Pid: uint16(dstPid), Mid: uint16(dstMid), Iid: uint16(dstIid)}},
	}, true
}

// parseHostToken reverses ident.HostAddr.PathToken: an 8-char hex IPv4 or a
// "v6-<hex>" IPv6 token.
func parseHostToken(tok string) (ident.HostAddr, bool) {
	if strings.HasPrefix(tok, "v6-") {
		raw := tok[3:]
		if len(raw) != 32 {
			return ident.HostAddr{}, false
		}
		var h ident.HostAddr
		h.Ver = 6
		for i := 0; i < 16; i++ {
			b, err := strconv.ParseUint(raw[i*2:i*2+2], 16, 8)
			if err != nil {
				return ident.HostAddr{}, false
			}
			h.IPv6[i] = byte(b)
		}
		return h, true
	}
	if len(tok) != 8 {
		return ident.HostAddr{}, false
	}
	var h ident.HostAddr
	h.Ver = 4
	for i := 0; i < 4; i++ {
		b, err := strconv.ParseUint(tok[i*2:i*2+2], 16, 8)
		if err != nil {
			return ident.HostAddr{}, false
		}
		h.IPv4[i] = byte(b)
	}
	return h, true
}
