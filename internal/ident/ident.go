// Package ident defines the identity types shared across the pipeline:
// host addresses, stat ids, and the composite keys used to key merger
// buckets and storage files.
package ident

import (
	"fmt"
	"net"
)

// fnvPrime and fnvSeed are the FNV-1 mixing constants spec'd for LocalKey
// and RcallKey hashing.
const (
	fnvPrime = 16777619
	fnvSeed  = 2166136261
)

// HostAddr is a tagged IPv4/IPv6 host address.
type HostAddr struct {
	Ver  uint8 // 4 or 6
	IPv4 [4]byte
	IPv6 [16]byte
}

// HostAddrFromIP builds a HostAddr from a net.IP, preferring the 4-byte
// form when the address has one.
func HostAddrFromIP(ip net.IP) HostAddr {
	if v4 := ip.To4(); v4 != nil {
		var h HostAddr
		h.Ver = 4
		copy(h.IPv4[:], v4)
		return h
	}
	var h HostAddr
	h.Ver = 6
	copy(h.IPv6[:], ip.To16())
	return h
}

// IP renders the HostAddr back to a net.IP.
func (h HostAddr) IP() net.IP {
	if h.Ver == 6 {
		return net.IP(h.IPv6[:])
	}
	return net.IP(h.IPv4[:])
}

// String renders the host address in its usual dotted/colon form.
func (h HostAddr) String() string {
	return h.IP().String()
}

// hex4 renders the IPv4 bytes as an 8-char lowercase hex string, used in
// storage filenames (§4.6).
func (h HostAddr) hex4() string {
	return fmt.Sprintf("%02x%02x%02x%02x", h.IPv4[0], h.IPv4[1], h.IPv4[2], h.IPv4[3])
}

// PathToken renders the host address the way the storage writer embeds it
// into a filename component.
func (h HostAddr) PathToken() string {
	if h.Ver == 6 {
		// IPv6 hashing/pathing is an open question (spec §9.1); we still
		// need a stable token for the filename, so fall back to "v6-"
		// followed by a lowercase hex dump of all 16 address bytes.
		return fmt.Sprintf("v6-%x", h.IPv6)
	}
	return h.hex4()
}

// Equal reports whether two host addresses denote the same address.
func (h HostAddr) Equal(o HostAddr) bool {
	if h.Ver != o.Ver {
		return false
	}
	if h.Ver == 6 {
		return h.IPv6 == o.IPv6
	}
	return h.IPv4 == o.IPv4
}

// hash mixes the host address into an FNV accumulator. IPv6 hashing is
// explicitly left undefined by spec §9.1: only the IPv4 payload
// contributes, so two IPv6 addresses hash identically (a known gap, not a
// bug — see SPEC_FULL.md §3.1).
func (h HostAddr) hash(acc uint32) uint32 {
	if h.Ver == 6 {
		return acc
	}
	for _, b := range h.IPv4 {
		acc ^= uint32(b)
		acc *= fnvPrime
	}
	return acc
}

// StatId is the (product, module, item) triple. Zero in any field means
// "any" at query time; at emit time all three fields are concrete.
type StatId struct {
	Pid uint16
	Mid uint16
	Iid uint16
}

func (s StatId) hash(acc uint32) uint32 {
	packed := uint32(s.Pid)<<16 | uint32(s.Mid)
	acc ^= packed
	acc *= fnvPrime
	acc ^= uint32(s.Iid)
	acc *= fnvPrime
	return acc
}

// String renders a StatId for logging.
func (s StatId) String() string {
	return fmt.Sprintf("%d/%d/%d", s.Pid, s.Mid, s.Iid)
}

// LocalKey identifies a gauge or local-call series: a host plus a stat id.
type LocalKey struct {
	Host HostAddr
	Sid  StatId
}

// Hash computes the FNV-style mix spec'd in §3: host bytes, then
// (pid<<16|mid), then iid.
func (k LocalKey) Hash() uint32 {
	acc := uint32(fnvSeed)
	acc = k.Host.hash(acc)
	acc = k.Sid.hash(acc)
	return acc
}

// Equal reports field-wise equality.
func (k LocalKey) Equal(o LocalKey) bool {
	return k.Host.Equal(o.Host) && k.Sid == o.Sid
}

// RcallKey identifies a remote-call series: a caller (Host,StatId) paired
// with a callee (Host,StatId).
type RcallKey struct {
	Src LocalKey
	Dst LocalKey
}

// Hash computes the FNV-style mix over both halves of the pair.
func (k RcallKey) Hash() uint32 {
	acc := uint32(fnvSeed)
	acc = k.Src.Host.hash(acc)
	acc = k.Src.Sid.hash(acc)
	acc = k.Dst.Host.hash(acc)
	acc = k.Dst.Sid.hash(acc)
	return acc
}

// Equal reports field-wise equality.
func (k RcallKey) Equal(o RcallKey) bool {
	return k.Src.Equal(o.Src) && k.Dst.Equal(o.Dst)
}
