// Package sysmetric classifies resource-metric ids into the families and
// sub-indices reserved by spec §6.3, and names the constants client code
// uses to report them.
package sysmetric

// Family identifies one of the reserved resource-metric id ranges.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyCPU
	FamilyMemory
	FamilyLoadAvg
	FamilyNetwork
	FamilyDisk
)

// CPU sub-index types (iid = 1000 + 10*cpuNo + type).
const (
	CPUSys = 0
	CPUUsr = 1
	CPUIdl = 2
	CPUWt  = 3
	CPUSt  = 4
)

// CPUTotal and CPUCores are the reserved cpu_no sentinels.
const (
	CPUTotal = 99
	CPUCores = 98
)

// Memory metric ids.
const (
	MemUsed     = 2000
	MemFree     = 2001
	MemCached   = 2002
	MemBuffers  = 2003
	MemSwapUsed = 2010
	MemSwapFree = 2011
)

// Load-average metric ids.
const (
	LoadAvg1m  = 2020
	LoadAvg5m  = 2021
	LoadAvg15m = 2022
)

// Network sub-index types (iid = 2100 + 10*ifNo + type).
const (
	NetInBytes  = 0
	NetInPkts   = 1
	NetOutBytes = 2
	NetOutPkts  = 3
	NetEst      = 4
	NetWait     = 5
)

// NetAll is the reserved if_no sentinel meaning "all interfaces".
const NetAll = 99

// Disk sub-index types (iid = 3000 + 10*diskNo + type).
const (
	DiskRCalls   = 0
	DiskRMerged  = 1
	DiskRBytes   = 2
	DiskRTime    = 3
	DiskWCalls   = 4
	DiskWMerged  = 5
	DiskWBytes   = 6
	DiskWTime    = 7
	DiskQSize    = 8
	DiskUtil     = 9
)

// Classify returns the metric family and the sub-index a given resource
// metric id belongs to (spec §6.3). subIndex is the (no, type) source
// position within the range for CPU/network/disk; it's (0, 0) for memory
// and load-avg ids, which have no sub-index.
func Classify(iid uint16) (family Family, no int, typ int) {
	switch {
	case iid >= 1000 && iid <= 1999:
		off := int(iid) - 1000
		return FamilyCPU, off / 10, off % 10
	case iid >= 2000 && iid <= 2019:
		return FamilyMemory, 0, 0
	case iid >= 2020 && iid <= 2029:
		return FamilyLoadAvg, 0, 0
	case iid >= 2100 && iid <= 2999:
		off := int(iid) - 2100
		return FamilyNetwork, off / 10, off % 10
	case iid >= 3000 && iid <= 3999:
		off := int(iid) - 3000
		return FamilyDisk, off / 10, off % 10
	default:
		return FamilyUnknown, 0, 0
	}
}

// CPUID computes the iid for a given cpu number and type.
func CPUID(cpuNo, typ int) uint16 { return uint16(1000 + 10*cpuNo + typ) }

// NetID computes the iid for a given interface number and type.
func NetID(ifNo, typ int) uint16 { return uint16(2100 + 10*ifNo + typ) }

// DiskID computes the iid for a given disk number and type.
func DiskID(diskNo, typ int) uint16 { return uint16(3000 + 10*diskNo + typ) }
