package wire

import (
	"net"

	"github.com/vmihailenco/msgpack/v5"
)

// HostInfoReport is the body of the meta flow's host-info-report message
// (spec §4.5: "periodically sends a host-info-report message to the meta
// flow"). The spec leaves this message's body undefined, so it's encoded
// with msgpack rather than the fixed binary layout used for stats traffic.
type HostInfoReport struct {
	HostIP      string `msgpack:"host_ip"`
	Hostname    string `msgpack:"hostname"`
	AgentVer    string `msgpack:"agent_version"`
	PrefixCount int    `msgpack:"prefix_count"`
}

// EncodeMeta marshals v (e.g. HostInfoReport) to msgpack bytes for use as a
// wire message body.
func EncodeMeta(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeMeta unmarshals a msgpack-encoded meta body into v.
func DecodeMeta(body []byte, v any) error {
	return msgpack.Unmarshal(body, v)
}

// LocalHostIP returns the first non-loopback IPv4 address of the local
// host, used to populate HostInfoReport.HostIP. Returns "" if none is found.
func LocalHostIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
