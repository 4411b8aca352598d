package orch

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/thobiasn/statpipe/internal/wire"
)

// minReportBackoff and maxReportBackoff bound the unacknowledged-report
// retry interval (spec §4.5: "backed off to max(60, min(600, interval/3))
// until the first report is acknowledged").
const (
	minReportBackoff = 60 * time.Second
	maxReportBackoff = 600 * time.Second
)

// reportBackoff computes the retry interval used before the meta flow's
// first report is acknowledged.
func reportBackoff(interval time.Duration) time.Duration {
	b := interval / 3
	if b < minReportBackoff {
		b = minReportBackoff
	}
	if b > maxReportBackoff {
		b = maxReportBackoff
	}
	return b
}

// metaLoop periodically sends a host-info-report to the meta flow,
// retrying on the shortened backoff interval until the first report is
// acknowledged, then settling into the configured ReportInterval (spec
// §4.5).
func (o *Orchestrator) metaLoop(ctx context.Context) {
	acked := false
	backoff := reportBackoff(o.cfg.ReportInterval)

	for {
		acked = o.sendHostInfoReport(ctx) || acked

		wait := o.cfg.ReportInterval
		if !acked {
			wait = backoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// sendHostInfoReport dials the storage address, sends one HostInfoReport
// message, and waits (briefly) for its ack. It reports whether an ack was
// received.
func (o *Orchestrator) sendHostInfoReport(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", o.cfg.ForwardAddress, o.cfg.DialTimeout)
	if err != nil {
		slog.Warn("orch: meta dial failed", "address", o.cfg.ForwardAddress, "error", err)
		return false
	}
	defer conn.Close()

	hostname, _ := os.Hostname()
	report := wire.HostInfoReport{
		HostIP:      wire.LocalHostIP(),
		Hostname:    hostname,
		AgentVer:    "1",
		PrefixCount: o.PrefixCount(),
	}
	body, err := wire.EncodeMeta(report)
	if err != nil {
		slog.Warn("orch: meta encode failed", "error", err)
		return false
	}

	syn := o.syn.Next()
	if err := wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdHostInfoReport, Ver: wire.WireVersion, Syn: syn}, body); err != nil {
		slog.Warn("orch: meta send failed", "error", err)
		return false
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(o.cfg.DialTimeout))
	}
	hdr, _, err := wire.ReadMessage(conn)
	if err != nil {
		slog.Warn("orch: meta ack not received", "error", err)
		return false
	}
	if hdr.Cmd != wire.CmdHostInfoReportAck || hdr.Ack != syn {
		slog.Warn("orch: meta ack mismatch", "cmd", hdr.Cmd, "ack", hdr.Ack, "syn", syn)
		return false
	}
	return true
}
