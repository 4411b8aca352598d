// Package storesrv serves the agent↔storage wire protocol (spec §6.2) over
// a TCP listener: SAVE_STATS persists merged frames via internal/store,
// GET_SYSTEM_STATS re-aggregates via internal/query, and the meta flow's
// host-info-report is logged and acknowledged. Concurrency model follows
// spec §5: the server carries no mutable state beyond baseDir, so
// concurrent connections and concurrent queries are inherently race-free.
package storesrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/notify"
	"github.com/thobiasn/statpipe/internal/query"
	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/store"
	"github.com/thobiasn/statpipe/internal/wire"
)

const maxConnections = 256

// Server accepts agent and query-client connections and dispatches wire
// messages against a single storage tree.
type Server struct {
	writer   *store.Writer
	baseDir  string
	notifier *notify.Notifier

	listener net.Listener
	connSem  chan struct{}
	wg       sync.WaitGroup
}

// New returns a Server rooted at baseDir, not yet listening. notifier may be
// nil, in which case write-failure notifications are skipped.
func New(baseDir string, notifier *notify.Notifier) *Server {
	return &Server{
		writer:   store.New(baseDir),
		baseDir:  baseDir,
		notifier: notifier,
		connSem:  make(chan struct{}, maxConnections),
	}
}

// Start begins listening on address (host:port, per spec §6.2's wire
// protocol running over whatever transport the deployment chooses — here
// plain TCP, matching the teacher's own net.Listen usage in socket.go
// adapted from "unix" to "tcp").
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("storesrv: listen %s: %w", address, err)
	}
	s.listener = ln
	slog.Info("storesrv: listening", "address", ln.Addr().String(), "base_dir", s.baseDir)
	return nil
}

// Run accepts connections until ctx is cancelled, then waits for in-flight
// connections to finish.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("storesrv: accept: %w", err)
		}
		select {
		case s.connSem <- struct{}{}:
		default:
			slog.Warn("storesrv: connection limit reached, rejecting")
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() { <-s.connSem }()

	remote := conn.RemoteAddr()
	for {
		hdr, body, err := wire.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Debug("storesrv: connection closed", "remote", remote, "error", err)
			}
			return
		}
		if err := s.dispatch(conn, hdr, body); err != nil {
			slog.Warn("storesrv: dispatch failed", "remote", remote, "cmd", hdr.Cmd, "error", err)
		}
	}
}

func (s *Server) dispatch(conn net.Conn, hdr wire.Header, body []byte) error {
	switch hdr.Cmd {
	case wire.CmdSaveStatsReq:
		return s.handleSaveStats(conn, hdr, body)
	case wire.CmdGetSystemStatsReq:
		return s.handleGetSystemStats(conn, hdr, body)
	case wire.CmdHostInfoReport:
		return s.handleHostInfoReport(conn, hdr, body)
	default:
		return fmt.Errorf("storesrv: unknown command %d", hdr.Cmd)
	}
}

func (s *Server) handleSaveStats(conn net.Conn, hdr wire.Header, body []byte) error {
	frames, err := wire.DecodeSaveStatsBody(body)
	if err != nil {
		return fmt.Errorf("decode save-stats body: %w", err)
	}
	for _, f := range frames {
		if err := s.writeFrame(f); err != nil {
			slog.Warn("storesrv: write failed, frame dropped", "error", err)
			if s.notifier != nil {
				s.notifier.Send("storesrv: write failed", err.Error())
			}
		}
	}
	return wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdSaveStatsRsp, Ver: wire.WireVersion, Ack: hdr.Syn}, nil)
}

func (s *Server) writeFrame(f *record.Frame) error {
	switch f.Kind {
	case record.KindMergedGauge:
		return s.writer.WriteGauge(f.MGauge)
	case record.KindMergedLcall:
		return s.writer.WriteLcall(f.MLcall)
	case record.KindMergedRcall:
		return s.writer.WriteRcall(f.MRcall)
	default:
		return fmt.Errorf("storesrv: unexpected frame kind %d in save-stats body", f.Kind)
	}
}

func (s *Server) handleGetSystemStats(conn net.Conn, hdr wire.Header, body []byte) error {
	q, err := wire.DecodeStatsQuery(body)
	if err != nil {
		return fmt.Errorf("decode stats query: %w", err)
	}
	req := toQueryRequest(q)
	combined, err := query.Run(s.baseDir, req)
	if err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	respBody, err := wire.EncodeStatsResponse(toWireResponse(combined))
	if err != nil {
		return fmt.Errorf("encode stats response: %w", err)
	}
	return wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdGetSystemStatsRsp, Ver: wire.WireVersion, Ack: hdr.Syn}, respBody)
}

func toQueryRequest(q *wire.StatsQuery) query.Request {
	hosts := make(map[ident.HostAddr]struct{}, len(q.Hosts))
	for _, h := range q.Hosts {
		hosts[h] = struct{}{}
	}
	return query.Request{
		Context:   query.Context(q.Context),
		TotalView: q.TotalView,
		Start:     q.Start,
		End:       q.End,
		SpanUnit:  q.Ftype,
		SpanCount: q.Freqs,
		Pid:       q.Pid,
		Mid:       q.Mid,
		Iids:      q.Iids,
		Hosts:     hosts,
	}
}

func toWireResponse(c *query.Combined) *wire.StatsResponse {
	resp := &wire.StatsResponse{
		Ftype:           c.Ftype,
		Freqs:           c.Freqs,
		PeriodStartTime: c.PeriodStartTime,
		Buckets:         make([]wire.StatsBucket, len(c.Buckets)),
	}
	for i, bk := range c.Buckets {
		wb := wire.StatsBucket{
			Gauges: make([]*record.MergedGauge, 0, len(bk.Gauges)),
			Lcalls: make([]*record.MergedLcall, 0, len(bk.Lcalls)),
		}
		for _, g := range bk.Gauges {
			wb.Gauges = append(wb.Gauges, g)
		}
		for _, l := range bk.Lcalls {
			wb.Lcalls = append(wb.Lcalls, l)
		}
		resp.Buckets[i] = wb
	}
	return resp
}

func (s *Server) handleHostInfoReport(conn net.Conn, hdr wire.Header, body []byte) error {
	var report wire.HostInfoReport
	if err := wire.DecodeMeta(body, &report); err != nil {
		return fmt.Errorf("decode host-info-report: %w", err)
	}
	slog.Info("storesrv: host-info-report",
		"host_ip", report.HostIP, "hostname", report.Hostname,
		"agent_version", report.AgentVer, "prefix_count", report.PrefixCount,
	)
	return wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdHostInfoReportAck, Ver: wire.WireVersion, Ack: hdr.Syn}, nil)
}
