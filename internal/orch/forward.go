package orch

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/thobiasn/statpipe/internal/record"
	"github.com/thobiasn/statpipe/internal/wire"
)

// forwarder batches merged frames into SAVE_STATS_REQ messages capped at
// batchSize records (spec §4.5) and writes them to a single long-lived
// connection to the storage service, redialing lazily on failure.
//
// A send failure logs and drops the pending batch — the pipeline is lossy
// by design (spec §4.5: "the merger has already advanced past these
// records"; recovering lost batches is explicitly out of scope).
type forwarder struct {
	address     string
	dialTimeout time.Duration
	batchSize   int
	syn         *wire.SynCounter

	mu      sync.Mutex
	conn    net.Conn
	pending []*record.Frame
}

func newForwarder(address string, dialTimeout time.Duration, batchSize int) *forwarder {
	return &forwarder{
		address:     address,
		dialTimeout: dialTimeout,
		batchSize:   batchSize,
		syn:         wire.NewSynCounter(),
	}
}

// push appends f to the pending batch, flushing immediately once the batch
// reaches batchSize (spec §4.5: "capped at 100 records per message; once
// full the message is dispatched and a new one started").
func (fw *forwarder) push(f *record.Frame) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.pending = append(fw.pending, f)
	if len(fw.pending) >= fw.batchSize {
		fw.flushLocked()
	}
}

// flush dispatches whatever is pending, even a partial batch. Used on
// shutdown so no resident frame is dropped silently.
func (fw *forwarder) flush() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.flushLocked()
}

func (fw *forwarder) flushLocked() {
	if len(fw.pending) == 0 {
		return
	}
	batch := fw.pending
	fw.pending = nil

	body, err := wire.EncodeSaveStatsBody(batch)
	if err != nil {
		slog.Warn("orch: encode save-stats batch failed, dropping", "count", len(batch), "error", err)
		return
	}
	conn, err := fw.ensureConnLocked()
	if err != nil {
		slog.Warn("orch: dial storage failed, dropping batch", "address", fw.address, "count", len(batch), "error", err)
		return
	}
	header := wire.Header{Cmd: wire.CmdSaveStatsReq, Ver: wire.WireVersion, Syn: fw.syn.Next()}
	if err := wire.WriteMessage(conn, header, body); err != nil {
		slog.Warn("orch: send save-stats batch failed, dropping", "address", fw.address, "count", len(batch), "error", err)
		conn.Close()
		fw.conn = nil
		return
	}
}

// ensureConnLocked returns the current connection, dialing a fresh one if
// none is open. Caller must hold fw.mu.
func (fw *forwarder) ensureConnLocked() (net.Conn, error) {
	if fw.conn != nil {
		return fw.conn, nil
	}
	conn, err := net.DialTimeout("tcp", fw.address, fw.dialTimeout)
	if err != nil {
		return nil, err
	}
	fw.conn = conn
	return conn, nil
}
