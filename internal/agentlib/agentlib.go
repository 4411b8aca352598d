// Package agentlib is the client library applications link against to
// append binary records to their own daily log file (spec §6.1). It owns
// the file-rollover-by-date logic and the one-time cursor sentinel that
// announces a prefix to the agent.
package agentlib

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

// Client appends encoded item frames to `<prefix>_<YYYY>_<MM>_<DD>.bin`
// under BaseDir, rolling to a new file at the UTC date boundary. Put* and
// Close serialize on an internal mutex, so one Client may be shared by
// several goroutines of the same process.
type Client struct {
	baseDir string
	prefix  string

	mu   sync.Mutex
	file *os.File
	day  string // "YYYY_MM_DD" of the currently open file
}

// Open creates the `<prefix>_cursor.pt` sentinel if it doesn't already
// exist (spec §6.1: "created empty at client init") and returns a Client
// ready to append records. The sentinel is created with O_EXCL so repeated
// opens from the same process or a restarted process are idempotent.
func Open(baseDir, prefix string) (*Client, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("agentlib: mkdir %s: %w", baseDir, err)
	}
	sentinel := filepath.Join(baseDir, prefix+"_cursor.pt")
	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case err == nil:
		f.Close()
	case os.IsExist(err):
		// Already announced; nothing to do.
	default:
		return nil, fmt.Errorf("agentlib: create sentinel %s: %w", sentinel, err)
	}
	return &Client{baseDir: baseDir, prefix: prefix}, nil
}

// Close releases the currently open log file, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// ensureFile opens today's log file, rolling over if the UTC date has
// changed since the file was last opened (spec §6.1: rollover is by
// UTC-local date boundary in the file name).
func (c *Client) ensureFile() error {
	today := time.Now().UTC().Format("2006_01_02")
	if c.file != nil && c.day == today {
		return nil
	}
	if err := c.closeLocked(); err != nil {
		slog.Warn("agentlib: close on rollover failed", "prefix", c.prefix, "error", err)
	}
	path := filepath.Join(c.baseDir, fmt.Sprintf("%s_%s.bin", c.prefix, today))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("agentlib: open %s: %w", path, err)
	}
	c.file = f
	c.day = today
	return nil
}

func (c *Client) appendFrame(f *record.Frame, capHint int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureFile(); err != nil {
		return err
	}
	buf := record.NewWriteBuffer(capHint)
	if err := record.EncodeItem(buf, f); err != nil {
		return fmt.Errorf("agentlib: encode frame: %w", err)
	}
	n, err := c.file.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("agentlib: write: %w", err)
	}
	if n != len(buf.Bytes()) {
		return fmt.Errorf("agentlib: partial write: wrote %d of %d bytes", n, len(buf.Bytes()))
	}
	return nil
}

// PutGauge appends an ITEM_GAUGE frame.
func (c *Client) PutGauge(ts int64, host ident.HostAddr, sid ident.StatId, gtype uint8, value int64) error {
	return c.appendFrame(&record.Frame{Kind: record.KindItemGauge, Gauge: &record.ItemGauge{
		Timestamp: ts, Host: host, Sid: sid, Gtype: gtype, Value: value,
	}}, 64)
}

// PutLcall appends an ITEM_LCALL frame.
func (c *Client) PutLcall(ts int64, host ident.HostAddr, sid ident.StatId, retcode int32, result record.Result, key, extra string) error {
	return c.appendFrame(&record.Frame{Kind: record.KindItemLcall, Lcall: &record.ItemLcall{
		Timestamp: ts, Host: host, Sid: sid, Retcode: retcode, Result: result, Key: key, Extra: extra,
	}}, 64+len(key)+len(extra))
}

// PutRcall appends an ITEM_RCALL frame.
func (c *Client) PutRcall(ts int64, srcHost ident.HostAddr, srcSid ident.StatId, dstHost ident.HostAddr, dstSid ident.StatId, retcode int32, result record.Result, key, extra string) error {
	return c.appendFrame(&record.Frame{Kind: record.KindItemRcall, Rcall: &record.ItemRcall{
		Timestamp: ts, SrcHost: srcHost, SrcSid: srcSid, DstHost: dstHost, DstSid: dstSid,
		Retcode: retcode, Result: result, Key: key, Extra: extra,
	}}, 96+len(key)+len(extra))
}
