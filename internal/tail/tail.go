// Package tail implements the per-prefix log tailer (spec §4.4): a
// dedicated worker that locates the currently-active log file for a prefix,
// reads it incrementally, feeds decoded frames to a merger, and persists its
// read position to a cursor store.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thobiasn/statpipe/internal/cursor"
	"github.com/thobiasn/statpipe/internal/record"
)

const (
	readBufSize      = 8 * 1024
	eintrMaxAttempts = 5
)

// Sink receives decoded frames. *merge.Merger satisfies this interface.
type Sink interface {
	PutGauge(*record.ItemGauge)
	PutLcall(*record.ItemLcall)
	PutRcall(*record.ItemRcall)
	MergeGauge(*record.MergedGauge)
	MergeLcall(*record.MergedLcall)
	MergeRcall(*record.MergedRcall)
}

// Config configures a Tailer.
type Config struct {
	BaseDir           string
	Prefix            string
	StatCheckInterval time.Duration
	IoRetries         int // ioeCount threshold before attempting rollover
}

func (c *Config) setDefaults() {
	if c.StatCheckInterval <= 0 {
		c.StatCheckInterval = 2 * time.Second
	}
	if c.IoRetries <= 0 {
		c.IoRetries = 5
	}
}

// Tailer reads one prefix's log files in sequence and feeds decoded frames
// to a Sink. Not safe for concurrent use — spec §5 gives each tailer sole
// ownership of its own state.
type Tailer struct {
	cfg    Config
	sink   Sink
	cursor *cursor.Store

	file          *os.File
	filename      string
	offset        int64
	unhandledSize int
	readBuf       []byte

	eofCount int
	ioeCount int

	// fatalStreak counts consecutive open or read errors across passes, widening the
	// poll sleep so a permanently unreadable file doesn't hot-loop against
	// the filesystem (supplements spec §4.4 step 4's fixed-interval sleep,
	// grounded on StatLogWatcher.cpp's scan-error retry counter).
	fatalStreak int
}

// New constructs a Tailer for the given prefix, writing frames into sink.
func New(cfg Config, sink Sink) *Tailer {
	cfg.setDefaults()
	return &Tailer{
		cfg:     cfg,
		sink:    sink,
		cursor:  cursor.New(cfg.BaseDir, cfg.Prefix),
		readBuf: make([]byte, readBufSize),
	}
}

// Run drives the tailer loop until ctx is cancelled, persisting the cursor
// before returning.
func (t *Tailer) Run(ctx context.Context) error {
	defer t.closeFile()
	for {
		if ctx.Err() != nil {
			t.persistCursor()
			return nil
		}
		if t.file == nil {
			if err := t.openCurrent(); err != nil {
				if errors.Is(err, errNoFileFound) {
					if !t.sleepOrDone(ctx) {
						t.persistCursor()
						return nil
					}
					continue
				}
				t.fatalStreak++
				slog.Warn("tail: open failed", "prefix", t.cfg.Prefix, "error", err)
				if !t.sleepOrDone(ctx) {
					t.persistCursor()
					return nil
				}
				continue
			}
		}

		n, err := t.readOnce()
		switch {
		case err != nil:
			t.ioeCount++
			t.eofCount = 0
			t.fatalStreak++
			slog.Warn("tail: read failed", "prefix", t.cfg.Prefix, "file", t.filename, "error", err)
		case n > 0:
			t.offset += int64(n)
			t.eofCount = 0
			t.ioeCount = 0
			t.fatalStreak = 0
			t.decodeAndFeed(n)
			t.persistCursor()
		default: // n == 0: EOF
			t.eofCount++
			t.ioeCount = 0
		}

		rolled := false
		if t.eofCount >= 2 || t.ioeCount >= t.cfg.IoRetries {
			var err error
			rolled, err = t.rollover()
			if err != nil {
				slog.Warn("tail: rollover scan failed", "prefix", t.cfg.Prefix, "error", err)
			}
		}
		// A successful rollover returns straight to step 1 with no sleep
		// (spec §4.4 step 4); every other pass — including ordinary EOF and
		// successful reads — sleeps before the next poll.
		if !rolled {
			if !t.sleepOrDone(ctx) {
				t.persistCursor()
				return nil
			}
		}
	}
}

// readOnce reads into readBuf just past any unhandled bytes left from the
// previous pass, retrying EINTR up to eintrMaxAttempts times.
func (t *Tailer) readOnce() (int, error) {
	for attempt := 0; attempt < eintrMaxAttempts; attempt++ {
		n, err := t.file.Read(t.readBuf[t.unhandledSize:])
		if err != nil {
			if err == io.EOF {
				return 0, nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Treated as EAGAIN: no new data, not an error.
				return 0, nil
			}
			if isEINTR(err) {
				continue
			}
			return 0, err
		}
		return n, nil
	}
	return 0, fmt.Errorf("tail: EINTR retries exhausted")
}

// isEINTR reports whether err represents an interrupted syscall. Go's
// standard library retries EINTR internally for most syscalls, so this is
// defensive — kept to mirror the spec's explicit EINTR handling (§4.4, §7).
func isEINTR(err error) bool {
	return errors.Is(err, errInterrupted)
}

var errInterrupted = errors.New("interrupted system call")

// decodeAndFeed parses as many frames as possible out of readBuf[:unhandledSize+n],
// feeding each to the sink, then slides any leftover partial frame to the
// front of readBuf for the next pass.
func (t *Tailer) decodeAndFeed(n int) {
	total := t.unhandledSize + n
	buf := record.NewBuffer(t.readBuf[:total])

	for {
		f, err := record.ParseItem(buf)
		if err != nil {
			if record.IsCorrupt(err) {
				// Spec §7: corrupt frame abandons the stream from the
				// current position. We can't resynchronize mid-buffer, so
				// drop the remainder of this read and hope the next file
				// starts clean.
				slog.Warn("tail: corrupt frame, discarding remainder of read", "prefix", t.cfg.Prefix, "file", t.filename)
				buf.SetReadPos(buf.WritePos())
			}
			break
		}
		t.dispatch(f)
	}

	remaining := buf.Remaining()
	if remaining > 0 {
		copy(t.readBuf, t.readBuf[buf.ReadPos():total])
	}
	t.unhandledSize = remaining
}

func (t *Tailer) dispatch(f *record.Frame) {
	switch f.Kind {
	case record.KindItemGauge:
		t.sink.PutGauge(f.Gauge)
	case record.KindItemLcall:
		t.sink.PutLcall(f.Lcall)
	case record.KindItemRcall:
		t.sink.PutRcall(f.Rcall)
	case record.KindMergedGauge:
		t.sink.MergeGauge(f.MGauge)
	case record.KindMergedLcall:
		t.sink.MergeLcall(f.MLcall)
	case record.KindMergedRcall:
		t.sink.MergeRcall(f.MRcall)
	}
}

func (t *Tailer) persistCursor() {
	// offset - unhandledSize: the cursor must point before any bytes not
	// yet folded into a decoded frame (spec §4.4 step 3).
	t.cursor.Save(cursor.Position{Filename: t.filename, Offset: t.offset - int64(t.unhandledSize)})
}

var errNoFileFound = errors.New("tail: no log file found for prefix")

// openCurrent locates and opens the file the tailer should be reading,
// per spec §4.4 step 1: in-memory cache, then cursor file, then a directory
// scan for the lexicographically smallest matching filename.
func (t *Tailer) openCurrent() error {
	filename, offset, err := t.locate()
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(t.cfg.BaseDir, filename))
	if err != nil {
		return fmt.Errorf("tail: open %s: %w", filename, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("tail: seek %s: %w", filename, err)
	}
	// The original non-blocking-descriptor step (§4.4 step 2) exists to
	// avoid blocking on a pipe or socket; reads of a regular file never
	// block past the time it takes the kernel to serve them, so there's no
	// separate non-blocking mode to switch into here.
	t.file = f
	t.filename = filename
	t.offset = offset
	t.unhandledSize = 0
	t.eofCount = 0
	t.ioeCount = 0
	t.fatalStreak = 0
	return nil
}

func (t *Tailer) locate() (string, int64, error) {
	if pos, ok := t.cursor.Load(); ok && pos.Filename != "" {
		return pos.Filename, pos.Offset, nil
	}
	name, err := t.earliestLogFile()
	if err != nil {
		return "", 0, err
	}
	return name, 0, nil
}

// earliestLogFile scans BaseDir for files named "<prefix>_*" that are not
// the cursor sentinel, returning the lexicographically smallest.
func (t *Tailer) earliestLogFile() (string, error) {
	entries, err := os.ReadDir(t.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("tail: scan %s: %w", t.cfg.BaseDir, err)
	}
	cursorName := t.cfg.Prefix + "_cursor.pt"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == cursorName {
			continue
		}
		if strings.HasPrefix(name, t.cfg.Prefix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", errNoFileFound
	}
	sort.Strings(names)
	return names[0], nil
}

// rollover looks for a log file strictly greater (lexicographically) than
// the current one. If found, it resets the tailer onto it at offset 0 and
// writes a fresh cursor. Returns false (no error) if no newer file exists
// yet — the caller should sleep and keep reading the current file.
func (t *Tailer) rollover() (bool, error) {
	entries, err := os.ReadDir(t.cfg.BaseDir)
	if err != nil {
		return false, err
	}
	var next string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, t.cfg.Prefix) {
			continue
		}
		if name == t.cfg.Prefix+"_cursor.pt" {
			continue
		}
		if name <= t.filename {
			continue
		}
		if next == "" || name < next {
			next = name
		}
	}
	if next == "" {
		t.eofCount = 0
		t.ioeCount = 0
		return false, nil
	}

	t.closeFile()
	f, err := os.Open(filepath.Join(t.cfg.BaseDir, next))
	if err != nil {
		return false, err
	}
	t.file = f
	t.filename = next
	t.offset = 0
	if t.unhandledSize > 0 {
		slog.Warn("tail: discarding unhandled bytes across rollover", "prefix", t.cfg.Prefix, "bytes", t.unhandledSize)
	}
	t.unhandledSize = 0
	t.eofCount = 0
	t.ioeCount = 0
	t.cursor.Save(cursor.Position{Filename: next, Offset: 0})
	return true, nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// maxBackoffMultiplier caps the widened sleep at 8x the configured interval.
const maxBackoffMultiplier = 8

// sleepOrDone sleeps for StatCheckInterval (widened by fatalStreak, capped)
// or returns false early if ctx is cancelled first (spec §4.4 step 5:
// shutdown checked before each sleep).
func (t *Tailer) sleepOrDone(ctx context.Context) bool {
	mult := t.fatalStreak
	if mult > maxBackoffMultiplier {
		mult = maxBackoffMultiplier
	}
	if mult < 1 {
		mult = 1
	}
	timer := time.NewTimer(t.cfg.StatCheckInterval * time.Duration(mult))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
