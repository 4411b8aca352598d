// Package store implements the storage writer (spec §4.6): deriving a
// directory-tree file path for a merged frame and appending it with
// O_CREAT|O_APPEND|O_WRONLY semantics.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thobiasn/statpipe/internal/ident"
	"github.com/thobiasn/statpipe/internal/record"
)

const writeRetries = 5

// unitChar maps a Freq's ftype to the single-character suffix used in
// storage filenames. MONTH and MINUTE both render 'm' — an accepted,
// unresolved collision from spec §9.
var unitChar = [...]byte{'s', 'm', 'h', 'd', 'm', 'y'}

func freqSuffix(f record.Freq) string {
	c := byte('?')
	if int(f.Ftype) < len(unitChar) {
		c = unitChar[f.Ftype]
	}
	return fmt.Sprintf("%d%c", f.Freqs, c)
}

// Writer appends merged frames into the on-disk directory tree rooted at
// BaseDir (spec §4.6/§6.4).
type Writer struct {
	BaseDir string
}

// New returns a Writer rooted at baseDir.
func New(baseDir string) *Writer { return &Writer{BaseDir: baseDir} }

// pathForLocal derives the shared gauge/lcall path shape:
// <baseDir>/<YYYY>/<pid:04x>/<mid:04x>/<TYPE>_<pid:04x>_<mid:04x>_<iid:04x>_<host-ip>_<freq>.bin
func (w *Writer) pathForLocal(typ string, ts int64, sid ident.StatId, host ident.HostAddr, freq record.Freq) string {
	year := time.UnixMilli(ts).UTC().Year()
	name := fmt.Sprintf("%s_%04x_%04x_%04x_%s_%s.bin",
		typ, sid.Pid, sid.Mid, sid.Iid, host.PathToken(), freqSuffix(freq))
	return filepath.Join(w.BaseDir, fmt.Sprintf("%04d", year), fmt.Sprintf("%04x", sid.Pid), fmt.Sprintf("%04x", sid.Mid), name)
}

// pathForRcall derives:
// <baseDir>/<YYYY>/<src.pid:04x>/<src.mid:04x>/MR_<src.pid:04x>_<src.mid:04x>_<src.iid:04x>_<src-ip>_<dst.pid:04x>_<dst.mid:04x>_<dst.iid:04x>_<dst-ip>_<freq>.bin
func (w *Writer) pathForRcall(r *record.MergedRcall) string {
	year := time.UnixMilli(r.Timestamp).UTC().Year()
	name := fmt.Sprintf("MR_%04x_%04x_%04x_%s_%04x_%04x_%04x_%s_%s.bin",
		r.SrcSid.Pid, r.SrcSid.Mid, r.SrcSid.Iid, r.SrcHost.PathToken(),
		r.DstSid.Pid, r.DstSid.Mid, r.DstSid.Iid, r.DstHost.PathToken(),
		freqSuffix(r.Freq))
	return filepath.Join(w.BaseDir, fmt.Sprintf("%04d", year), fmt.Sprintf("%04x", r.SrcSid.Pid), fmt.Sprintf("%04x", r.SrcSid.Mid), name)
}

// WriteGauge appends one encoded MERGED_GAUGE frame to its derived path.
func (w *Writer) WriteGauge(g *record.MergedGauge) error {
	path := w.pathForLocal("MG", g.Timestamp, g.Sid, g.Host, g.Freq)
	buf := record.NewWriteBuffer(64)
	if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedGauge, MGauge: g}); err != nil {
		return fmt.Errorf("store: encode gauge: %w", err)
	}
	return w.appendFrame(path, buf.Bytes())
}

// WriteLcall appends one encoded MERGED_LCALL frame to its derived path.
func (w *Writer) WriteLcall(l *record.MergedLcall) error {
	path := w.pathForLocal("ML", l.Timestamp, l.Sid, l.Host, l.Freq)
	buf := record.NewWriteBuffer(64 + len(l.Results)*20)
	if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedLcall, MLcall: l}); err != nil {
		return fmt.Errorf("store: encode lcall: %w", err)
	}
	return w.appendFrame(path, buf.Bytes())
}

// WriteRcall appends one encoded MERGED_RCALL frame to its derived path.
func (w *Writer) WriteRcall(r *record.MergedRcall) error {
	path := w.pathForRcall(r)
	buf := record.NewWriteBuffer(96 + len(r.Results)*20)
	if err := record.EncodeItem(buf, &record.Frame{Kind: record.KindMergedRcall, MRcall: r}); err != nil {
		return fmt.Errorf("store: encode rcall: %w", err)
	}
	return w.appendFrame(path, buf.Bytes())
}

// appendFrame creates missing ancestor directories and appends data with
// O_CREAT|O_APPEND|O_WRONLY semantics, retrying EINTR up to writeRetries
// times (spec §4.6). A partial write is fatal for the frame — it is logged
// by the caller via the returned error, but the file is left as-is,
// possibly holding a truncated trailing frame.
func (w *Writer) appendFrame(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", filepath.Dir(path), err)
	}

	var f *os.File
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, errInterrupted) {
			return fmt.Errorf("store: open %s: %w", path, err)
		}
	}
	if err != nil {
		return fmt.Errorf("store: open %s after retries: %w", path, err)
	}
	defer f.Close()

	n, err := writeWithRetry(f, data)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if n != len(data) {
		return fmt.Errorf("store: partial write to %s: wrote %d of %d bytes", path, n, len(data))
	}
	return nil
}

var errInterrupted = errors.New("interrupted system call")

func writeWithRetry(f *os.File, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := f.Write(data[total:])
		total += n
		if err != nil {
			if errors.Is(err, errInterrupted) {
				continue
			}
			return total, err
		}
	}
	return total, nil
}
