// Package journal keeps an append-only, hourly rotated record of the host
// events the add-on accepted or rejected.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"geik.xyz/farmer/internal/event"
)

const (
	DirName = "journal"
	prefix  = "events"
	suffix  = ".jsonl.zst"
)

func Dir(dataDir string) string { return filepath.Join(dataDir, DirName) }

// Writer appends JSON lines to zstd files, one file per UTC hour. Reopening
// an hour appends a new zstd frame, which readers handle transparently.
type Writer struct {
	baseDir string
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{baseDir: baseDir, now: now}
}

// Close flushes the current file. Later writes fail with os.ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", prefix, hour, suffix))
}

// Entry is one journal line.
type Entry struct {
	At       time.Time   `json:"at"`
	Event    event.Event `json:"event"`
	Accepted bool        `json:"accepted"`
	Error    string      `json:"error,omitempty"`
}

// Journal records the outcome of every published event.
type Journal struct {
	w   *Writer
	now func() time.Time
}

func Open(dataDir string, now func() time.Time) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{w: NewWriter(Dir(dataDir), now), now: now}
}

func (j *Journal) Record(ev event.Event, outcome error) error {
	e := Entry{At: j.now().UTC(), Event: ev, Accepted: outcome == nil}
	if outcome != nil {
		e.Error = outcome.Error()
	}
	return j.w.Write(e)
}

func (j *Journal) Close() error { return j.w.Close() }

// Files lists journal files in dir, oldest first. A missing dir is empty.
func Files(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, suffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every entry of one journal file. fn returning false stops
// the scan early.
func ReadFile(path string, fn func(Entry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if !fn(e) {
			return nil
		}
	}
	return sc.Err()
}
