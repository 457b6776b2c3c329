package backup

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"geik.xyz/farmer/internal/farmer"
)

const (
	Version = 1
	DirName = "backups"
	suffix  = ".farmers.zst"
)

type Header struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	Backend   string `json:"backend"`
	Farmers   int    `json:"farmers"`
}

type Backup struct {
	Header  Header
	Farmers []farmer.Record
}

func Dir(dataDir string) string { return filepath.Join(dataDir, DirName) }

func FileName(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) + suffix }

// Write stores b at path: one JSON header line followed by a gob body, the
// whole stream zstd-compressed. The file appears atomically.
func Write(path string, b Backup) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b.Header.Version = Version
	b.Header.Farmers = len(b.Farmers)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, b Backup) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(b.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&b); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (Backup, error) {
	var b Backup
	f, err := os.Open(path)
	if err != nil {
		return b, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return b, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return b, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&b); err != nil {
		return b, fmt.Errorf("gob decode: %w", err)
	}
	if b.Header.Version != Version {
		return b, fmt.Errorf("unsupported backup version %d", b.Header.Version)
	}
	return b, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

type Entry struct {
	Path    string
	Created time.Time
	Size    int64
}

// List returns the backups in dir, newest first. A missing dir is empty.
func List(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		sec, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Path:    filepath.Join(dir, name),
			Created: time.Unix(sec, 0),
			Size:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// Prune deletes all but the keep newest backups. keep < 1 keeps everything.
func Prune(dir string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, nil
	}
	entries, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) <= keep {
		return nil, nil
	}
	var removed []string
	var errs []error
	for _, e := range entries[keep:] {
		if err := os.Remove(e.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Path)
	}
	return removed, errors.Join(errs...)
}

// Save writes a new backup of recs under <dataDir>/backups and prunes old
// ones. It returns the new file's path.
func Save(dataDir string, now time.Time, backend string, recs []farmer.Record, keep int) (string, error) {
	dir := Dir(dataDir)
	path := filepath.Join(dir, FileName(now))
	b := Backup{
		Header:  Header{CreatedAt: now.Unix(), Backend: backend},
		Farmers: recs,
	}
	if err := Write(path, b); err != nil {
		return "", err
	}
	if _, err := Prune(dir, keep); err != nil {
		return path, fmt.Errorf("prune: %w", err)
	}
	return path, nil
}
