package config

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed defaults
var defaultFiles embed.FS

// EnsureDefaults writes every bundled default file that is missing from
// dataDir. Existing files are never touched. It returns the written paths.
func EnsureDefaults(dataDir string) ([]string, error) {
	var written []string
	err := fs.WalkDir(defaultFiles, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := p[len("defaults/"):]
		dst := filepath.Join(dataDir, filepath.FromSlash(rel))
		if _, err := os.Stat(dst); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
		b, err := defaultFiles.ReadFile(path.Clean(p))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, b, 0o644); err != nil {
			return err
		}
		written = append(written, dst)
		return nil
	})
	if err != nil {
		return written, &Error{Path: dataDir, Err: err}
	}
	return written, nil
}
