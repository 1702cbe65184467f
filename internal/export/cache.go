package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Cache is the date-keyed local file cache of decompressed profile exports.
// Files are written once and never mutated, so concurrent readers are safe.
// There is no eviction: one file per date persists indefinitely.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Path returns the deterministic file name for a date's export.
func (c *Cache) Path(date string) string {
	return filepath.Join(c.dir, "users_"+date+".csv")
}

// Has reports whether an export already exists for the date.
func (c *Cache) Has(date string) bool {
	_, err := os.Stat(c.Path(date))
	return err == nil
}

// StoreGzip writes the compressed download to disk in full, decompresses it
// into the date's cache slot, and removes the compressed intermediate.
// Decompression only starts after the download has fully succeeded, and the
// decompressed file only appears under its final name once completely
// written (tmp + rename), so a failure never leaves a partial file behind.
func (c *Cache) StoreGzip(r io.Reader, date string) (string, error) {
	path := c.Path(date)
	gzPath := path + ".gz"

	if err := writeAll(gzPath, r); err != nil {
		return "", fmt.Errorf("save compressed export: %w", err)
	}
	defer os.Remove(gzPath)

	gzFile, err := os.Open(gzPath)
	if err != nil {
		return "", fmt.Errorf("open compressed export: %w", err)
	}
	defer gzFile.Close()

	gz, err := gzip.NewReader(gzFile)
	if err != nil {
		return "", fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tempPath := path + ".tmp"
	if err := writeAll(tempPath, gz); err != nil {
		return "", fmt.Errorf("decompress export: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return path, nil
}

// writeAll copies a stream to a file, removing the file on any failure.
func writeAll(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// FileInfo describes one cached export file.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Info summarizes the cache directory for the inspection endpoint.
type Info struct {
	Directory    string     `json:"directory"`
	Files        []FileInfo `json:"files"`
	FileCount    int        `json:"file_count"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	DiskTotal    uint64     `json:"disk_total"`
	DiskFree     uint64     `json:"disk_free"`
}

// Inspect lists cached export files with modification times and disk usage.
func (c *Cache) Inspect() (Info, error) {
	info := Info{Directory: c.dir, Files: []FileInfo{}}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return info, fmt.Errorf("read cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".csv" {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info.Files = append(info.Files, FileInfo{
			Name:     entry.Name(),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}

	sort.Slice(info.Files, func(i, j int) bool {
		return info.Files[i].Name < info.Files[j].Name
	})
	info.FileCount = len(info.Files)

	for i := range info.Files {
		mod := info.Files[i].Modified
		if info.LastModified == nil || mod.After(*info.LastModified) {
			info.LastModified = &mod
		}
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(c.dir, &st); err == nil {
		info.DiskTotal = st.Blocks * uint64(st.Bsize)
		info.DiskFree = st.Bavail * uint64(st.Bsize)
	}

	return info, nil
}
