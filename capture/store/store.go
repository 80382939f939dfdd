// Package store persists decoded capture payloads to the local filesystem
// and lists what has been saved.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arcadereplay/pong-relay/relay/message"
)

// SavedCapture describes one persisted capture payload.
type SavedCapture struct {
	Filename string
	Path     string
	SizeKB   float64
}

// CaptureInfo is a listing entry for the captures endpoint.
type CaptureInfo struct {
	Filename string  `json:"filename"`
	SizeKB   float64 `json:"size_kb"`
	ModTime  int64   `json:"mtime"`
}

// FileStore writes captures into a single flat directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the capture directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the capture directory path.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Save writes data as capture_<id>_<timestamp>.<ext>. The capture ID is
// sanitized for use in a filename; an empty ID gets a noid_ placeholder so
// unattributed captures are still kept.
func (fs *FileStore) Save(data []byte, captureID, format string) (SavedCapture, error) {
	ts := message.NowMillis()

	id := sanitizeID(captureID)
	if id == "" {
		id = fmt.Sprintf("noid_%d", ts)
	}

	filename := fmt.Sprintf("capture_%s_%d.%s", id, ts, extForFormat(format))
	path := filepath.Join(fs.dir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return SavedCapture{}, fmt.Errorf("failed to write capture file: %w", err)
	}

	return SavedCapture{
		Filename: filename,
		Path:     path,
		SizeKB:   float64(len(data)) / 1024.0,
	}, nil
}

// List returns saved captures, newest first by filename (the embedded
// timestamp makes name order follow creation order). Entries that vanish
// between listing and stat are skipped.
func (fs *FileStore) List() ([]CaptureInfo, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture directory: %w", err)
	}

	infos := make([]CaptureInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, CaptureInfo{
			Filename: entry.Name(),
			SizeKB:   float64(fi.Size()) / 1024.0,
			ModTime:  fi.ModTime().Unix(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Filename > infos[j].Filename
	})

	return infos, nil
}

// sanitizeID strips characters that would break a flat filename.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, " ", "_")
	return id
}

func extForFormat(format string) string {
	switch message.NormalizeFormat(format) {
	case "png":
		return "png"
	case "bin":
		return "bin"
	default:
		return "jpg"
	}
}
