package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how File encodes namespace files on disk.
type Compression uint8

const (
	// CompressionNone stores plain JSON.
	CompressionNone Compression = iota
	// CompressionZstd stores zstd-compressed JSON (.json.zst).
	CompressionZstd
	// CompressionLZ4 stores LZ4 frame-compressed JSON (.json.lz4).
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

func (c Compression) extension() string {
	switch c {
	case CompressionZstd:
		return ".json.zst"
	case CompressionLZ4:
		return ".json.lz4"
	}
	return ".json"
}

// ParseCompression resolves none, zstd or lz4. An empty name means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", name)
}

// File stores each namespace as one JSON file inside a directory.
type File struct {
	dir         string
	compression Compression
	mu          sync.Mutex
}

// NewFile creates a file store rooted at dir, creating the directory if needed.
func NewFile(dir string, compression Compression) (*File, error) {
	if dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &File{dir: dir, compression: compression}, nil
}

// Path returns the file backing namespace.
func (f *File) Path(namespace string) string {
	return filepath.Join(f.dir, namespace+f.compression.extension())
}

// Load reads the namespace file. A missing file yields an empty map.
func (f *File) Load(_ context.Context, namespace string) (map[string]string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.Path(namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", namespace, err)
	}
	defer file.Close()

	r, closeReader, err := f.reader(file)
	if err != nil {
		return nil, err
	}
	defer closeReader()

	entries := make(map[string]string)
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", namespace, err)
	}
	return entries, nil
}

// Save writes entries to a temporary file and renames it over the namespace file.
func (f *File) Save(_ context.Context, namespace string, entries map[string]string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, namespace+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := f.encode(tmp, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding %s: %w", namespace, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path(namespace)); err != nil {
		return fmt.Errorf("replacing %s: %w", namespace, err)
	}
	return nil
}

// Clear deletes the namespace file under every compression, so files written with
// an earlier setting go too. Clearing a missing namespace is not an error.
func (f *File) Clear(_ context.Context, namespace string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		path := filepath.Join(f.dir, namespace+c.extension())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func (f *File) encode(w io.Writer, entries map[string]string) error {
	switch f.compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := json.NewEncoder(enc).Encode(entries); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	case CompressionLZ4:
		zw := lz4.NewWriter(w)
		if err := json.NewEncoder(zw).Encode(entries); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return json.NewEncoder(w).Encode(entries)
}

func (f *File) reader(r io.Reader) (io.Reader, func(), error) {
	switch f.compression {
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return dec, dec.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	}
	return r, func() {}, nil
}
