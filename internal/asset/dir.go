package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// DirResolver reads images from a directory tree. Ids are slash-separated paths relative to the root.
type DirResolver struct {
	root    string
	quality Quality
}

// NewDirResolver creates a resolver rooted at root.
func NewDirResolver(root string, quality Quality) (*DirResolver, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening image directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &DirResolver{root: root, quality: quality}, nil
}

// Resolve reads the file behind id. FastFormat returns a downscaled JPEG rendition.
func (d *DirResolver) Resolve(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(filepath.FromSlash(id)) {
		return nil, fmt.Errorf("%w: %s escapes the image directory", ErrNotFound, id)
	}

	data, err := d.read(id)
	if errors.Is(err, fs.ErrNotExist) {
		// The file system may hold the decomposed form of the name.
		data, err = d.read(norm.NFD.String(id))
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	if d.quality == FastFormat {
		return Thumbnail(data, constants.FastFormatMaxSize)
	}
	return data, nil
}

// WithQuality returns a resolver over the same root with a different quality.
func (d *DirResolver) WithQuality(q Quality) Resolver {
	return &DirResolver{root: d.root, quality: q}
}

func (d *DirResolver) read(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, filepath.FromSlash(id)))
}

// Discover walks root and returns the normalized ids of every file with an image extension, sorted.
func Discover(ctx context.Context, root string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !slices.Contains(constants.ImageExtensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ids = append(ids, NormalizeID(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Thumbnail resizes an image to fit within maxSize while keeping aspect ratio.
// Images already small enough are returned unchanged; others are re-encoded as JPEG.
func Thumbnail(data []byte, maxSize int) ([]byte, error) {
	img, err := fingerprint.Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, height*maxSize/width)
	} else {
		newHeight = maxSize
		newWidth = max(1, width*maxSize/height)
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: constants.ThumbnailJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
