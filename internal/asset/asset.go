// Package asset resolves opaque image ids to raw image bytes.
package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when an id has no backing bytes.
var ErrNotFound = errors.New("asset not found")

// Resolver fetches the raw bytes of an image. Any error means the image is absent.
type Resolver interface {
	Resolve(ctx context.Context, id string) ([]byte, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, id string) ([]byte, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, id string) ([]byte, error) {
	return f(ctx, id)
}

// Quality is the image quality hint passed to resolvers.
type Quality int

const (
	// FastFormat asks for a small rendition, enough for perceptual hashing.
	FastFormat Quality = iota
	// HighQualityFormat asks for the original bytes.
	HighQualityFormat
)

func (q Quality) String() string {
	switch q {
	case FastFormat:
		return "fastFormat"
	case HighQualityFormat:
		return "highQualityFormat"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// ParseQuality resolves fastFormat or highQualityFormat, case-insensitively.
func ParseQuality(name string) (Quality, error) {
	switch strings.ToLower(name) {
	case "fastformat", "fast":
		return FastFormat, nil
	case "highqualityformat", "high":
		return HighQualityFormat, nil
	}
	return FastFormat, fmt.Errorf("unknown image quality %q", name)
}

// NormalizeID returns id in Unicode NFC with forward slashes, so ids built from
// NFD file systems and NFC input address the same cache entries.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.ReplaceAll(id, `\`, "/"))
}

// MapResolver serves bytes from memory. Missing ids yield ErrNotFound.
type MapResolver map[string][]byte

// Resolve returns the stored bytes for id.
func (m MapResolver) Resolve(_ context.Context, id string) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, nil
}

// Original returns a resolver serving unmodified bytes. Resolvers that render a
// quality switch to HighQualityFormat; any other resolver is returned as is.
func Original(r Resolver) Resolver {
	if q, ok := r.(interface{ WithQuality(Quality) Resolver }); ok {
		return q.WithQuality(HighQualityFormat)
	}
	return r
}

type rateLimited struct {
	next    Resolver
	limiter *rate.Limiter
}

// RateLimited throttles calls to next with limiter. Waiting honours ctx.
func RateLimited(next Resolver, limiter *rate.Limiter) Resolver {
	return &rateLimited{next: next, limiter: limiter}
}

func (r *rateLimited) Resolve(ctx context.Context, id string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.next.Resolve(ctx, id)
}
