package fingerprint

import (
	"fmt"
	"image"
	"strings"

	"github.com/corona10/goimagehash"
)

// Hasher extracts a fingerprint from raw image bytes.
type Hasher interface {
	Hash(imageData []byte, alg Algorithm) (Fingerprint, error)
}

// HasherFunc adapts a plain function to the Hasher interface.
type HasherFunc func(imageData []byte, alg Algorithm) (Fingerprint, error)

// Hash calls f.
func (f HasherFunc) Hash(imageData []byte, alg Algorithm) (Fingerprint, error) {
	return f(imageData, alg)
}

// Hasher names accepted by NewHasher.
const (
	HasherGoImageHash = "goimagehash"
	HasherBuiltin     = "builtin"
)

// NewHasher returns the hasher registered under name. An empty name selects goimagehash.
func NewHasher(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", HasherGoImageHash:
		return GoImageHasher{}, nil
	case HasherBuiltin:
		return BuiltinHasher{}, nil
	}
	return nil, fmt.Errorf("unknown hasher %q", name)
}

// BuiltinHasher computes hashes with the in-package DCT, difference and average implementations.
type BuiltinHasher struct{}

// Hash decodes imageData and computes the requested fingerprint.
func (BuiltinHasher) Hash(imageData []byte, alg Algorithm) (Fingerprint, error) {
	img, err := Decode(imageData)
	if err != nil {
		return 0, err
	}
	return HashImage(img, alg)
}

// HashImage computes the requested fingerprint of a decoded image with the builtin implementations.
func HashImage(img image.Image, alg Algorithm) (Fingerprint, error) {
	switch alg {
	case DHash:
		return computeDHash(img), nil
	case PHash:
		return computePHash(img), nil
	case AHash:
		return computeAHash(img), nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
}

// GoImageHasher computes hashes with github.com/corona10/goimagehash.
type GoImageHasher struct{}

// Hash decodes imageData and computes the requested fingerprint.
func (GoImageHasher) Hash(imageData []byte, alg Algorithm) (Fingerprint, error) {
	img, err := Decode(imageData)
	if err != nil {
		return 0, err
	}

	var h *goimagehash.ImageHash
	switch alg {
	case DHash:
		h, err = goimagehash.DifferenceHash(img)
	case PHash:
		h, err = goimagehash.PerceptionHash(img)
	case AHash:
		h, err = goimagehash.AverageHash(img)
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	if err != nil {
		return 0, fmt.Errorf("computing %s: %w", alg, err)
	}
	return Fingerprint(h.GetHash()), nil
}
