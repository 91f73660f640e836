package fingerprint

import (
	"errors"
	"fmt"
	"strings"
)

// Bits is the fixed width of every fingerprint.
const Bits = 64

var (
	// ErrUnknownAlgorithm is returned when an algorithm name is not one of dHash, pHash or aHash.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	// ErrMalformed is returned when fingerprint text is not 64 characters of 0 and 1.
	ErrMalformed = errors.New("malformed fingerprint")
)

// Algorithm selects the perceptual hash variant. The zero value is invalid.
type Algorithm int

// Supported algorithms.
const (
	DHash Algorithm = iota + 1
	PHash
	AHash
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{DHash, PHash, AHash}

// String returns the canonical algorithm name used in cache keys and configuration.
func (a Algorithm) String() string {
	switch a {
	case DHash:
		return "dHash"
	case PHash:
		return "pHash"
	case AHash:
		return "aHash"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a >= DHash && a <= AHash
}

// ParseAlgorithm resolves an algorithm name. Matching is case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range Algorithms {
		if strings.EqualFold(name, a.String()) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Fingerprint is a 64-bit perceptual hash. Bit 63 is the first character of its text form.
type Fingerprint uint64

// String returns the 64-character binary form, left-padded with zeros.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%064b", uint64(f))
}

// Bit returns the value (0 or 1) of the i-th coordinate, counting from the most significant bit.
func (f Fingerprint) Bit(i int) uint8 {
	return uint8((uint64(f) >> (Bits - 1 - i)) & 1)
}

// Point reinterprets the fingerprint as a 64-dimensional point with 0/1 coordinates.
func (f Fingerprint) Point() []float32 {
	p := make([]float32, Bits)
	for i := range Bits {
		p[i] = float32(f.Bit(i))
	}
	return p
}

// Parse decodes the 64-character binary text form.
func Parse(s string) (Fingerprint, error) {
	if len(s) != Bits {
		return 0, fmt.Errorf("%w: want %d characters, got %d", ErrMalformed, Bits, len(s))
	}
	var v uint64
	for i := range len(s) {
		v <<= 1
		switch s[i] {
		case '0':
		case '1':
			v |= 1
		default:
			return 0, fmt.Errorf("%w: invalid symbol %q at %d", ErrMalformed, s[i], i)
		}
	}
	return Fingerprint(v), nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests and constants.
func MustParse(s string) Fingerprint {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Record is the outcome of fingerprinting one image.
// Present is false when the image bytes were unavailable or could not be hashed.
type Record struct {
	Index       int         `json:"index"`
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"-"`
	Present     bool        `json:"present"`
}

// Text returns the fingerprint text, or nil when absent.
func (r Record) Text() *string {
	if !r.Present {
		return nil
	}
	s := r.Fingerprint.String()
	return &s
}
