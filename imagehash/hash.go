// Package imagehash computes the identity fingerprints of an image file:
// a cryptographic digest of its bytes and a 64-bit perceptual hash.
package imagehash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"math/bits"
	"os"
	"strconv"

	"github.com/corona10/goimagehash"
)

// chunkSize is the read size used while streaming file bytes into the digest
const chunkSize = 1 << 20

// Algorithm names a perceptual hash implementation. Records hashed with
// different algorithms cannot be compared.
type Algorithm string

const (
	// PHash is the goimagehash DCT perception hash computed on an image.Image
	PHash Algorithm = "phash"
	// DCT is the OpenCV DCT hash computed on a grayscale Mat
	DCT Algorithm = "dct"
)

// Valid reports whether a is a known algorithm
func (a Algorithm) Valid() bool {
	return a == PHash || a == DCT
}

// ContentHash streams r into SHA-256 and returns the hex digest
func ContentHash(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, r, buf); err != nil {
		return "", fmt.Errorf("failed to read image data: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ContentHashFile returns the hex SHA-256 digest of the file at path
func ContentHashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ContentHash(f)
}

// PerceptionHash computes the 64-bit DCT perception hash of img
func PerceptionHash(img image.Image) (uint64, error) {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute pHash: %w", err)
	}
	return hash.GetHash(), nil
}

// HammingDistance returns the number of differing bits (0 = identical).
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Format renders a hash as 16 lowercase hex digits
func Format(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}

// Parse is the inverse of Format
func Parse(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("invalid perceptual hash %q: want 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid perceptual hash %q: %w", s, err)
	}
	return v, nil
}
