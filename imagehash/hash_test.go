package imagehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createGradientImage(width, height int, invert bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x * 255) / width)
			if invert {
				v = 255 - v
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestContentHashMatchesWholeDigest(t *testing.T) {
	// larger than one chunk so the streamed path is exercised
	data := bytes.Repeat([]byte("0123456789abcdef"), (chunkSize/16)*3+7)
	want := sha256.Sum256(data)

	got, err := ContentHash(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestContentHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0o644))

	ha, err := ContentHashFile(a)
	require.NoError(t, err)
	hb, err := ContentHashFile(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	_, err = ContentHashFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		a, b uint64
		want int
	}{
		{0, 0, 0},
		{0xffffffffffffffff, 0xffffffffffffffff, 0},
		{0, 0xffffffffffffffff, 64},
		{0b1010, 0b0101, 4},
		{0x8000000000000000, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HammingDistance(tt.a, tt.b))
		assert.Equal(t, tt.want, HammingDistance(tt.b, tt.a), "distance must be symmetric")
	}
}

func TestPerceptionHash(t *testing.T) {
	img := createGradientImage(128, 128, false)
	h1, err := PerceptionHash(img)
	require.NoError(t, err)
	h2, err := PerceptionHash(img)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 0, HammingDistance(h1, h2))

	// a resized copy stays close, an inverted one does not
	small, err := PerceptionHash(createGradientImage(64, 64, false))
	require.NoError(t, err)
	inverted, err := PerceptionHash(createGradientImage(128, 128, true))
	require.NoError(t, err)
	assert.Less(t, HammingDistance(h1, small), HammingDistance(h1, inverted))
}

func TestFormatParse(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xdeadbeefcafebabe, 0xffffffffffffffff} {
		s := Format(v)
		assert.Len(t, s, 16)
		got, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	_, err := Parse("abc")
	assert.Error(t, err)
	_, err = Parse("zzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestAlgorithmValid(t *testing.T) {
	assert.True(t, PHash.Valid())
	assert.True(t, DCT.Valid())
	assert.False(t, Algorithm("ahash").Valid())
}
