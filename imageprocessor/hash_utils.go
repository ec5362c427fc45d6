package imageprocessor

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// ComputePerceptualHash computes a 64-bit DCT hash of a grayscale image: the
// 8x8 lowest frequencies of a 32x32 DCT, one bit per coefficient at or above
// their median. Bit 63 is the DC term.
func ComputePerceptualHash(gray gocv.Mat) (uint64, error) {
	if gray.Empty() {
		return 0, fmt.Errorf("cannot compute hash for empty image")
	}
	if gray.Channels() != 1 {
		return 0, fmt.Errorf("expected a grayscale image, got %d channels", gray.Channels())
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: 32, Y: 32}, 0, 0, gocv.InterpolationArea)

	floatImg := gocv.NewMat()
	defer floatImg.Close()
	resized.ConvertTo(&floatImg, gocv.MatTypeCV32F)

	dct := gocv.NewMat()
	defer dct.Close()
	gocv.DCT(floatImg, &dct, 0)
	if dct.Empty() {
		return 0, fmt.Errorf("DCT produced no output")
	}

	lowFreq := dct.Region(image.Rect(0, 0, 8, 8))
	defer lowFreq.Close()

	values := make([]float32, 0, 64)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			values = append(values, lowFreq.GetFloatAt(y, x))
		}
	}

	median := calculateMedian(values)
	var hash uint64
	for _, v := range values {
		hash <<= 1
		if v >= median {
			hash |= 1
		}
	}
	return hash, nil
}

// calculateMedian calculates the median value of a float32 array
func calculateMedian(values []float32) float32 {
	sorted := make([]float32, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	length := len(sorted)
	switch {
	case length == 0:
		return 0
	case length%2 == 0:
		return (sorted[length/2-1] + sorted[length/2]) / 2
	default:
		return sorted[length/2]
	}
}
