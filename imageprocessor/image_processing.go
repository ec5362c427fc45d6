package imageprocessor

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ToGray returns a single-channel copy of img. The caller closes it.
func ToGray(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("cannot convert empty image")
	}

	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return gray, nil
}

// LaplacianVariance measures sharpness as the variance of the 3x3 Laplacian
// of a grayscale image. Blurry images score low.
func LaplacianVariance(gray gocv.Mat) (float64, error) {
	if gray.Empty() {
		return 0, fmt.Errorf("cannot compute sharpness for empty image")
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stdDev := gocv.NewMat()
	defer stdDev.Close()
	gocv.MeanStdDev(lap, &mean, &stdDev)

	sd := stdDev.GetDoubleAt(0, 0)
	return sd * sd, nil
}
