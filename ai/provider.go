// Package ai holds the optional model-backed enrichment steps: image
// embeddings and face/object detection. Models run out of process; this
// package only consumes their numeric outputs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"imagededup/logging"
	"imagededup/types"
)

var log = logging.Module("ai")

// CPU is the safe device every provider must support
const CPU = "cpu"

// ErrUnavailable is returned by providers whose backend cannot be reached
var ErrUnavailable = errors.New("provider unavailable")

// Embedder produces a fixed-length embedding for an image file
type Embedder interface {
	// Available probes the backend. reason explains a false result.
	Available(ctx context.Context) (ok bool, reason string)
	Embed(ctx context.Context, path, device string) ([]float32, error)
}

// DetectRequest selects which detections to compute
type DetectRequest struct {
	Faces   bool
	Objects bool
}

// DetectResult holds detections; a slice is nil when it was not requested
type DetectResult struct {
	Faces   []types.Detection
	Objects []types.Detection
}

// Detector finds faces and objects in an image file
type Detector interface {
	Available(ctx context.Context) (ok bool, reason string)
	Detect(ctx context.Context, path string, req DetectRequest, device string) (DetectResult, error)
}

// DeviceFallbackError reports an enrichment step that failed on the
// configured device and again on the CPU fallback
type DeviceFallbackError struct {
	Step        string
	Device      string
	Fallback    string
	Err         error
	FallbackErr error
}

func (e *DeviceFallbackError) Error() string {
	return fmt.Sprintf("%s failed on %s (%v) and on %s fallback (%v)", e.Step, e.Device, e.Err, e.Fallback, e.FallbackErr)
}

func (e *DeviceFallbackError) Unwrap() []error {
	return []error{e.Err, e.FallbackErr}
}

// Normalize returns vec scaled to unit length. A zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
