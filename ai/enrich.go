package ai

import (
	"context"
	"errors"
	"fmt"

	"imagededup/types"
)

// Providers bundles the optional enrichment backends. Nil members are skipped.
type Providers struct {
	Embedder Embedder
	Detector Detector
	Device   string
}

// Enrichment is the outcome of the optional steps for one file. Err is set
// when a step failed; the other fields keep whatever did succeed.
type Enrichment struct {
	Embedding []float32
	Faces     []types.Detection
	Objects   []types.Detection
	Err       error
}

// Restrict disables the requested steps whose provider is missing or
// unavailable, and returns the reasons for each disabled step
func (p Providers) Restrict(ctx context.Context, opts types.EnrichOptions) (types.EnrichOptions, []string) {
	var reasons []string
	if opts.Embeddings {
		if ok, reason := probe(ctx, p.Embedder); !ok {
			opts.Embeddings = false
			reasons = append(reasons, "embeddings: "+reason)
		}
	}
	if opts.Faces || opts.Objects {
		if ok, reason := probe(ctx, p.Detector); !ok {
			if opts.Faces {
				reasons = append(reasons, "faces: "+reason)
			}
			if opts.Objects {
				reasons = append(reasons, "objects: "+reason)
			}
			opts.Faces, opts.Objects = false, false
		}
	}
	return opts, reasons
}

func probe(ctx context.Context, p interface {
	Available(context.Context) (bool, string)
}) (bool, string) {
	if p == nil {
		return false, "no provider configured"
	}
	return p.Available(ctx)
}

// Enrich runs the requested steps for path. It never fails the caller:
// errors are attached to the returned Enrichment.
func (p Providers) Enrich(ctx context.Context, path string, opts types.EnrichOptions) Enrichment {
	var (
		out  Enrichment
		errs []error
	)
	device := p.Device
	if device == "" {
		device = CPU
	}

	if opts.Embeddings && p.Embedder != nil {
		vec, err := withFallback(ctx, "embedding", device, func(ctx context.Context, dev string) ([]float32, error) {
			return p.Embedder.Embed(ctx, path, dev)
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			out.Embedding = Normalize(vec)
		}
	}

	if (opts.Faces || opts.Objects) && p.Detector != nil {
		req := DetectRequest{Faces: opts.Faces, Objects: opts.Objects}
		res, err := withFallback(ctx, "detection", device, func(ctx context.Context, dev string) (DetectResult, error) {
			return p.Detector.Detect(ctx, path, req, dev)
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			out.Faces, out.Objects = res.Faces, res.Objects
			if opts.Faces && out.Faces == nil {
				out.Faces = []types.Detection{}
			}
			if opts.Objects && out.Objects == nil {
				out.Objects = []types.Detection{}
			}
		}
	}

	out.Err = errors.Join(errs...)
	return out
}

// withFallback runs call on device and, if that fails, once more on the CPU
func withFallback[T any](ctx context.Context, step, device string, call func(context.Context, string) (T, error)) (T, error) {
	v, err := call(ctx, device)
	if err == nil {
		return v, nil
	}
	var zero T
	if ctx.Err() != nil || device == CPU {
		return zero, fmt.Errorf("%s: %w", step, err)
	}

	log.Warn("enrichment failed, retrying on fallback device", "step", step, "device", device, "error", err)
	v, fallbackErr := call(ctx, CPU)
	if fallbackErr == nil {
		return v, nil
	}
	return zero, &DeviceFallbackError{Step: step, Device: device, Fallback: CPU, Err: err, FallbackErr: fallbackErr}
}
