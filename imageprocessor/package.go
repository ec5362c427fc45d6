// Package imageprocessor decodes image files with OpenCV and turns them into
// records: dimensions, sharpness, perceptual hash and the optional
// model-backed enrichment.
package imageprocessor

import "imagededup/logging"

var log = logging.Module("imageprocessor")
