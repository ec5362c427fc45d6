package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/barasher/go-exiftool"
)

// MetadataMerger copies descriptive metadata from candidates onto keep
type MetadataMerger interface {
	Merge(ctx context.Context, keep string, candidates []string) (int, error)
}

// nonDescriptive lists tags that describe the file or the pixel encoding
// rather than the photo, so they are never copied
var nonDescriptive = map[string]bool{
	"SourceFile": true, "ExifToolVersion": true, "FileName": true, "Directory": true,
	"FileSize": true, "FileModifyDate": true, "FileAccessDate": true, "FileInodeChangeDate": true,
	"FileCreateDate": true, "FilePermissions": true, "FileType": true, "FileTypeExtension": true,
	"MIMEType": true, "ImageWidth": true, "ImageHeight": true, "ImageSize": true, "Megapixels": true,
	"ExifImageWidth": true, "ExifImageHeight": true, "EncodingProcess": true, "BitsPerSample": true,
	"ColorComponents": true, "YCbCrSubSampling": true, "ThumbnailImage": true, "ThumbnailOffset": true,
	"ThumbnailLength": true, "PreviewImage": true, "JFIFVersion": true, "XResolution": true,
	"YResolution": true, "ResolutionUnit": true, "Orientation": true, "Error": true, "Warning": true,
}

// MergeFields returns the fields to add to target. A field qualifies when a
// candidate has it and target does not; across candidates the first one wins.
// Target values are never replaced.
func MergeFields(target map[string]any, candidates []map[string]any) map[string]any {
	out := make(map[string]any)
	for _, cand := range candidates {
		keys := make([]string, 0, len(cand))
		for k := range cand {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if nonDescriptive[k] {
				continue
			}
			if _, ok := target[k]; ok {
				continue
			}
			if _, ok := out[k]; ok {
				continue
			}
			out[k] = cand[k]
		}
	}
	return out
}

// ExiftoolMerger merges metadata with the exiftool binary
type ExiftoolMerger struct{}

// NewExiftoolMerger creates a merger. exiftool is started per merge.
func NewExiftoolMerger() *ExiftoolMerger {
	return &ExiftoolMerger{}
}

// Merge writes onto keep every descriptive tag that only the candidates
// carry. It returns the number of tags written.
func (m *ExiftoolMerger) Merge(ctx context.Context, keep string, candidates []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	et, err := exiftool.NewExiftool()
	if err != nil {
		return 0, fmt.Errorf("go-exiftool initialization failed: %w", err)
	}
	defer et.Close()

	metas := et.ExtractMetadata(append([]string{keep}, candidates...)...)
	if len(metas) == 0 {
		return 0, errors.New("exiftool returned no metadata")
	}
	if metas[0].Err != nil {
		return 0, fmt.Errorf("failed to read metadata of %s: %w", keep, metas[0].Err)
	}

	var sources []map[string]any
	for _, md := range metas[1:] {
		if md.Err != nil {
			log.Warn("skipping unreadable metadata", "path", md.File, "error", md.Err)
			continue
		}
		sources = append(sources, md.Fields)
	}

	fields := MergeFields(metas[0].Fields, sources)
	if len(fields) == 0 {
		return 0, nil
	}

	target := exiftool.FileMetadata{File: keep, Fields: make(map[string]interface{}, len(fields))}
	for k, v := range fields {
		target.Fields[k] = exiftoolValue(v)
	}
	writes := []exiftool.FileMetadata{target}
	et.WriteMetadata(writes)
	if writes[0].Err != nil {
		return 0, fmt.Errorf("failed to write metadata to %s: %w", keep, writes[0].Err)
	}

	// exiftool leaves a backup copy next to the rewritten file
	if err := os.Remove(keep + "_original"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("could not remove exiftool backup", "path", keep+"_original", "error", err)
	}

	log.Info("merged metadata", "keep", keep, "fields", len(fields))
	return len(fields), nil
}

func exiftoolValue(v any) any {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = fmt.Sprint(item)
		}
		return out
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
