package database

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"imagededup/types"
)

// encodeEmbedding stores vectors as little-endian float32 without a length
// prefix; the length comes from the blob size
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// encodeDetections keeps the difference between "not computed" (NULL) and
// "computed, nothing found" ("[]")
func encodeDetections(d []types.Detection) (any, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeDetections(s *string) ([]types.Detection, error) {
	if s == nil {
		return nil, nil
	}
	d := []types.Detection{}
	if err := json.Unmarshal([]byte(*s), &d); err != nil {
		return nil, err
	}
	return d, nil
}
