package database

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
)

// vectorZeroString builds a zero vector string for current embedding dims.
func (s *Store) vectorZeroString() string {
	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	parts := make([]string, dims)
	for i := range parts {
		parts[i] = "0.0"
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// vectorToString converts a float32 array to libSQL vector string format.
func (s *Store) vectorToString(numbers []float32) (string, error) {
	// If no embedding provided, store a zero vector placeholder
	if len(numbers) == 0 {
		return s.vectorZeroString(), nil
	}

	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	sanitized := make([]string, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			log.Printf("Warning: invalid vector value detected, using 0.0 instead of: %f", n)
			sanitized[i] = "0.0"
		} else {
			sanitized[i] = fmt.Sprintf("%f", n)
		}
	}

	return fmt.Sprintf("[%s]", strings.Join(sanitized, ", ")), nil
}

// extractVector decodes the binary F32_BLOB representation.
func (s *Store) extractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	expectedBytes := dims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}

	return vector, nil
}

// isZeroVector reports whether every component is zero. Nodes stored without
// an embedding carry the zero placeholder and are excluded from vector search.
func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
