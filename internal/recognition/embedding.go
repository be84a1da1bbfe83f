// embedding.go: binary codec for stored face embedding vectors
package recognition

import (
	"encoding/binary"
	"math"

	"github.com/classtrack/classtrack-go/internal/errors"
)

// EncodeEmbedding serializes a float32 vector to its little-endian storage
// form.
func EncodeEmbedding(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes a stored embedding back to a float32 vector.
func DecodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Newf("embedding blob length %d is not a multiple of 4", len(data)).
			Component("recognition").
			Category(errors.CategoryValidation).
			Build()
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}
