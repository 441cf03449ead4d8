package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/x448/float16"
)

// WriteVectorsF16 writes vectors in row-major, little-endian binary16 to
// path: n_chunks rows of dim columns, 2 bytes per element. vecs[i] must all
// have length dim.
func WriteVectorsF16(path string, vecs [][]float32, dim int) error {
	buf := make([]byte, 0, len(vecs)*dim*2)
	for rowIdx, row := range vecs {
		if len(row) != dim {
			return fmt.Errorf("packet: vector row %d has %d dims, want %d", rowIdx, len(row), dim)
		}
		for _, v := range row {
			h := float16.Fromfloat32(v)
			buf = binary.LittleEndian.AppendUint16(buf, uint16(h))
		}
	}
	return writeFileAtomic(path, buf, 0o644)
}

// ReadVectorsF16 reads a vectors.f16.bin file back into float32 rows of
// width dim.
func ReadVectorsF16(path string, dim int) ([][]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rowBytes := dim * 2
	if rowBytes == 0 || len(raw)%rowBytes != 0 {
		return nil, fmt.Errorf("packet: vectors file length %d not a multiple of row size %d", len(raw), rowBytes)
	}
	n := len(raw) / rowBytes
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			off := i*rowBytes + j*2
			bits := binary.LittleEndian.Uint16(raw[off : off+2])
			row[j] = float16.Float16(bits).Float32()
		}
		out[i] = row
	}
	return out, nil
}

// L2Normalize normalizes v in place to unit L2 norm and reports whether it
// was non-zero (zero rows are preserved verbatim, per invariant 3).
func L2Normalize(v []float32) bool {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return false
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return true
}

// L2Norm returns the vector's L2 norm.
func L2Norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

// HasNonFinite reports whether v contains a NaN or Inf component.
func HasNonFinite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// Dot returns the inner product of a and b, which must be equal length.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
