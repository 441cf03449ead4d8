package packet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"
)

// indexMagic/indexFormatVersion identify the on-disk flat inner-product
// index format written at faiss/index.faiss. The path matches the layout
// convention of a libfaiss index file, but the bytes are this module's own
// flat-IP encoding, not a libfaiss file.
const (
	indexMagic         = "CPMFLATIP\x00"
	indexFormatVersion = uint32(1)
)

// FlatIPIndex is an in-memory flat inner-product nearest-neighbor index
// over L2-normalized float32 vectors, with a reproducible on-disk
// serialization: fixed row order, little-endian fields.
type FlatIPIndex struct {
	Dim     int
	Vectors [][]float32
	// IDs holds the DocChunk id for each row, used for the tie-break-by-id
	// ordering on equal scores.
	IDs []string
}

// NewFlatIPIndex constructs an index from row-ordered vectors and chunk
// ids; vectors must already be L2-normalized for inner product to behave
// as cosine similarity.
func NewFlatIPIndex(dim int, vectors [][]float32, ids []string) (*FlatIPIndex, error) {
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("packet: %d vectors but %d ids", len(vectors), len(ids))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("packet: vector row %d has %d dims, want %d", i, len(v), dim)
		}
	}
	return &FlatIPIndex{Dim: dim, Vectors: vectors, IDs: ids}, nil
}

// Hit is one top-k search result.
type Hit struct {
	Score float32
	Row   int
	ID    string
}

// Search returns the top-k hits by descending inner product, ties broken
// by ascending chunk id.
func (idx *FlatIPIndex) Search(query []float32, k int) []Hit {
	hits := make([]Hit, len(idx.Vectors))
	for i, v := range idx.Vectors {
		hits[i] = Hit{Score: Dot(query, v), Row: i, ID: idx.IDs[i]}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// Save writes the index to path in the reproducible flat-IP format:
// magic, version, dim, row count, then for each row its id length + id
// bytes + dim float32 values (little-endian).
func (idx *FlatIPIndex) Save(path string) error {
	f, err := os.Create(path + ".tmp")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	writeErr := func() error {
		if _, err := w.WriteString(indexMagic); err != nil {
			return err
		}
		if err := writeUint32(w, indexFormatVersion); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(idx.Dim)); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(idx.Vectors))); err != nil {
			return err
		}
		for i, v := range idx.Vectors {
			id := idx.IDs[i]
			if err := writeUint32(w, uint32(len(id))); err != nil {
				return err
			}
			if _, err := w.WriteString(id); err != nil {
				return err
			}
			for _, x := range v {
				if err := writeUint32(w, math.Float32bits(x)); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	}()
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(path + ".tmp")
		return writeErr
	}
	if closeErr != nil {
		os.Remove(path + ".tmp")
		return closeErr
	}
	return os.Rename(path+".tmp", path)
}

// LoadFlatIPIndex reads an index previously written by Save.
func LoadFlatIPIndex(path string) (*FlatIPIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(indexMagic)+12 {
		return nil, fmt.Errorf("packet: index file too short")
	}
	if string(data[:len(indexMagic)]) != indexMagic {
		return nil, fmt.Errorf("packet: bad index magic")
	}
	off := len(indexMagic)
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != indexFormatVersion {
		return nil, fmt.Errorf("packet: unsupported index format version %d", version)
	}
	dim := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	n := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	vectors := make([][]float32, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		idLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		ids[i] = string(data[off : off+idLen])
		off += idLen
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(data[off:])
			row[j] = math.Float32frombits(bits)
			off += 4
		}
		vectors[i] = row
	}
	return &FlatIPIndex{Dim: dim, Vectors: vectors, IDs: ids}, nil
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}
