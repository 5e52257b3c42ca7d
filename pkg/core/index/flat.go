// Package index provides an exact in-memory similarity index over
// fixed-dimension unit vectors.
//
// Vectors are addressed by position (insertion order). The index has no
// in-place delete: RemoveAt rebuilds the storage from the remaining vectors,
// so positions stay dense and callers can keep parallel arrays aligned.
package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/persistence"
)

// Flat is a brute-force inner-product index.
// It is safe for concurrent use.
type Flat struct {
	mu        sync.RWMutex
	dim       int
	precision distance.PrecisionType

	f32 [][]float32
	f16 [][]uint16

	simF32 distance.SimilarityFuncF32
	simF16 distance.SimilarityFuncF16
}

// header is the first frame of a serialized index.
type header struct {
	Dimension  int                    `json:"dimension"`
	Precision  distance.PrecisionType `json:"precision"`
	Count      int                    `json:"count"`
	Generation uint64                 `json:"generation"`
}

// NewFlat creates an empty index. precision may be empty (float32).
func NewFlat(dim int, precision distance.PrecisionType) (*Flat, error) {
	if dim <= 0 {
		return nil, &types.ConfigurationError{Field: "dimension", Reason: fmt.Sprintf("must be positive, got %d", dim)}
	}
	if precision == "" {
		precision = distance.Float32
	}

	idx := &Flat{dim: dim, precision: precision}
	switch precision {
	case distance.Float32:
		fn, err := distance.GetFloat32Func(distance.InnerProduct)
		if err != nil {
			return nil, err
		}
		idx.simF32 = fn
	case distance.Float16:
		fn, err := distance.GetFloat16Func(distance.InnerProduct)
		if err != nil {
			return nil, err
		}
		idx.simF16 = fn
	default:
		return nil, &types.ConfigurationError{Field: "precision", Reason: fmt.Sprintf("unsupported precision %q", precision)}
	}
	return idx, nil
}

// Len returns the number of stored vectors.
func (idx *Flat) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lenLocked()
}

func (idx *Flat) lenLocked() int {
	if idx.precision == distance.Float16 {
		return len(idx.f16)
	}
	return len(idx.f32)
}

// Info returns a description of the index.
func (idx *Flat) Info() types.IndexInfo {
	return types.IndexInfo{
		Dimension:   idx.dim,
		Metric:      distance.InnerProduct,
		Precision:   idx.precision,
		VectorCount: idx.Len(),
		Backend:     distance.Backend(),
	}
}

func (idx *Flat) checkDim(vec []float32) error {
	if len(vec) != idx.dim {
		return &types.DimensionMismatchError{Expected: idx.dim, Got: len(vec)}
	}
	return nil
}

// appendLocked stores a copy of vec.
func (idx *Flat) appendLocked(vec []float32) {
	if idx.precision == distance.Float16 {
		idx.f16 = append(idx.f16, distance.ToFloat16(vec))
		return
	}
	idx.f32 = append(idx.f32, append([]float32(nil), vec...))
}

// Add appends a vector and returns its position.
func (idx *Flat) Add(vec []float32) (int, error) {
	if err := idx.checkDim(vec); err != nil {
		return 0, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.appendLocked(vec)
	return idx.lenLocked() - 1, nil
}

// Search returns the top-k positions by inner product, highest first.
// Equal scores are ordered by position.
func (idx *Flat) Search(query []float32, k int) ([]types.SearchResult, error) {
	if err := idx.checkDim(query); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := idx.lenLocked()
	if k <= 0 || n == 0 {
		return []types.SearchResult{}, nil
	}

	results := make([]types.SearchResult, 0, n)
	if idx.precision == distance.Float16 {
		q := distance.ToFloat16(query)
		for pos, vec := range idx.f16 {
			score, err := idx.simF16(q, vec)
			if err != nil {
				continue
			}
			results = append(results, types.SearchResult{Position: pos, Score: score})
		}
	} else {
		for pos, vec := range idx.f32 {
			score, err := idx.simF32(query, vec)
			if err != nil {
				continue
			}
			results = append(results, types.SearchResult{Position: pos, Score: score})
		}
	}

	// Stable sort keeps ascending position order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// RemoveAt drops the vector at pos and rebuilds the storage so that every
// later vector shifts down by one position.
func (idx *Flat) RemoveAt(pos int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.lenLocked()
	if pos < 0 || pos >= n {
		return fmt.Errorf("position %d out of range [0,%d)", pos, n)
	}

	if idx.precision == distance.Float16 {
		rebuilt := make([][]uint16, 0, n-1)
		rebuilt = append(rebuilt, idx.f16[:pos]...)
		idx.f16 = append(rebuilt, idx.f16[pos+1:]...)
		return nil
	}
	rebuilt := make([][]float32, 0, n-1)
	rebuilt = append(rebuilt, idx.f32[:pos]...)
	idx.f32 = append(rebuilt, idx.f32[pos+1:]...)
	return nil
}

// Reset removes every vector.
func (idx *Flat) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.f32, idx.f16 = nil, nil
}

// WriteIndex serializes the index as a header frame followed by one frame per vector.
// The generation stamp lets a companion artifact prove it was written in the same save.
func (idx *Flat) WriteIndex(w io.Writer, generation uint64) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	fw := persistence.NewFrameWriter(w)
	hdr, err := json.Marshal(header{
		Dimension:  idx.dim,
		Precision:  idx.precision,
		Count:      idx.lenLocked(),
		Generation: generation,
	})
	if err != nil {
		return err
	}
	if err := fw.WriteFrame(persistence.OpCodeHeader, hdr); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}

	if idx.precision == distance.Float16 {
		buf := make([]byte, idx.dim*2)
		for _, vec := range idx.f16 {
			for i, bits := range vec {
				binary.LittleEndian.PutUint16(buf[i*2:], bits)
			}
			if err := fw.WriteFrame(persistence.OpCodeVector, buf); err != nil {
				return fmt.Errorf("failed to write vector: %w", err)
			}
		}
		return nil
	}

	buf := make([]byte, idx.dim*4)
	for _, vec := range idx.f32 {
		for i, x := range vec {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
		if err := fw.WriteFrame(persistence.OpCodeVector, buf); err != nil {
			return fmt.Errorf("failed to write vector: %w", err)
		}
	}
	return nil
}

// ReadIndex loads a serialized index, replacing the current contents only if the
// whole stream decodes. It returns the generation stamp and vector count.
func (idx *Flat) ReadIndex(r io.Reader) (uint64, int, error) {
	op, payload, _, err := persistence.ReadFrame(r)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read index header: %w", err)
	}
	if op != persistence.OpCodeHeader {
		return 0, 0, fmt.Errorf("unexpected op code %#x for index header", op)
	}
	var hdr header
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return 0, 0, fmt.Errorf("failed to decode index header: %w", err)
	}
	if hdr.Dimension != idx.dim {
		return 0, 0, &types.DimensionMismatchError{Expected: idx.dim, Got: hdr.Dimension}
	}
	if hdr.Precision != idx.precision {
		return 0, 0, &types.ConfigurationError{Field: "precision", Reason: fmt.Sprintf("artifact stores %s, index uses %s", hdr.Precision, idx.precision)}
	}

	width := 4
	if hdr.Precision == distance.Float16 {
		width = 2
	}

	var f32 [][]float32
	var f16 [][]uint16
	for i := 0; i < hdr.Count; i++ {
		op, payload, _, err := persistence.ReadFrame(r)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		if op != persistence.OpCodeVector || len(payload) != hdr.Dimension*width {
			return 0, 0, fmt.Errorf("malformed vector frame %d", i)
		}
		if width == 2 {
			vec := make([]uint16, hdr.Dimension)
			for j := range vec {
				vec[j] = binary.LittleEndian.Uint16(payload[j*2:])
			}
			f16 = append(f16, vec)
		} else {
			vec := make([]float32, hdr.Dimension)
			for j := range vec {
				vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(payload[j*4:]))
			}
			f32 = append(f32, vec)
		}
	}

	idx.mu.Lock()
	idx.f32, idx.f16 = f32, f16
	idx.mu.Unlock()
	return hdr.Generation, hdr.Count, nil
}
