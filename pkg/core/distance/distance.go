// Package distance provides similarity kernels for the vector index.
// Vectors are expected to be L2-normalized, so the inner product equals
// cosine similarity in the range [-1, 1].
//
// The package uses runtime CPU detection to pick between a pure Go loop and
// Gonum's BLAS Sdot, which dispatches to SIMD assembly internally.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric defines the similarity measure used by an index.
type Metric string

// PrecisionType defines the data type used for vector storage.
type PrecisionType string

const (
	// InnerProduct is the raw dot product. On unit vectors it equals cosine similarity.
	InnerProduct Metric = "ip"
	// Cosine normalizes both operands before taking the dot product.
	Cosine Metric = "cosine"

	// Float32 stores vectors as single-precision floats.
	Float32 PrecisionType = "float32"
	// Float16 stores vectors as half-precision floats, halving memory.
	Float16 PrecisionType = "float16"
)

// ErrLengthMismatch is returned when two operands have different lengths.
var ErrLengthMismatch = errors.New("vectors must have the same length")

// SimilarityFuncF32 scores two float32 vectors. Higher is more similar.
type SimilarityFuncF32 func(v1, v2 []float32) (float64, error)

// SimilarityFuncF16 scores two float16 vectors stored as raw bits.
type SimilarityFuncF16 func(v1, v2 []uint16) (float64, error)

var gonumEngine = gonum.Implementation{}

// widenWorkspace holds scratch buffers for float16 -> float32 conversion.
var widenWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 0, 3072)
		return &s
	},
}

// backend names the active float32 kernel, reported by Backend().
var backend = "pure-go"

func init() {
	// Gonum only pays off when the CPU has wide vector units.
	if cpuid.CPU.Has(cpuid.AVX2) || cpuid.CPU.Has(cpuid.ASIMD) {
		float32Funcs[InnerProduct] = dotGonum
		float32Funcs[Cosine] = cosineGonum
		float16Funcs[InnerProduct] = dotF16Widened
		backend = "gonum"
	}
	slog.Debug("distance kernels selected", "backend", backend, "cpu", cpuid.CPU.BrandName)
}

// Backend returns the name of the active float32 kernel ("gonum" or "pure-go").
func Backend() string {
	return backend
}

// --- Reference implementations (pure Go) ---

func dotGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return float64(sum), nil
}

func cosineGo(v1, v2 []float32) (float64, error) {
	dot, err := dotGo(v1, v2)
	if err != nil {
		return 0, err
	}
	n1, n2 := Norm(v1), Norm(v2)
	if n1 == 0 || n2 == 0 {
		return 0, nil
	}
	return dot / (n1 * n2), nil
}

func dotGoFloat16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		sum += float16.Frombits(v1[i]).Float32() * float16.Frombits(v2[i]).Float32()
	}
	return float64(sum), nil
}

// --- Gonum-based implementations ---

func dotGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	return float64(gonumEngine.Sdot(len(v1), v1, 1, v2, 1)), nil
}

func cosineGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	n := len(v1)
	dot := gonumEngine.Sdot(n, v1, 1, v2, 1)
	n1 := gonumEngine.Snrm2(n, v1, 1)
	n2 := gonumEngine.Snrm2(n, v2, 1)
	if n1 == 0 || n2 == 0 {
		return 0, nil
	}
	return float64(dot) / (float64(n1) * float64(n2)), nil
}

// dotF16Widened converts both operands into pooled float32 buffers and runs Sdot.
func dotF16Widened(v1, v2 []uint16) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrLengthMismatch
	}
	aPtr := widenWorkspace.Get().(*[]float32)
	bPtr := widenWorkspace.Get().(*[]float32)
	defer widenWorkspace.Put(aPtr)
	defer widenWorkspace.Put(bPtr)

	a := widenInto(*aPtr, v1)
	b := widenInto(*bPtr, v2)
	*aPtr, *bPtr = a, b
	return float64(gonumEngine.Sdot(n, a, 1, b, 1)), nil
}

func widenInto(dst []float32, src []uint16) []float32 {
	if cap(dst) < len(src) {
		dst = make([]float32, len(src))
	}
	dst = dst[:len(src)]
	for i, bits := range src {
		dst[i] = float16.Frombits(bits).Float32()
	}
	return dst
}

// --- Function catalogs and dispatchers ---

var float32Funcs = map[Metric]SimilarityFuncF32{
	InnerProduct: dotGo,
	Cosine:       cosineGo,
}

var float16Funcs = map[Metric]SimilarityFuncF16{
	InnerProduct: dotGoFloat16,
}

// GetFloat32Func returns the similarity function for a metric on float32 data.
func GetFloat32Func(metric Metric) (SimilarityFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the similarity function for a metric on float16 data.
func GetFloat16Func(metric Metric) (SimilarityFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// --- Helpers ---

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns its original norm.
// A zero vector is left untouched and 0 is returned.
func Normalize(v []float32) float64 {
	norm := Norm(v)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return 0
	}
	inv := float32(1 / norm)
	for i := range v {
		v[i] *= inv
	}
	return norm
}

// ToFloat16 converts a float32 vector into float16 bit patterns.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}
