package index

import (
	"bytes"
	"errors"
	"testing"

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/distance"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/core/types"
)

func unit(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestNewFlatRejectsBadDimension(t *testing.T) {
	if _, err := NewFlat(0, distance.Float32); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if _, err := NewFlat(4, "int4"); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for bad precision, got %v", err)
	}
}

func TestFlatSearch(t *testing.T) {
	for _, p := range []distance.PrecisionType{distance.Float32, distance.Float16} {
		t.Run(string(p), func(t *testing.T) {
			idx, err := NewFlat(3, p)
			if err != nil {
				t.Fatal(err)
			}

			empty, err := idx.Search(unit(3, 0), 5)
			if err != nil || len(empty) != 0 {
				t.Fatalf("empty index: %v %v", empty, err)
			}

			_, _ = idx.Add(unit(3, 0))
			_, _ = idx.Add(unit(3, 1))
			_, _ = idx.Add([]float32{0.6, 0.8, 0})
			// Ties with position 0.
			pos, _ := idx.Add(unit(3, 0))
			if pos != 3 {
				t.Fatalf("expected position 3, got %d", pos)
			}

			res, err := idx.Search(unit(3, 0), 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(res) != 3 {
				t.Fatalf("expected 3 results, got %d", len(res))
			}
			want := []int{0, 3, 2}
			for i, r := range res {
				if r.Position != want[i] {
					t.Errorf("rank %d: got position %d, want %d", i, r.Position, want[i])
				}
			}
			for i := 1; i < len(res); i++ {
				if res[i].Score > res[i-1].Score {
					t.Error("results must be sorted by descending score")
				}
			}

			if res, _ := idx.Search(unit(3, 0), 0); len(res) != 0 {
				t.Error("k=0 must return nothing")
			}
		})
	}
}

func TestFlatDimensionMismatch(t *testing.T) {
	idx, _ := NewFlat(3, distance.Float32)
	if _, err := idx.Add([]float32{1, 2}); !errors.Is(err, types.ErrDimensionMismatch) {
		t.Errorf("Add: expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := idx.Search([]float32{1}, 1); !errors.Is(err, types.ErrDimensionMismatch) {
		t.Errorf("Search: expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFlatInfo(t *testing.T) {
	idx, _ := NewFlat(3, distance.Float16)
	_, _ = idx.Add(unit(3, 2))
	info := idx.Info()
	if info.Dimension != 3 || info.Precision != distance.Float16 || info.VectorCount != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.Metric != distance.InnerProduct || info.Backend != distance.Backend() {
		t.Errorf("info = %+v", info)
	}
}

func TestFlatRemoveAtShiftsPositions(t *testing.T) {
	idx, _ := NewFlat(3, distance.Float32)
	for axis := 0; axis < 3; axis++ {
		_, _ = idx.Add(unit(3, axis))
	}
	if err := idx.RemoveAt(0); err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 vectors, got %d", idx.Len())
	}
	res, _ := idx.Search(unit(3, 1), 1)
	if len(res) != 1 || res[0].Position != 0 || res[0].Score != 1 {
		t.Errorf("position 0 should now hold the former position 1, got %v", res)
	}
	if err := idx.RemoveAt(5); err == nil {
		t.Error("expected out of range error")
	}
}

func TestFlatSerialization(t *testing.T) {
	for _, p := range []distance.PrecisionType{distance.Float32, distance.Float16} {
		t.Run(string(p), func(t *testing.T) {
			src, _ := NewFlat(4, p)
			_, _ = src.Add([]float32{1, 0, 0, 0})
			_, _ = src.Add([]float32{0, 0.5, 0.5, 0})

			var buf bytes.Buffer
			if err := src.WriteIndex(&buf, 42); err != nil {
				t.Fatal(err)
			}

			dst, _ := NewFlat(4, p)
			gen, n, err := dst.ReadIndex(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if gen != 42 || n != 2 || dst.Len() != 2 {
				t.Fatalf("gen=%d n=%d len=%d", gen, n, dst.Len())
			}
			res, _ := dst.Search([]float32{0, 1, 0, 0}, 1)
			if len(res) != 1 || res[0].Position != 1 || res[0].Score != 0.5 {
				t.Errorf("vector not restored: %v", res)
			}
		})
	}

	t.Run("WrongDimension", func(t *testing.T) {
		src, _ := NewFlat(4, distance.Float32)
		var buf bytes.Buffer
		_ = src.WriteIndex(&buf, 1)
		dst, _ := NewFlat(8, distance.Float32)
		if _, _, err := dst.ReadIndex(&buf); !errors.Is(err, types.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("TruncatedKeepsContents", func(t *testing.T) {
		src, _ := NewFlat(2, distance.Float32)
		_, _ = src.Add([]float32{1, 0})
		var buf bytes.Buffer
		_ = src.WriteIndex(&buf, 1)
		data := buf.Bytes()[:buf.Len()-2]

		dst, _ := NewFlat(2, distance.Float32)
		_, _ = dst.Add([]float32{0, 1})
		if _, _, err := dst.ReadIndex(bytes.NewReader(data)); err == nil {
			t.Fatal("expected error for truncated artifact")
		}
		if dst.Len() != 1 {
			t.Error("failed load must not replace contents")
		}
	})
}
