package distance

import (
	"math"
	"math/rand"
	"testing"
)

func floatsAreEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func TestImplementations(t *testing.T) {
	t.Run("InnerProductF32", func(t *testing.T) {
		fn, err := GetFloat32Func(InnerProduct)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := fn([]float32{1, 2, 3}, []float32{4, 5, 6})
		if !floatsAreEqual(got, 32, 1e-6) {
			t.Errorf("got %f, want 32", got)
		}
	})

	t.Run("CosineF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		got, _ := fn([]float32{1, 0}, []float32{5, 0})
		if !floatsAreEqual(got, 1, 1e-6) {
			t.Errorf("got %f, want 1", got)
		}
		got, _ = fn([]float32{1, 0}, []float32{0, 0})
		if got != 0 {
			t.Errorf("zero operand: got %f, want 0", got)
		}
	})

	t.Run("InnerProductF16", func(t *testing.T) {
		fn, err := GetFloat16Func(InnerProduct)
		if err != nil {
			t.Fatal(err)
		}
		a := ToFloat16([]float32{0.5, 0.25, -1})
		b := ToFloat16([]float32{2, 4, 1})
		got, _ := fn(a, b)
		if !floatsAreEqual(got, 1, 1e-3) {
			t.Errorf("got %f, want 1", got)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		fn, _ := GetFloat32Func(InnerProduct)
		if _, err := fn([]float32{1}, []float32{1, 2}); err == nil {
			t.Error("expected error for mismatched lengths")
		}
	})

	t.Run("UnsupportedMetric", func(t *testing.T) {
		if _, err := GetFloat16Func(Cosine); err == nil {
			t.Error("expected error for cosine on float16")
		}
	})
}

func TestKernelsAgree(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, dim := range []int{1, 3, 17, 128, 3072} {
		a, b := randomVector(r, dim), randomVector(r, dim)
		ref, _ := dotGo(a, b)
		fast, _ := dotGonum(a, b)
		if !floatsAreEqual(ref, fast, 1e-3) {
			t.Errorf("dim %d: pure-go %f vs gonum %f", dim, ref, fast)
		}

		ha, hb := ToFloat16(a), ToFloat16(b)
		h1, _ := dotGoFloat16(ha, hb)
		h2, _ := dotF16Widened(ha, hb)
		if !floatsAreEqual(h1, h2, 1e-3) {
			t.Errorf("dim %d: float16 scalar %f vs widened %f", dim, h1, h2)
		}
	}
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	norm := Normalize(v)
	if !floatsAreEqual(norm, 5, 1e-9) {
		t.Fatalf("norm = %f, want 5", norm)
	}
	if !floatsAreEqual(Norm(v), 1, 1e-6) {
		t.Errorf("normalized vector has norm %f", Norm(v))
	}

	zero := []float32{0, 0, 0}
	if Normalize(zero) != 0 {
		t.Error("zero vector should report norm 0")
	}
	for _, x := range zero {
		if x != 0 {
			t.Fatal("zero vector must stay zero")
		}
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 0.125}
	out := widenInto(nil, ToFloat16(in))
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("index %d: got %f, want %f", i, out[i], in[i])
		}
	}
}
