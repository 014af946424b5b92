package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLinspace(t *testing.T) {
	got := Linspace(-0.4, 1.2, 5)
	want := []float64{-0.4, 0.0, 0.4, 0.8, 1.2}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("Linspace[%d] = %g, want %g", i, got[i], want[i])
		}
	}
	if one := Linspace(3, 7, 1); one[0] != 3 {
		t.Errorf("Linspace with n=1 = %g, want 3", one[0])
	}
}

func TestRowArgmax(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 5, 2, -3, -1, -2})
	if got := RowArgmax(m, 0); got != 1 {
		t.Errorf("RowArgmax row 0 = %d, want 1", got)
	}
	if got := RowArgmax(m, 1); got != 1 {
		t.Errorf("RowArgmax row 1 = %d, want 1", got)
	}
}

func TestClipGrads(t *testing.T) {
	g1 := mat.NewDense(1, 2, []float64{3, 0})
	g2 := mat.NewDense(1, 2, []float64{0, 4})
	// combined norm is 5; clip to 1
	s := ClipGrads(1.0, g1, g2)
	if math.Abs(s-0.2) > 1e-12 {
		t.Errorf("clip scale = %g, want 0.2", s)
	}
	if math.Abs(g1.At(0, 0)-0.6) > 1e-12 || math.Abs(g2.At(0, 1)-0.8) > 1e-12 {
		t.Errorf("grads not scaled: %g, %g", g1.At(0, 0), g2.At(0, 1))
	}

	// under the limit nothing changes
	g3 := mat.NewDense(1, 1, []float64{0.5})
	if s := ClipGrads(10, g3); s != 1.0 || g3.At(0, 0) != 0.5 {
		t.Errorf("unnecessary clip: scale %g value %g", s, g3.At(0, 0))
	}
}

func TestNumericalGradient(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{1, -2, 0.5, 3, -0.25, 2})
	// f = 0.5 * sum(x^2), so df/dx = x
	f := func() float64 {
		s := 0.0
		r, c := x.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				s += x.At(i, j) * x.At(i, j)
			}
		}
		return 0.5 * s
	}
	orig := mat.DenseCopyOf(x)
	grad := NumericalGradient(f, x)
	if e := MaxRelError(grad, x); e > 1e-8 {
		t.Errorf("gradient of 0.5*sum(x^2) should be x; rel error %.3g", e)
	}
	if !mat.Equal(x, orig) {
		t.Error("NumericalGradient did not restore x")
	}
}
