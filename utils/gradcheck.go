package utils

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Numeric gradient checking, used by tests to validate the analytic backward
// passes against central differences.

var gradSettings = fd.Settings{Formula: fd.Central, Step: 1e-5}

// NumericalGradient computes the central-difference gradient of f with
// respect to every element of x. f must read x each time it is called; x is
// perturbed in place and restored before returning. x must be a contiguous
// Dense (no submatrix views).
func NumericalGradient(f func() float64, x *mat.Dense) *mat.Dense {
	raw := x.RawMatrix()
	if raw.Stride != raw.Cols {
		panic("NumericalGradient: x must be contiguous")
	}
	orig := append([]float64(nil), raw.Data...)
	grad := make([]float64, len(raw.Data))
	fd.Gradient(grad, func(v []float64) float64 {
		copy(raw.Data, v)
		return f()
	}, orig, &gradSettings)
	copy(raw.Data, orig)
	return mat.NewDense(raw.Rows, raw.Cols, grad)
}

// MaxRelError returns max |a-b| / max(1e-8, |a|+|b|) over all elements.
func MaxRelError(a, b *mat.Dense) float64 {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic("MaxRelError: shape mismatch")
	}
	worst := 0.0
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			av, bv := a.At(i, j), b.At(i, j)
			den := math.Abs(av) + math.Abs(bv)
			if den < 1e-8 {
				den = 1e-8
			}
			if e := math.Abs(av-bv) / den; e > worst {
				worst = e
			}
		}
	}
	return worst
}

// RelError is the scalar version of MaxRelError.
func RelError(a, b float64) float64 {
	den := math.Abs(a) + math.Abs(b)
	if den < 1e-8 {
		den = 1e-8
	}
	return math.Abs(a-b) / den
}
