package rnn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VanillaCell is the plain tanh recurrence: nextH = tanh(x*Wx + prevH*Wh + b).
// It has no cell state; prevC passes through unchanged so the sequence runner
// can drive it with the same plumbing as the LSTM.
type VanillaCell struct{}

func (VanillaCell) Gates() int { return 1 }

func (c VanillaCell) StepForward(x, prevH, prevC *mat.Dense, w Weights) (*mat.Dense, *mat.Dense, *StepCache) {
	n, _, h := checkStepShapes(x, prevH, w, c.Gates())

	var a, ah mat.Dense
	a.Mul(x, w.Wx)
	ah.Mul(prevH, w.Wh)
	a.Add(&a, &ah)

	nextH := mat.NewDense(n, h, nil)
	for r := 0; r < n; r++ {
		for j := 0; j < h; j++ {
			nextH.Set(r, j, math.Tanh(a.At(r, j)+w.B.At(0, j)))
		}
	}

	cache := &StepCache{w: w, x: x, prevH: prevH, prevC: prevC, nextH: nextH}
	return nextH, prevC, cache
}

func (VanillaCell) StepBackward(dNextH, dNextC *mat.Dense, cache *StepCache) (*mat.Dense, *mat.Dense, *mat.Dense, Weights) {
	n, h := cache.nextH.Dims()
	dA := mat.NewDense(n, h, nil)
	for r := 0; r < n; r++ {
		for j := 0; j < h; j++ {
			hv := cache.nextH.At(r, j)
			dA.Set(r, j, dNextH.At(r, j)*(1-hv*hv))
		}
	}
	dx, dPrevH, dw := preActGrads(dA, cache)
	// cell state is an identity pass-through here
	return dx, dPrevH, dNextC, dw
}
