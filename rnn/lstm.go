package rnn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LSTMCell is the Long Short-Term Memory recurrence.
type LSTMCell struct{}

func (LSTMCell) Gates() int { return 4 }

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// StepForward computes one LSTM timestep:
//
//	a      = x*Wx + prevH*Wh + b
//	i,f,o  = sigmoid of the first three H-wide blocks of a
//	g      = tanh of the last block
//	nextC  = f.*prevC + i.*g
//	nextH  = o.*tanh(nextC)
func (c LSTMCell) StepForward(x, prevH, prevC *mat.Dense, w Weights) (*mat.Dense, *mat.Dense, *StepCache) {
	n, _, h := checkStepShapes(x, prevH, w, c.Gates())
	if cr, cc := prevC.Dims(); cr != n || cc != h {
		panic(fmt.Sprintf("rnn: prevC is %dx%d, want %dx%d", cr, cc, n, h))
	}

	var a, ah mat.Dense
	a.Mul(x, w.Wx)
	ah.Mul(prevH, w.Wh)
	a.Add(&a, &ah)

	ig := mat.NewDense(n, h, nil)
	fg := mat.NewDense(n, h, nil)
	og := mat.NewDense(n, h, nil)
	gg := mat.NewDense(n, h, nil)
	nextC := mat.NewDense(n, h, nil)
	nextH := mat.NewDense(n, h, nil)

	for r := 0; r < n; r++ {
		for j := 0; j < h; j++ {
			iv := sigmoid(a.At(r, j) + w.B.At(0, j))
			fv := sigmoid(a.At(r, h+j) + w.B.At(0, h+j))
			ov := sigmoid(a.At(r, 2*h+j) + w.B.At(0, 2*h+j))
			gv := math.Tanh(a.At(r, 3*h+j) + w.B.At(0, 3*h+j))
			cv := fv*prevC.At(r, j) + iv*gv
			ig.Set(r, j, iv)
			fg.Set(r, j, fv)
			og.Set(r, j, ov)
			gg.Set(r, j, gv)
			nextC.Set(r, j, cv)
			nextH.Set(r, j, ov*math.Tanh(cv))
		}
	}

	cache := &StepCache{
		w: w, x: x, prevH: prevH, prevC: prevC,
		i: ig, f: fg, o: og, g: gg, nextC: nextC,
	}
	return nextH, nextC, cache
}

// StepBackward runs the chain rule through the gates. dNextC may be nil when
// no gradient reaches the cell state directly, as at the top timestep of a
// sequence backward.
func (LSTMCell) StepBackward(dNextH, dNextC *mat.Dense, cache *StepCache) (*mat.Dense, *mat.Dense, *mat.Dense, Weights) {
	n, h := cache.i.Dims()
	if r, c := dNextH.Dims(); r != n || c != h {
		panic(fmt.Sprintf("rnn: dNextH is %dx%d, want %dx%d", r, c, n, h))
	}

	// dA gathers pre-activation gradients in gate order; dPrevC only sees
	// the forget-gate product path.
	dA := mat.NewDense(n, 4*h, nil)
	dPrevC := mat.NewDense(n, h, nil)
	for r := 0; r < n; r++ {
		for j := 0; j < h; j++ {
			iv := cache.i.At(r, j)
			fv := cache.f.At(r, j)
			ov := cache.o.At(r, j)
			gv := cache.g.At(r, j)
			tc := math.Tanh(cache.nextC.At(r, j))

			dh := dNextH.At(r, j)
			dc := dh * ov * (1 - tc*tc)
			if dNextC != nil {
				dc += dNextC.At(r, j)
			}

			dA.Set(r, j, dc*gv*iv*(1-iv))
			dA.Set(r, h+j, dc*cache.prevC.At(r, j)*fv*(1-fv))
			dA.Set(r, 2*h+j, dh*tc*ov*(1-ov))
			dA.Set(r, 3*h+j, dc*iv*(1-gv*gv))
			dPrevC.Set(r, j, dc*fv)
		}
	}

	dx, dPrevH, dw := preActGrads(dA, cache)
	return dx, dPrevH, dPrevC, dw
}

// preActGrads maps a pre-activation gradient dA (N x G*H) onto the step
// inputs and weights. Shared with the vanilla cell.
func preActGrads(dA *mat.Dense, cache *StepCache) (*mat.Dense, *mat.Dense, Weights) {
	var dx, dPrevH, dWx, dWh mat.Dense
	dx.Mul(dA, cache.w.Wx.T())
	dPrevH.Mul(dA, cache.w.Wh.T())
	dWx.Mul(cache.x.T(), dA)
	dWh.Mul(cache.prevH.T(), dA)

	n, m := dA.Dims()
	db := mat.NewDense(1, m, nil)
	for j := 0; j < m; j++ {
		s := 0.0
		for r := 0; r < n; r++ {
			s += dA.At(r, j)
		}
		db.Set(0, j, s)
	}

	dw := Weights{Wx: &dWx, Wh: &dWh, B: db}
	return &dx, &dPrevH, dw
}
