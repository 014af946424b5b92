package rnn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SeqCache is the per-timestep record list a Forward pass leaves behind,
// pre-sized to the sequence length and indexed by timestep.
type SeqCache struct {
	cell  Cell
	steps []*StepCache
	n, h  int
}

// Forward unrolls cell over the T timesteps of x, carrying hidden and cell
// state. x[t] is the (N x D) input at timestep t; h0 is the (N x H) initial
// hidden state. The initial cell state is implicitly zero. Returns the hidden
// state at every timestep plus the cache Backward consumes.
//
// Timesteps are processed strictly in order; each depends on the previous.
func Forward(cell Cell, x []*mat.Dense, h0 *mat.Dense, w Weights) ([]*mat.Dense, *SeqCache) {
	t := len(x)
	if t == 0 {
		panic("rnn: empty input sequence")
	}
	n, hdim := h0.Dims()

	cache := &SeqCache{cell: cell, steps: make([]*StepCache, t), n: n, h: hdim}
	h := make([]*mat.Dense, t)

	prevH := h0
	prevC := mat.NewDense(n, hdim, nil)
	for i := 0; i < t; i++ {
		prevH, prevC, cache.steps[i] = cell.StepForward(x[i], prevH, prevC, w)
		h[i] = prevH
	}
	return h, cache
}

// Backward consumes the cache from Forward in strict reverse timestep order.
// dh[t] is the loss gradient with respect to the hidden state output at step
// t. The upstream hidden gradient fed into step t is dh[t] plus the dPrevH
// carried from step t+1; the cell-state gradient is carried only (nothing
// external reaches it). Weight gradients accumulate across timesteps because
// the weights are shared.
func Backward(dh []*mat.Dense, cache *SeqCache) (dx []*mat.Dense, dh0 *mat.Dense, dw Weights) {
	t := len(cache.steps)
	if len(dh) != t {
		panic(fmt.Sprintf("rnn: got %d upstream gradients for %d timesteps", len(dh), t))
	}

	w := cache.steps[0].w
	dw = Weights{
		Wx: mat.NewDense(w.Wx.RawMatrix().Rows, w.Wx.RawMatrix().Cols, nil),
		Wh: mat.NewDense(w.Wh.RawMatrix().Rows, w.Wh.RawMatrix().Cols, nil),
		B:  mat.NewDense(1, w.B.RawMatrix().Cols, nil),
	}

	dx = make([]*mat.Dense, t)
	var carryH, carryC *mat.Dense
	for i := t - 1; i >= 0; i-- {
		dNextH := mat.DenseCopyOf(dh[i])
		if carryH != nil {
			dNextH.Add(dNextH, carryH)
		}

		var stepW Weights
		dx[i], carryH, carryC, stepW = cache.cell.StepBackward(dNextH, carryC, cache.steps[i])

		floats.Add(dw.Wx.RawMatrix().Data, stepW.Wx.RawMatrix().Data)
		floats.Add(dw.Wh.RawMatrix().Data, stepW.Wh.RawMatrix().Data)
		floats.Add(dw.B.RawMatrix().Data, stepW.B.RawMatrix().Data)
	}
	return dx, carryH, dw
}
