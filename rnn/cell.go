// Package rnn implements the recurrence core used by the captioning model:
// single-timestep LSTM and vanilla RNN cells with analytic backward passes,
// and a sequence runner that unrolls a cell across time.
//
// Gate blocks in the LSTM activation vector are laid out input | forget |
// output | block-input, each hiddenDim wide; forward and backward index the
// blocks identically.
package rnn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Weights is the shared recurrence parameter bundle: Wx (D x G*H),
// Wh (H x G*H) and B (1 x G*H), where G is Cell.Gates(). The same struct
// carries gradients on the way back.
type Weights struct {
	Wx *mat.Dense
	Wh *mat.Dense
	B  *mat.Dense
}

// Cell is the recurrence variant driven by the sequence runner. It is picked
// once at model construction; the runner never branches on the concrete type.
//
// StepForward is pure: the returned cache holds everything the matching
// StepBackward call needs, and each cache is consumed by exactly one backward
// call. StepBackward accepts a nil dNextC, meaning no gradient flows into the
// cell state from above (the top step of a full-sequence backward).
type Cell interface {
	// Gates is the number of H-wide blocks in the pre-activation vector:
	// 4 for the LSTM, 1 for the vanilla RNN.
	Gates() int

	StepForward(x, prevH, prevC *mat.Dense, w Weights) (nextH, nextC *mat.Dense, cache *StepCache)

	StepBackward(dNextH, dNextC *mat.Dense, cache *StepCache) (dx, dPrevH, dPrevC *mat.Dense, dw Weights)
}

// StepCache is the opaque per-timestep record a forward step leaves behind.
type StepCache struct {
	w            Weights
	x            *mat.Dense
	prevH, prevC *mat.Dense

	// LSTM intermediates
	i, f, o, g *mat.Dense
	nextC      *mat.Dense

	// vanilla intermediate
	nextH *mat.Dense
}

// New returns the cell for cellType ("lstm" or "rnn").
func New(cellType string) (Cell, error) {
	switch cellType {
	case "lstm":
		return LSTMCell{}, nil
	case "rnn":
		return VanillaCell{}, nil
	}
	return nil, fmt.Errorf("rnn: unknown cell type %q", cellType)
}

// checkStepShapes panics unless x (N x D), prevH (N x H) and the weight
// matrices agree. Shape mismatch is a caller bug, not a recoverable error.
func checkStepShapes(x, prevH *mat.Dense, w Weights, gates int) (n, d, h int) {
	n, d = x.Dims()
	pn, h := prevH.Dims()
	if pn != n {
		panic(fmt.Sprintf("rnn: x has %d rows but prevH has %d", n, pn))
	}
	wr, wc := w.Wx.Dims()
	if wr != d || wc != gates*h {
		panic(fmt.Sprintf("rnn: Wx is %dx%d, want %dx%d", wr, wc, d, gates*h))
	}
	hr, hc := w.Wh.Dims()
	if hr != h || hc != gates*h {
		panic(fmt.Sprintf("rnn: Wh is %dx%d, want %dx%d", hr, hc, h, gates*h))
	}
	br, bc := w.B.Dims()
	if br != 1 || bc != gates*h {
		panic(fmt.Sprintf("rnn: b is %dx%d, want 1x%d", br, bc, gates*h))
	}
	return n, d, h
}
