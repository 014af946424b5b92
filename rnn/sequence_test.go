package rnn

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/xlnwel/cs231n/utils"
)

// linSeq fills an (N, T, D) input with linearly spaced values in row-major
// order and returns it as a T-slice of (N x D) matrices.
func linSeq(lo, hi float64, n, tt, d int) []*mat.Dense {
	flat := utils.Linspace(lo, hi, n*tt*d)
	x := make([]*mat.Dense, tt)
	for t := 0; t < tt; t++ {
		m := mat.NewDense(n, d, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < d; j++ {
				m.Set(i, j, flat[(i*tt+t)*d+j])
			}
		}
		x[t] = m
	}
	return x
}

func TestLSTMSequenceForward(t *testing.T) {
	n, d, h, tt := 2, 5, 4, 3
	x := linSeq(-0.4, 0.6, n, tt, d)
	h0 := linMat(-0.4, 0.8, n, h)
	w := Weights{
		Wx: linMat(-0.2, 0.9, d, 4*h),
		Wh: linMat(-0.3, 0.6, h, 4*h),
		B:  linMat(0.2, 0.7, 1, 4*h),
	}

	hs, _ := Forward(LSTMCell{}, x, h0, w)

	// spot checks against the reference recurrence, indexed (n, t, h)
	checks := []struct {
		n, t, j int
		want    float64
	}{
		{0, 0, 0, 0.01764008},
		{0, 0, 3, 0.01942320},
		{1, 2, 3, 0.86935314},
		{1, 2, 0, 0.81733511},
	}
	for _, c := range checks {
		if got := hs[c.t].At(c.n, c.j); utils.RelError(got, c.want) > 1e-6 {
			t.Errorf("h[%d,%d,%d] = %.8f, want %.8f", c.n, c.t, c.j, got, c.want)
		}
	}
}

func seqLoss(cell Cell, x []*mat.Dense, h0 *mat.Dense, w Weights, r []*mat.Dense) float64 {
	hs, _ := Forward(cell, x, h0, w)
	s := 0.0
	for t := range hs {
		s += weightedSum(hs[t], r[t])
	}
	return s
}

func TestLSTMSequenceBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(271))
	n, d, h, tt := 2, 3, 5, 4
	x := make([]*mat.Dense, tt)
	dh := make([]*mat.Dense, tt)
	for i := range x {
		x[i] = randMat(rng, n, d)
		dh[i] = randMat(rng, n, h)
	}
	h0 := randMat(rng, n, h)
	w := Weights{
		Wx: randMat(rng, d, 4*h),
		Wh: randMat(rng, h, 4*h),
		B:  randMat(rng, 1, 4*h),
	}

	forward := func() float64 { return seqLoss(LSTMCell{}, x, h0, w, dh) }

	_, cache := Forward(LSTMCell{}, x, h0, w)
	dx, dh0, dw := Backward(dh, cache)

	checks := []struct {
		name     string
		analytic *mat.Dense
		param    *mat.Dense
		tol      float64
	}{
		{"dx[0]", dx[0], x[0], 1e-6},
		{"dx[2]", dx[2], x[2], 1e-6},
		{"dh0", dh0, h0, 1e-6},
		{"dWx", dw.Wx, w.Wx, 1e-6},
		{"dWh", dw.Wh, w.Wh, 1e-5},
		{"db", dw.B, w.B, 1e-6},
	}
	for _, c := range checks {
		num := utils.NumericalGradient(forward, c.param)
		if e := utils.MaxRelError(c.analytic, num); e > c.tol {
			t.Errorf("%s rel error %.3g exceeds %.0e", c.name, e, c.tol)
		}
	}
}

// Weight gradients of the unrolled sequence must equal the sum of the
// per-timestep contributions, since the weights are shared across time.
func TestSequenceWeightGradAccumulation(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	n, d, h, tt := 2, 3, 4, 3
	x := make([]*mat.Dense, tt)
	dh := make([]*mat.Dense, tt)
	for i := range x {
		x[i] = randMat(rng, n, d)
		dh[i] = randMat(rng, n, h)
	}
	h0 := randMat(rng, n, h)
	w := Weights{
		Wx: randMat(rng, d, 4*h),
		Wh: randMat(rng, h, 4*h),
		B:  randMat(rng, 1, 4*h),
	}

	_, cache := Forward(LSTMCell{}, x, h0, w)
	_, _, dw := Backward(dh, cache)

	// replay the backward manually, summing per-step weight grads
	sumWx := utils.ZerosLike(w.Wx)
	sumWh := utils.ZerosLike(w.Wh)
	sumB := utils.ZerosLike(w.B)
	var carryH, carryC *mat.Dense
	for i := tt - 1; i >= 0; i-- {
		dNextH := mat.DenseCopyOf(dh[i])
		if carryH != nil {
			dNextH.Add(dNextH, carryH)
		}
		var stepW Weights
		_, carryH, carryC, stepW = LSTMCell{}.StepBackward(dNextH, carryC, cache.steps[i])
		sumWx.Add(sumWx, stepW.Wx)
		sumWh.Add(sumWh, stepW.Wh)
		sumB.Add(sumB, stepW.B)
	}

	if e := utils.MaxRelError(dw.Wx, sumWx); e > 1e-12 {
		t.Errorf("dWx does not equal summed per-step grads (rel error %.3g)", e)
	}
	if e := utils.MaxRelError(dw.Wh, sumWh); e > 1e-12 {
		t.Errorf("dWh does not equal summed per-step grads (rel error %.3g)", e)
	}
	if e := utils.MaxRelError(dw.B, sumB); e > 1e-12 {
		t.Errorf("db does not equal summed per-step grads (rel error %.3g)", e)
	}
}

func TestVanillaSequenceBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(137))
	n, d, h, tt := 2, 4, 3, 3
	x := make([]*mat.Dense, tt)
	dh := make([]*mat.Dense, tt)
	for i := range x {
		x[i] = randMat(rng, n, d)
		dh[i] = randMat(rng, n, h)
	}
	h0 := randMat(rng, n, h)
	w := Weights{
		Wx: randMat(rng, d, h),
		Wh: randMat(rng, h, h),
		B:  randMat(rng, 1, h),
	}

	forward := func() float64 { return seqLoss(VanillaCell{}, x, h0, w, dh) }

	_, cache := Forward(VanillaCell{}, x, h0, w)
	dx, dh0, dw := Backward(dh, cache)

	checks := []struct {
		name     string
		analytic *mat.Dense
		param    *mat.Dense
		tol      float64
	}{
		{"dx[1]", dx[1], x[1], 1e-6},
		{"dh0", dh0, h0, 1e-6},
		{"dWx", dw.Wx, w.Wx, 1e-6},
		{"dWh", dw.Wh, w.Wh, 1e-5},
		{"db", dw.B, w.B, 1e-6},
	}
	for _, c := range checks {
		num := utils.NumericalGradient(forward, c.param)
		if e := utils.MaxRelError(c.analytic, num); e > c.tol {
			t.Errorf("%s rel error %.3g exceeds %.0e", c.name, e, c.tol)
		}
	}
}
