package captioning

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Stateless layers gluing the recurrence into the caption loss: word
// embedding lookup, the affine output projection and the masked temporal
// softmax cross-entropy.

// embedTokens maps one timestep of token ids to their embedding rows,
// producing an (N x W) matrix. An out-of-range id is a caller bug.
func embedTokens(wEmbed *mat.Dense, ids []int) *mat.Dense {
	v, w := wEmbed.Dims()
	out := mat.NewDense(len(ids), w, nil)
	for r, id := range ids {
		if id < 0 || id >= v {
			panic(fmt.Sprintf("captioning: token id %d outside vocabulary of size %d", id, v))
		}
		for j := 0; j < w; j++ {
			out.Set(r, j, wEmbed.At(id, j))
		}
	}
	return out
}

// scatterEmbeddingGrad adds each row of dx into the embedding-gradient row of
// the token that produced it. Repeated tokens accumulate.
func scatterEmbeddingGrad(dWEmbed, dx *mat.Dense, ids []int) {
	_, w := dWEmbed.Dims()
	for r, id := range ids {
		for j := 0; j < w; j++ {
			dWEmbed.Set(id, j, dWEmbed.At(id, j)+dx.At(r, j))
		}
	}
}

// affineForward computes x*w + b with b broadcast across rows.
func affineForward(x, w, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(x, w)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)+b.At(0, j))
		}
	}
	return &out
}

func colSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		s := 0.0
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		out.Set(0, j, s)
	}
	return out
}

// temporalSoftmaxLoss scores a whole unrolled sequence. scores[t] holds the
// (N x V) vocabulary logits at timestep t and targets[r][t] the ground-truth
// next token. Positions whose target equals null are masked: they contribute
// exactly zero loss and zero gradient. The summed loss is divided by the
// batch size N.
func temporalSoftmaxLoss(scores []*mat.Dense, targets [][]int, null int) (float64, []*mat.Dense) {
	n := len(targets)
	loss := 0.0
	dscores := make([]*mat.Dense, len(scores))

	for t, sc := range scores {
		rows, v := sc.Dims()
		if rows != n {
			panic(fmt.Sprintf("captioning: %d score rows for %d captions", rows, n))
		}
		ds := mat.NewDense(rows, v, nil)
		for r := 0; r < rows; r++ {
			y := targets[r][t]
			if y == null {
				continue // masked: row of ds stays zero
			}
			// stable softmax over the row
			mx := sc.At(r, 0)
			for j := 1; j < v; j++ {
				if sv := sc.At(r, j); sv > mx {
					mx = sv
				}
			}
			sum := 0.0
			for j := 0; j < v; j++ {
				e := math.Exp(sc.At(r, j) - mx)
				ds.Set(r, j, e)
				sum += e
			}
			for j := 0; j < v; j++ {
				ds.Set(r, j, ds.At(r, j)/sum/float64(n))
			}
			loss -= sc.At(r, y) - mx - math.Log(sum)
			ds.Set(r, y, ds.At(r, y)-1.0/float64(n))
		}
		dscores[t] = ds
	}
	return loss / float64(n), dscores
}
