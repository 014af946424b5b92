// Package captioning implements an image-caption generator: image features
// are projected into the initial hidden state of a recurrent cell, caption
// tokens are embedded and run through the recurrence, and hidden states are
// projected to vocabulary logits under a masked softmax cross-entropy.
package captioning

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/xlnwel/cs231n/rnn"
	"github.com/xlnwel/cs231n/utils"
)

// Sentinel tokens the vocabulary is expected to carry. <START> and <END> are
// only needed for sampling; <NULL> pads captions and masks the loss.
const (
	NullToken  = "<NULL>"
	StartToken = "<START>"
	EndToken   = "<END>"
)

// Params is the full parameter bundle. It is read-only during a forward pass;
// only the optimizer writes to it, between iterations.
type Params struct {
	WEmbed *mat.Dense // vocab x wordvec
	WProj  *mat.Dense // featureDim x hidden
	BProj  *mat.Dense // 1 x hidden
	Wx     *mat.Dense // wordvec x gates*hidden
	Wh     *mat.Dense // hidden x gates*hidden
	B      *mat.Dense // 1 x gates*hidden
	WVocab *mat.Dense // hidden x vocab
	BVocab *mat.Dense // 1 x vocab
}

// Map exposes the parameters by name, in the naming the gradient map uses.
func (p *Params) Map() map[string]*mat.Dense {
	return map[string]*mat.Dense{
		"W_embed": p.WEmbed,
		"W_proj":  p.WProj,
		"b_proj":  p.BProj,
		"Wx":      p.Wx,
		"Wh":      p.Wh,
		"b":       p.B,
		"W_vocab": p.WVocab,
		"b_vocab": p.BVocab,
	}
}

// Gradients maps parameter names to gradient matrices of matching shape.
type Gradients map[string]*mat.Dense

// Model ties a vocabulary, a recurrence cell and a parameter bundle together.
type Model struct {
	WordToIdx map[string]int
	IdxToWord map[int]string
	CellType  string

	cell             rnn.Cell
	null, start, end int

	P *Params
}

// NewModel builds a captioning model with freshly initialized weights.
// featureDim is the width of the image feature vectors; cellType selects the
// recurrence variant ("lstm" or "rnn") once, here.
func NewModel(wordToIdx map[string]int, featureDim, wordvecDim, hiddenDim int, cellType string, seed int64) (*Model, error) {
	cell, err := rnn.New(cellType)
	if err != nil {
		return nil, err
	}
	null, ok := wordToIdx[NullToken]
	if !ok {
		return nil, fmt.Errorf("captioning: vocabulary has no %s token", NullToken)
	}

	m := &Model{
		WordToIdx: wordToIdx,
		IdxToWord: make(map[int]string, len(wordToIdx)),
		CellType:  cellType,
		cell:      cell,
		null:      null,
		start:     -1,
		end:       -1,
	}
	for w, i := range wordToIdx {
		m.IdxToWord[i] = w
	}
	if i, ok := wordToIdx[StartToken]; ok {
		m.start = i
	}
	if i, ok := wordToIdx[EndToken]; ok {
		m.end = i
	}

	v := len(wordToIdx)
	g := cell.Gates()
	src := rand.NewSource(uint64(seed))
	m.P = &Params{
		WEmbed: randn(v, wordvecDim, 0.01, src),
		WProj:  randn(featureDim, hiddenDim, 1/math.Sqrt(float64(featureDim)), src),
		BProj:  mat.NewDense(1, hiddenDim, nil),
		Wx:     randn(wordvecDim, g*hiddenDim, 1/math.Sqrt(float64(wordvecDim)), src),
		Wh:     randn(hiddenDim, g*hiddenDim, 1/math.Sqrt(float64(hiddenDim)), src),
		B:      mat.NewDense(1, g*hiddenDim, nil),
		WVocab: randn(hiddenDim, v, 1/math.Sqrt(float64(hiddenDim)), src),
		BVocab: mat.NewDense(1, v, nil),
	}
	return m, nil
}

func randn(r, c int, sigma float64, src rand.Source) *mat.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(r, c, data)
}

func (m *Model) weights() rnn.Weights {
	return rnn.Weights{Wx: m.P.Wx, Wh: m.P.Wh, B: m.P.B}
}

// Loss runs the supervised forward and backward pass for a minibatch.
// features is (N x featureDim); captions is N rows of T token ids each,
// padded with <NULL>. The caption minus its last token feeds the recurrence,
// each position predicting the next token; positions whose target is <NULL>
// contribute nothing.
func (m *Model) Loss(features *mat.Dense, captions [][]int) (float64, Gradients) {
	n := len(captions)
	fr, _ := features.Dims()
	if fr != n {
		panic(fmt.Sprintf("captioning: %d feature rows for %d captions", fr, n))
	}
	t := len(captions[0]) - 1
	if t < 1 {
		panic("captioning: captions must have at least two tokens")
	}

	// captions[:, :-1] in, captions[:, 1:] as targets
	capIn := make([][]int, t) // capIn[step][row]
	targets := make([][]int, n)
	for r, c := range captions {
		if len(c) != t+1 {
			panic("captioning: ragged caption batch")
		}
		targets[r] = c[1:]
	}
	for step := 0; step < t; step++ {
		ids := make([]int, n)
		for r := 0; r < n; r++ {
			ids[r] = captions[r][step]
		}
		capIn[step] = ids
	}

	// Initial hidden state is an affine projection of the image features.
	h0 := affineForward(features, m.P.WProj, m.P.BProj)

	x := make([]*mat.Dense, t)
	for step := 0; step < t; step++ {
		x[step] = embedTokens(m.P.WEmbed, capIn[step])
	}

	h, seqCache := rnn.Forward(m.cell, x, h0, m.weights())

	scores := make([]*mat.Dense, t)
	for step := 0; step < t; step++ {
		scores[step] = affineForward(h[step], m.P.WVocab, m.P.BVocab)
	}

	loss, dscores := temporalSoftmaxLoss(scores, targets, m.null)

	// Backward: output projection, recurrence, embeddings, initial projection.
	dWVocab := utils.ZerosLike(m.P.WVocab)
	dBVocab := utils.ZerosLike(m.P.BVocab)
	dh := make([]*mat.Dense, t)
	for step := 0; step < t; step++ {
		var dWv, dht mat.Dense
		dWv.Mul(h[step].T(), dscores[step])
		dWVocab.Add(dWVocab, &dWv)
		dBVocab.Add(dBVocab, colSums(dscores[step]))
		dht.Mul(dscores[step], m.P.WVocab.T())
		dh[step] = &dht
	}

	dx, dh0, dw := rnn.Backward(dh, seqCache)

	dWEmbed := utils.ZerosLike(m.P.WEmbed)
	for step := 0; step < t; step++ {
		scatterEmbeddingGrad(dWEmbed, dx[step], capIn[step])
	}

	var dWProj mat.Dense
	dWProj.Mul(features.T(), dh0)

	grads := Gradients{
		"W_embed": dWEmbed,
		"W_proj":  &dWProj,
		"b_proj":  colSums(dh0),
		"Wx":      dw.Wx,
		"Wh":      dw.Wh,
		"b":       dw.B,
		"W_vocab": dWVocab,
		"b_vocab": dBVocab,
	}
	return loss, grads
}

// Sample greedily decodes captions for a batch of image features. Decoding
// starts from <START>, takes the argmax token at each step and feeds it back
// in, for at most maxLength steps. A sequence that emits the terminator is
// finished and pads the rest of its row with <NULL>; decoding stops early
// once every row is finished. Cell state never leaves this loop.
func (m *Model) Sample(features *mat.Dense, maxLength int) [][]int {
	if m.start < 0 {
		panic(fmt.Sprintf("captioning: vocabulary has no %s token", StartToken))
	}
	stop := m.end
	if stop < 0 {
		stop = m.null
	}

	n, _ := features.Dims()
	_, hdim := m.P.WProj.Dims()
	w := m.weights()

	h := affineForward(features, m.P.WProj, m.P.BProj)
	c := mat.NewDense(n, hdim, nil)

	words := make([]int, n)
	finished := make([]bool, n)
	for r := range words {
		words[r] = m.start
	}

	out := make([][]int, n)
	for r := range out {
		out[r] = make([]int, 0, maxLength)
	}

	for step := 0; step < maxLength; step++ {
		x := embedTokens(m.P.WEmbed, words)
		h, c, _ = m.cell.StepForward(x, h, c, w)
		scores := affineForward(h, m.P.WVocab, m.P.BVocab)

		done := true
		for r := 0; r < n; r++ {
			var tok int
			if finished[r] {
				tok = m.null
			} else {
				tok = utils.RowArgmax(scores, r)
				if tok == stop {
					finished[r] = true
				}
			}
			if !finished[r] {
				done = false
			}
			out[r] = append(out[r], tok)
			words[r] = tok
		}
		if done {
			break
		}
	}
	return out
}

// ParamNames returns the parameter names in a stable order, for callers that
// iterate parameters deterministically.
func (m *Model) ParamNames() []string {
	pm := m.P.Map()
	names := make([]string, 0, len(pm))
	for k := range pm {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
