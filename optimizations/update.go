// Package optimizations provides the first-order update rules the solver
// applies between forward/backward passes. Every rule updates the parameter
// in place from its gradient and a per-parameter State; nothing here touches
// the recurrence itself.
package optimizations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config carries the hyperparameters shared by all rules. Fields a rule does
// not use are ignored.
type Config struct {
	LearningRate float64
	Momentum     float64 // sgd_momentum
	DecayRate    float64 // rmsprop
	Beta1, Beta2 float64 // adam
	Epsilon      float64 // rmsprop, adam
}

// State is the per-parameter optimizer memory: M doubles as the momentum
// buffer (sgd_momentum), the squared-gradient cache (rmsprop) and Adam's
// first moment; V and T are only used by Adam.
type State struct {
	M, V *mat.Dense
	T    int
}

// NewState allocates zeroed state shaped like p.
func NewState(p *mat.Dense) *State {
	r, c := p.Dims()
	return &State{M: mat.NewDense(r, c, nil), V: mat.NewDense(r, c, nil)}
}

// Rule is one update step: mutate p in place given its gradient.
type Rule func(p, g *mat.Dense, st *State, cfg Config)

// ByName resolves an update rule from its config name.
func ByName(name string) (Rule, error) {
	switch name {
	case "sgd":
		return SGD, nil
	case "sgd_momentum":
		return SGDMomentum, nil
	case "rmsprop":
		return RMSProp, nil
	case "adam":
		return Adam, nil
	}
	return nil, fmt.Errorf("optimizations: unknown update rule %q", name)
}

func checkShapes(p, g *mat.Dense, st *State) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("optimizations: grad shape mismatch")
	}
	if st != nil {
		if mr, mc := st.M.Dims(); mr != pr || mc != pc {
			panic("optimizations: state shape mismatch")
		}
	}
}

// SGD: p -= lr * g.
func SGD(p, g *mat.Dense, _ *State, cfg Config) {
	checkShapes(p, g, nil)
	floats.AddScaled(p.RawMatrix().Data, -cfg.LearningRate, g.RawMatrix().Data)
}

// SGDMomentum: v = mu*v - lr*g; p += v.
func SGDMomentum(p, g *mat.Dense, st *State, cfg Config) {
	checkShapes(p, g, st)
	v := st.M.RawMatrix().Data
	floats.Scale(cfg.Momentum, v)
	floats.AddScaled(v, -cfg.LearningRate, g.RawMatrix().Data)
	floats.Add(p.RawMatrix().Data, v)
}

// RMSProp: cache = decay*cache + (1-decay)*g^2; p -= lr*g/(sqrt(cache)+eps).
func RMSProp(p, g *mat.Dense, st *State, cfg Config) {
	checkShapes(p, g, st)
	pr, pc := p.Dims()
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			cij := cfg.DecayRate*st.M.At(i, j) + (1.0-cfg.DecayRate)*gij*gij
			st.M.Set(i, j, cij)
			p.Set(i, j, p.At(i, j)-cfg.LearningRate*gij/(math.Sqrt(cij)+cfg.Epsilon))
		}
	}
}

// Adam: p -= lr * mhat / (sqrt(vhat)+eps) with bias correction.
func Adam(p, g *mat.Dense, st *State, cfg Config) {
	checkShapes(p, g, st)
	st.T++
	b1t := math.Pow(cfg.Beta1, float64(st.T))
	b2t := math.Pow(cfg.Beta2, float64(st.T))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	pr, pc := p.Dims()
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := cfg.Beta1*st.M.At(i, j) + (1.0-cfg.Beta1)*gij
			vij := cfg.Beta2*st.V.At(i, j) + (1.0-cfg.Beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			st.M.Set(i, j, mij)
			st.V.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-cfg.LearningRate*mhat/(math.Sqrt(vhat)+cfg.Epsilon))
		}
	}
}
