// Package train drives minibatch training of a captioning model: sample a
// batch, compute loss and gradients, apply the configured update rule, decay
// the learning rate each epoch.
package train

import (
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/xlnwel/cs231n/IO"
	"github.com/xlnwel/cs231n/captioning"
	"github.com/xlnwel/cs231n/optimizations"
	"github.com/xlnwel/cs231n/params"
	"github.com/xlnwel/cs231n/utils"
)

// Solver owns one training run. Optimizer state is per parameter; the model's
// parameter bundle is only written between forward/backward passes.
type Solver struct {
	Model *captioning.Model
	Data  *IO.Dataset
	Cfg   params.TrainingConfig

	LossHistory []float64

	rule   optimizations.Rule
	optCfg optimizations.Config
	states map[string]*optimizations.State
	rng    *rand.Rand
}

// New wires a solver for model on data. The config is copied; later edits to
// the caller's struct have no effect.
func New(model *captioning.Model, data *IO.Dataset, cfg params.TrainingConfig) (*Solver, error) {
	rule, err := optimizations.ByName(cfg.UpdateRule)
	if err != nil {
		return nil, err
	}
	s := &Solver{
		Model: model,
		Data:  data,
		Cfg:   cfg,
		rule:  rule,
		optCfg: optimizations.Config{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			DecayRate:    cfg.DecayRate,
			Beta1:        cfg.AdamBeta1,
			Beta2:        cfg.AdamBeta2,
			Epsilon:      cfg.AdamEps,
		},
		states: make(map[string]*optimizations.State),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for name, p := range model.P.Map() {
		s.states[name] = optimizations.NewState(p)
	}
	return s, nil
}

// Step runs one iteration: minibatch, loss, gradients, parameter update.
// Returns the minibatch loss. NaN from a degenerate config propagates into
// the history untouched.
func (s *Solver) Step() float64 {
	captions, features, _ := IO.SampleMinibatch(s.Data, s.Cfg.BatchSize, s.rng)
	loss, grads := s.Model.Loss(features, captions)
	s.LossHistory = append(s.LossHistory, loss)

	if s.Cfg.GradClip > 0 {
		all := make([]*mat.Dense, 0, len(grads))
		for _, g := range grads {
			all = append(all, g)
		}
		utils.ClipGrads(s.Cfg.GradClip, all...)
	}

	pm := s.Model.P.Map()
	for _, name := range s.Model.ParamNames() {
		s.rule(pm[name], grads[name], s.states[name], s.optCfg)
	}
	return loss
}

// Train runs the full schedule: NumEpochs epochs of one pass worth of
// minibatches each, decaying the learning rate after every epoch and
// checkpointing per config.
func (s *Solver) Train() error {
	perEpoch := s.Data.NumCaptions() / s.Cfg.BatchSize
	if perEpoch < 1 {
		perEpoch = 1
	}
	total := perEpoch * s.Cfg.NumEpochs

	start := time.Now()
	for e := 0; e < s.Cfg.NumEpochs; e++ {
		for i := 0; i < perEpoch; i++ {
			loss := s.Step()
			it := len(s.LossHistory)
			if s.Cfg.PrintEvery > 0 && it%s.Cfg.PrintEvery == 0 {
				fmt.Printf("(Iteration %d / %d) loss: %f\n", it, total, loss)
			}
		}
		s.optCfg.LearningRate *= s.Cfg.LRDecay

		fmt.Printf("Epoch %d/%d done, lr=%.6g, Wh norm=%.6g, elapsed=%v\n",
			e+1, s.Cfg.NumEpochs, s.optCfg.LearningRate,
			utils.MatrixNorm(s.Model.P.Wh), time.Since(start).Round(time.Second))

		if s.Cfg.CheckpointEvery > 0 && (e+1)%s.Cfg.CheckpointEvery == 0 && s.Cfg.CheckpointPath != "" {
			if err := captioning.Save(s.Model, s.Cfg.CheckpointPath); err != nil {
				return fmt.Errorf("saving checkpoint: %w", err)
			}
		}
	}
	return nil
}
