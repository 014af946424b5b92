package train

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/xlnwel/cs231n/IO"
	"github.com/xlnwel/cs231n/captioning"
	"github.com/xlnwel/cs231n/params"
)

func tinyDataset() *IO.Dataset {
	vocab := IO.Vocabulary{
		TokenToID: map[string]int{
			"<NULL>": 0, "<START>": 1, "<END>": 2,
			"red": 3, "blue": 4, "car": 5, "boat": 6,
		},
		IDToToken: []string{"<NULL>", "<START>", "<END>", "red", "blue", "car", "boat"},
	}
	// four images, each tied to one short caption
	feats := mat.NewDense(4, 5, []float64{
		1, 0, 0, 0, 0.5,
		0, 1, 0, 0, -0.5,
		0, 0, 1, 0, 0.5,
		0, 0, 0, 1, -0.5,
	})
	return &IO.Dataset{
		Vocab: vocab,
		Captions: [][]int{
			{1, 3, 5, 2},
			{1, 4, 5, 2},
			{1, 3, 6, 2},
			{1, 4, 6, 2},
		},
		ImageIdx: []int{0, 1, 2, 3},
		Features: feats,
	}
}

func tinyConfig() params.TrainingConfig {
	cfg := params.Defaults
	cfg.WordvecDim = 16
	cfg.HiddenDim = 24
	cfg.UpdateRule = "adam"
	cfg.LearningRate = 0.01
	cfg.LRDecay = 1.0
	cfg.BatchSize = 4
	cfg.NumEpochs = 40
	cfg.PrintEvery = 0
	cfg.CheckpointEvery = 0
	cfg.Seed = 7
	return cfg
}

func TestSolverOverfitsTinyDataset(t *testing.T) {
	data := tinyDataset()
	cfg := tinyConfig()
	model, err := captioning.NewModel(data.Vocab.TokenToID, data.FeatureDim(),
		cfg.WordvecDim, cfg.HiddenDim, cfg.CellType, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(model, data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Train(); err != nil {
		t.Fatal(err)
	}

	perEpoch := data.NumCaptions() / cfg.BatchSize
	want := perEpoch * cfg.NumEpochs
	if len(s.LossHistory) != want {
		t.Fatalf("loss history has %d entries, want %d", len(s.LossHistory), want)
	}
	first, last := s.LossHistory[0], s.LossHistory[len(s.LossHistory)-1]
	if !(last < first) {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
	// four captions with adam should get well under half the initial loss
	if last > first/2 {
		t.Errorf("loss only fell from %f to %f on a four-caption dataset", first, last)
	}
}

func TestSolverRejectsUnknownRule(t *testing.T) {
	data := tinyDataset()
	cfg := tinyConfig()
	cfg.UpdateRule = "adagrad"
	model, err := captioning.NewModel(data.Vocab.TokenToID, data.FeatureDim(),
		cfg.WordvecDim, cfg.HiddenDim, cfg.CellType, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(model, data, cfg); err == nil {
		t.Fatal("expected an error for an unknown update rule")
	}
}

func TestSolverStepRecordsLoss(t *testing.T) {
	data := tinyDataset()
	cfg := tinyConfig()
	cfg.GradClip = 5
	model, err := captioning.NewModel(data.Vocab.TokenToID, data.FeatureDim(),
		cfg.WordvecDim, cfg.HiddenDim, cfg.CellType, cfg.Seed)
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(model, data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	loss := s.Step()
	if len(s.LossHistory) != 1 || s.LossHistory[0] != loss {
		t.Fatalf("history %v does not record the returned loss %f", s.LossHistory, loss)
	}
	if loss <= 0 {
		t.Errorf("initial loss %f, want positive", loss)
	}
}
