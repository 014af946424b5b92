package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/pkg/profile"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/urfave/cli.v1"

	"github.com/xlnwel/cs231n/IO"
	"github.com/xlnwel/cs231n/captioning"
	"github.com/xlnwel/cs231n/params"
	"github.com/xlnwel/cs231n/train"
	"github.com/xlnwel/cs231n/utils"
)

func main() {
	cfg := params.Defaults

	app := cli.NewApp()
	app.Name = "captioner"
	app.Usage = "Train and run an LSTM image-caption generator"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		{
			Name:  "train",
			Usage: "Train a captioning model on a prepared dataset",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "data",
					Value: "data/train",
					Usage: "dataset `dir` (vocab.json, captions.bin, features.bin)",
				},
				cli.StringFlag{
					Name:  "cell",
					Value: cfg.CellType,
					Usage: "recurrence variant: lstm or rnn",
				},
				cli.IntFlag{Name: "hidden", Value: cfg.HiddenDim, Usage: "hidden state width"},
				cli.IntFlag{Name: "wordvec", Value: cfg.WordvecDim, Usage: "word embedding width"},
				cli.IntFlag{Name: "epochs", Value: cfg.NumEpochs, Usage: "number of epochs"},
				cli.IntFlag{Name: "batch", Value: cfg.BatchSize, Usage: "minibatch size"},
				cli.Float64Flag{Name: "learn", Value: cfg.LearningRate, Usage: "learning rate"},
				cli.StringFlag{
					Name:  "update",
					Value: cfg.UpdateRule,
					Usage: "update rule: sgd, sgd_momentum, rmsprop, adam",
				},
				cli.StringFlag{Name: "save", Value: cfg.CheckpointPath, Usage: "checkpoint `file`"},
				cli.StringFlag{Name: "load", Usage: "optional `file` to resume from"},
				cli.Int64Flag{Name: "seed", Value: cfg.Seed, Usage: "rng seed"},
			},
			Before: func(c *cli.Context) error {
				cfg.CellType = c.String("cell")
				cfg.HiddenDim = c.Int("hidden")
				cfg.WordvecDim = c.Int("wordvec")
				cfg.NumEpochs = c.Int("epochs")
				cfg.BatchSize = c.Int("batch")
				cfg.LearningRate = c.Float64("learn")
				cfg.UpdateRule = c.String("update")
				cfg.CheckpointPath = c.String("save")
				cfg.Seed = c.Int64("seed")
				return nil
			},
			Action: func(c *cli.Context) error {
				// cpu/mem profiling via PERF environment flag
				switch os.Getenv("PERF") {
				case "cpu":
					defer profile.Start(profile.CPUProfile).Stop()
				case "mem":
					defer profile.Start(profile.MemProfile).Stop()
				}
				return runTrain(cfg, c.String("data"), c.String("load"))
			},
		},
		{
			Name:  "sample",
			Usage: "Caption images from a dataset split with a trained model",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "load", Usage: "model checkpoint `file`"},
				cli.StringFlag{Name: "data", Value: "data/val", Usage: "dataset `dir` to draw images from"},
				cli.IntFlag{Name: "n", Value: 5, Usage: "number of images to caption"},
				cli.IntFlag{Name: "maxlen", Value: cfg.MaxCaptionLen, Usage: "max caption length"},
			},
			Action: func(c *cli.Context) error {
				if c.String("load") == "" {
					return fmt.Errorf("missing required filepath to model: --load")
				}
				return runSample(c.String("load"), c.String("data"), c.Int("n"), c.Int("maxlen"))
			},
		},
		{
			Name:  "check",
			Usage: "Check analytic gradients against finite differences on a tiny model",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "cell", Value: cfg.CellType, Usage: "recurrence variant: lstm or rnn"},
				cli.Int64Flag{Name: "seed", Value: cfg.Seed, Usage: "rng seed"},
			},
			Action: func(c *cli.Context) error {
				return runCheck(c.String("cell"), c.Int64("seed"))
			},
		},
		{
			Name:  "fetch",
			Usage: "Fetch an image URL and report its dimensions (display check)",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "url", Usage: "image `URL`"},
			},
			Action: func(c *cli.Context) error {
				url := c.String("url")
				if url == "" {
					return fmt.Errorf("missing required --url")
				}
				img, err := IO.FetchImage(url)
				if err != nil {
					return err
				}
				b := img.Bounds()
				fmt.Printf("%s: %dx%d\n", url, b.Dx(), b.Dy())
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTrain(cfg params.TrainingConfig, dataDir, loadPath string) error {
	data, err := IO.LoadDataset(dataDir)
	if err != nil {
		return err
	}
	fmt.Printf("Dataset: %d captions, %d images, vocab %d\n",
		data.NumCaptions(), len(data.URLs), len(data.Vocab.IDToToken))

	var model *captioning.Model
	if loadPath != "" {
		model, err = captioning.Load(loadPath)
	} else {
		model, err = captioning.NewModel(data.Vocab.TokenToID, data.FeatureDim(),
			cfg.WordvecDim, cfg.HiddenDim, cfg.CellType, cfg.Seed)
	}
	if err != nil {
		return err
	}

	solver, err := train.New(model, data, cfg)
	if err != nil {
		return err
	}
	return solver.Train()
}

// runCheck builds a small random model and compares every analytic parameter
// gradient against central differences, the same check the tests run.
func runCheck(cellType string, seed int64) error {
	vocab := map[string]int{"<NULL>": 0, "<START>": 1, "<END>": 2, "a": 3, "b": 4}
	n, d := 2, 4
	model, err := captioning.NewModel(vocab, d, 5, 6, cellType, seed)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	features := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			features.Set(i, j, rng.NormFloat64())
		}
	}
	captions := [][]int{
		{1, 3, 4, 2, 0},
		{1, 4, 2, 0, 0},
	}

	forward := func() float64 {
		loss, _ := model.Loss(features, captions)
		return loss
	}
	_, grads := model.Loss(features, captions)

	worst := 0.0
	pm := model.P.Map()
	for _, name := range model.ParamNames() {
		num := utils.NumericalGradient(forward, pm[name])
		e := utils.MaxRelError(grads[name], num)
		if e > worst {
			worst = e
		}
		fmt.Printf("%-8s max relative error %.3e\n", name, e)
	}
	if worst > 1e-5 {
		return fmt.Errorf("gradient check failed: worst relative error %.3e", worst)
	}
	fmt.Println("all gradients within 1e-5")
	return nil
}

func runSample(loadPath, dataDir string, n, maxLen int) error {
	model, err := captioning.Load(loadPath)
	if err != nil {
		return err
	}
	data, err := IO.LoadDataset(dataDir)
	if err != nil {
		return err
	}
	if rows, _ := data.Features.Dims(); n > rows {
		n = rows
	}

	feats := utils.ToDense(data.Features.Slice(0, n, 0, data.FeatureDim()))
	captions := model.Sample(feats, maxLen)
	for i, ids := range captions {
		url := ""
		if i < len(data.URLs) {
			url = data.URLs[i]
		}
		fmt.Printf("[%d] %s\n    %s\n", i, IO.DecodeCaption(data.Vocab, ids), url)
	}
	return nil
}
