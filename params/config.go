package params

// TrainingConfig collects every knob the trainer and CLI care about.
// A copy of Defaults is handed to the solver; nothing mutates it afterwards.
type TrainingConfig struct {
	// Model dimensions
	WordvecDim int    // word embedding width
	HiddenDim  int    // recurrent state width
	CellType   string // "lstm" or "rnn"

	// Optimization
	UpdateRule   string  // "sgd", "sgd_momentum", "rmsprop", "adam"
	LearningRate float64
	LRDecay      float64 // multiplied into lr after each epoch
	Momentum     float64 // sgd_momentum
	DecayRate    float64 // rmsprop
	AdamBeta1    float64
	AdamBeta2    float64
	AdamEps      float64
	GradClip     float64 // global-norm clip; <=0 disables

	// Schedule
	BatchSize int
	NumEpochs int

	// Reporting / persistence
	PrintEvery      int // print loss every N iterations
	CheckpointEvery int // save every N epochs (0 = disable)
	CheckpointPath  string

	// Sampling
	MaxCaptionLen int

	Seed int64
}

// Defaults mirror the hyperparameters the captioning exercise trains with.
var Defaults = TrainingConfig{
	WordvecDim: 256,
	HiddenDim:  512,
	CellType:   "lstm",

	UpdateRule:   "adam",
	LearningRate: 5e-3,
	LRDecay:      0.995,
	Momentum:     0.9,
	DecayRate:    0.99,
	AdamBeta1:    0.9,
	AdamBeta2:    0.999,
	AdamEps:      1e-8,
	GradClip:     0, // disabled unless set

	BatchSize: 25,
	NumEpochs: 10,

	PrintEvery:      10,
	CheckpointEvery: 1,
	CheckpointPath:  "models/captioner.gob",

	MaxCaptionLen: 30,

	Seed: 231,
}
