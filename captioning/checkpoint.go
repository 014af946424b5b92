package captioning

import (
	"bytes"
	"encoding/gob"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Checkpoints serialize only numeric weight data plus the vocabulary, via gob.

type denseData struct {
	Data []float64
	R, C int
}

type checkpointData struct {
	CellType  string
	WordToIdx map[string]int
	Params    map[string]denseData
}

func packDense(m *mat.Dense) denseData {
	r, c := m.Dims()
	raw := mat.DenseCopyOf(m).RawMatrix()
	d := denseData{R: r, C: c, Data: make([]float64, len(raw.Data))}
	copy(d.Data, raw.Data)
	return d
}

// Save persists the model to filename, creating or overwriting it.
func Save(m *Model, filename string) error {
	data := checkpointData{
		CellType:  m.CellType,
		WordToIdx: m.WordToIdx,
		Params:    make(map[string]denseData),
	}
	for name, p := range m.P.Map() {
		data.Params[name] = packDense(p)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}
	return os.WriteFile(filename, buf.Bytes(), 0644)
}

// Load rebuilds a model saved by Save.
func Load(filename string) (*Model, error) {
	rawBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var data checkpointData
	if err := gob.NewDecoder(bytes.NewBuffer(rawBytes)).Decode(&data); err != nil {
		return nil, err
	}

	unpack := func(name string) *mat.Dense {
		d := data.Params[name]
		return mat.NewDense(d.R, d.C, d.Data)
	}
	wProj := unpack("W_proj")
	featureDim, hiddenDim := wProj.Dims()
	wEmbed := unpack("W_embed")
	_, wordvecDim := wEmbed.Dims()

	m, err := NewModel(data.WordToIdx, featureDim, wordvecDim, hiddenDim, data.CellType, 0)
	if err != nil {
		return nil, err
	}
	m.P = &Params{
		WEmbed: wEmbed,
		WProj:  wProj,
		BProj:  unpack("b_proj"),
		Wx:     unpack("Wx"),
		Wh:     unpack("Wh"),
		B:      unpack("b"),
		WVocab: unpack("W_vocab"),
		BVocab: unpack("b_vocab"),
	}
	return m, nil
}
