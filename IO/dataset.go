// Package IO loads and stores the caption dataset and fetches images for
// display. Nothing here is part of the numeric core; the trainer only needs
// the fixed-shape arrays this package hands it.
package IO

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/getlantern/errors"
	"gonum.org/v1/gonum/mat"
)

// Vocabulary is the fixed word <-> id mapping the dataset ships with.
type Vocabulary struct {
	TokenToID map[string]int `json:"TokenToID"`
	IDToToken []string       `json:"IDToToken"`
}

// Dataset holds the pre-extracted arrays for one split: integer-coded caption
// token sequences (padded with <NULL>), per-image feature vectors, and the
// caption -> image assignment. URLs are only for human-facing display.
type Dataset struct {
	Vocab    Vocabulary
	Captions [][]int    // each row padded to the same length
	ImageIdx []int      // Captions[i] describes Features row ImageIdx[i]
	Features *mat.Dense // numImages x featureDim
	URLs     []string   // len numImages; may be empty
}

// NumCaptions returns the number of caption examples.
func (d *Dataset) NumCaptions() int { return len(d.Captions) }

// FeatureDim returns the width of the image feature vectors.
func (d *Dataset) FeatureDim() int {
	_, c := d.Features.Dims()
	return c
}

// ImportVocabJSON loads a vocab.json written alongside the binary arrays.
func ImportVocabJSON(path string) (Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Vocabulary{}, errors.Wrap(err)
	}
	defer f.Close()
	var v Vocabulary
	if err := json.NewDecoder(f).Decode(&v); err != nil {
		return Vocabulary{}, errors.New("decoding %s: %v", path, err)
	}
	if v.TokenToID == nil || len(v.IDToToken) == 0 {
		return Vocabulary{}, errors.New("vocab %s is empty", path)
	}
	return v, nil
}

func exportVocabJSON(v Vocabulary, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Binary layout, little-endian throughout:
//
//	captions.bin  uint32 numCaptions, uint32 capLen,
//	              then per caption: uint32 imageIdx, capLen x uint32 token ids
//	features.bin  uint32 numImages, uint32 featureDim,
//	              then numImages x featureDim float64
//	urls.txt      one URL per line, numImages lines (optional)

// SaveDataset writes the dataset files into dir, creating it if needed.
func SaveDataset(d *Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err)
	}
	if err := exportVocabJSON(d.Vocab, filepath.Join(dir, "vocab.json")); err != nil {
		return err
	}

	capF, err := os.Create(filepath.Join(dir, "captions.bin"))
	if err != nil {
		return errors.Wrap(err)
	}
	defer capF.Close()
	w := bufio.NewWriter(capF)
	capLen := 0
	if len(d.Captions) > 0 {
		capLen = len(d.Captions[0])
	}
	writeU32(w, uint32(len(d.Captions)))
	writeU32(w, uint32(capLen))
	for i, c := range d.Captions {
		if len(c) != capLen {
			return errors.New("caption %d has length %d, want %d", i, len(c), capLen)
		}
		writeU32(w, uint32(d.ImageIdx[i]))
		for _, id := range c {
			writeU32(w, uint32(id))
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err)
	}

	featF, err := os.Create(filepath.Join(dir, "features.bin"))
	if err != nil {
		return errors.Wrap(err)
	}
	defer featF.Close()
	fw := bufio.NewWriter(featF)
	rows, cols := d.Features.Dims()
	writeU32(fw, uint32(rows))
	writeU32(fw, uint32(cols))
	raw := d.Features.RawMatrix()
	buf8 := make([]byte, 8)
	for _, v := range raw.Data {
		binary.LittleEndian.PutUint64(buf8, math.Float64bits(v))
		fw.Write(buf8)
	}
	if err := fw.Flush(); err != nil {
		return errors.Wrap(err)
	}

	if len(d.URLs) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "urls.txt"),
			[]byte(strings.Join(d.URLs, "\n")+"\n"), 0644); err != nil {
			return errors.Wrap(err)
		}
	}
	return nil
}

// LoadDataset reads a dataset previously written by SaveDataset.
func LoadDataset(dir string) (*Dataset, error) {
	vocab, err := ImportVocabJSON(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, err
	}
	d := &Dataset{Vocab: vocab}

	capF, err := os.Open(filepath.Join(dir, "captions.bin"))
	if err != nil {
		return nil, errors.Wrap(err)
	}
	defer capF.Close()
	r := bufio.NewReader(capF)
	numCaps, err := readU32(r)
	if err != nil {
		return nil, err
	}
	capLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	d.Captions = make([][]int, numCaps)
	d.ImageIdx = make([]int, numCaps)
	for i := range d.Captions {
		idx, err := readU32(r)
		if err != nil {
			return nil, err
		}
		d.ImageIdx[i] = int(idx)
		c := make([]int, capLen)
		for t := range c {
			id, err := readU32(r)
			if err != nil {
				return nil, err
			}
			c[t] = int(id)
		}
		d.Captions[i] = c
	}

	featF, err := os.Open(filepath.Join(dir, "features.bin"))
	if err != nil {
		return nil, errors.Wrap(err)
	}
	defer featF.Close()
	fr := bufio.NewReader(featF)
	rows, err := readU32(fr)
	if err != nil {
		return nil, err
	}
	cols, err := readU32(fr)
	if err != nil {
		return nil, err
	}
	data := make([]float64, int(rows)*int(cols))
	buf8 := make([]byte, 8)
	for i := range data {
		if _, err := io.ReadFull(fr, buf8); err != nil {
			return nil, errors.New("features.bin truncated: %v", err)
		}
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf8))
	}
	d.Features = mat.NewDense(int(rows), int(cols), data)

	if raw, err := os.ReadFile(filepath.Join(dir, "urls.txt")); err == nil {
		d.URLs = strings.Fields(string(raw))
	}
	return d, nil
}

// SampleMinibatch picks batchSize captions uniformly with replacement and
// gathers the matching feature rows. rng supplies all randomness, so a seeded
// rng gives reproducible batches.
func SampleMinibatch(d *Dataset, batchSize int, rng *rand.Rand) (captions [][]int, features *mat.Dense, urls []string) {
	captions = make([][]int, batchSize)
	urls = make([]string, batchSize)
	features = mat.NewDense(batchSize, d.FeatureDim(), nil)
	for i := 0; i < batchSize; i++ {
		k := rng.Intn(len(d.Captions))
		captions[i] = d.Captions[k]
		img := d.ImageIdx[k]
		features.SetRow(i, mat.Row(nil, img, d.Features))
		if img < len(d.URLs) {
			urls[i] = d.URLs[img]
		}
	}
	return captions, features, urls
}

// DecodeCaption turns token ids back into words, dropping <NULL> padding and
// stopping after <END>.
func DecodeCaption(v Vocabulary, ids []int) string {
	var words []string
	for _, id := range ids {
		w := "<UNK>"
		if id >= 0 && id < len(v.IDToToken) {
			w = v.IDToToken[id]
		}
		if w == "<NULL>" {
			continue
		}
		words = append(words, w)
		if w == "<END>" {
			break
		}
	}
	return strings.Join(words, " ")
}

func writeU32(w *bufio.Writer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func readU32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
