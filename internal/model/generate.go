package model

import (
	"fmt"

	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/nn"
)

// Generate greedily decodes a DSL token sequence for a single image.
// Decoding starts from the start token and stops at the stop token or
// after maxLen emitted tokens. The model is run in evaluation mode and
// its previous mode is restored on return.
func (m *SketchDecoder) Generate(img *device.Tensor, start, stop, maxLen int) ([]int, error) {
	dims := img.Dims()
	if len(dims) != 4 || dims[0] != 1 {
		return nil, fmt.Errorf("%w: generate expects a single-image batch, got dims %v", nn.ErrShape, dims)
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: generate: maxLen=%d (must be positive)", nn.ErrConfig, maxLen)
	}

	wasTraining := m.training
	m.Eval()
	defer func() {
		if wasTraining {
			m.Train()
		}
	}()

	seq := []int{start}
	for len(seq) <= maxLen {
		t := len(seq)
		logProbs, err := m.Forward(img, seq, t, []int{t})
		if err != nil {
			return nil, err
		}
		// Last real position predicts the next token.
		v := m.cfg.VocabSize
		row := logProbs.Data()[(t-1)*v : t*v]
		next := 0
		best := row[0]
		for k := 1; k < v; k++ {
			if row[k] > best {
				best = row[k]
				next = k
			}
		}
		seq = append(seq, next)
		if next == stop {
			break
		}
	}
	return seq, nil
}
