package nn

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// Embedding maps token indices to dense vectors. The padding row is a
// fixed zero vector: it is zeroed at construction and excluded from
// gradient accumulation, so it never trains away from zero.
type Embedding struct {
	VocabSize int
	Dim       int
	PadIdx    int
	W         *Param // VocabSize x Dim

	ctx    *device.Context
	tokens []int
}

func NewEmbedding(ctx *device.Context, name string, vocabSize, dim, padIdx int, rng *rand.Rand) (*Embedding, error) {
	if vocabSize <= 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: embedding %s: vocab=%d dim=%d (must be positive)", ErrConfig, name, vocabSize, dim)
	}
	if padIdx < 0 || padIdx >= vocabSize {
		return nil, fmt.Errorf("%w: embedding %s: pad index %d out of range [0, %d)", ErrConfig, name, padIdx, vocabSize)
	}
	e := &Embedding{
		VocabSize: vocabSize,
		Dim:       dim,
		PadIdx:    padIdx,
		W:         NewParam(ctx, name+".weight", vocabSize, dim),
		ctx:       ctx,
	}
	normalInit(rng, e.W.Data.Data(), 1.0)
	pad := e.W.Data.Data()[padIdx*dim : (padIdx+1)*dim]
	for i := range pad {
		pad[i] = 0
	}
	return e, nil
}

func (e *Embedding) Params() []*Param {
	return []*Param{e.W}
}

// Forward maps a right-padded token batch (N, T) to (N, T, Dim).
func (e *Embedding) Forward(tokens []int, n, t int) (*device.Tensor, error) {
	if n <= 0 || t <= 0 {
		return nil, fmt.Errorf("%w: embedding %s: empty batch (n=%d, t=%d)", ErrShape, e.W.Name, n, t)
	}
	if len(tokens) != n*t {
		return nil, fmt.Errorf("%w: embedding %s: %d tokens for a %dx%d batch", ErrShape, e.W.Name, len(tokens), n, t)
	}
	out := e.ctx.NewTensor(e.W.Name+".out", n, t, e.Dim)
	w := e.W.Data.Data()
	od := out.Data()
	for i, tok := range tokens {
		if tok < 0 || tok >= e.VocabSize {
			return nil, fmt.Errorf("%w: embedding %s: token %d at position %d out of vocab range [0, %d)",
				ErrShape, e.W.Name, tok, i, e.VocabSize)
		}
		copy(od[i*e.Dim:(i+1)*e.Dim], w[tok*e.Dim:(tok+1)*e.Dim])
	}
	e.tokens = tokens
	return out, nil
}

// Backward scatters dL/dy (N, T, Dim) into the embedding table,
// skipping the padding row.
func (e *Embedding) Backward(dout *device.Tensor) error {
	if e.tokens == nil {
		return fmt.Errorf("embedding %s: backward before forward", e.W.Name)
	}
	if dout.NumElements() != len(e.tokens)*e.Dim {
		return fmt.Errorf("%w: embedding %s: grad has %d elements, want %d", ErrShape, e.W.Name, dout.NumElements(), len(e.tokens)*e.Dim)
	}
	dw := e.W.Grad.Data()
	dd := dout.Data()
	for i, tok := range e.tokens {
		if tok == e.PadIdx {
			continue
		}
		row := dw[tok*e.Dim : (tok+1)*e.Dim]
		g := dd[i*e.Dim : (i+1)*e.Dim]
		for k := range row {
			row[k] += g[k]
		}
	}
	return nil
}
