package nn

import (
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// Param is one trainable weight buffer with its gradient accumulator.
// Data is mutated only by an optimizer step; Backward calls accumulate
// into Grad.
type Param struct {
	Name string
	Data *device.Tensor
	Grad *device.Tensor
}

func NewParam(ctx *device.Context, name string, dims ...int) *Param {
	return &Param{
		Name: name,
		Data: ctx.NewTensor(name, dims...),
		Grad: ctx.NewTensor(name+".grad", dims...),
	}
}

func (p *Param) ZeroGrad() {
	g := p.Grad.Data()
	for i := range g {
		g[i] = 0
	}
}

func uniformInit(rng *rand.Rand, data []float32, bound float64) {
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

func normalInit(rng *rand.Rand, data []float32, std float64) {
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
}
