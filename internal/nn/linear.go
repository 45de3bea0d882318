package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// Linear is a fully connected layer y = x W^T + b. The weight is stored
// out x in so the forward pass is a matmul against the transposed
// weight, matching the rest of the row-major kernels here.
type Linear struct {
	In  int
	Out int
	W   *Param
	B   *Param

	ctx *device.Context
	x   *device.Tensor // cached input for backward
}

func NewLinear(ctx *device.Context, name string, in, out int, rng *rand.Rand) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("%w: linear %s: in=%d out=%d (must be positive)", ErrConfig, name, in, out)
	}
	l := &Linear{
		In:  in,
		Out: out,
		W:   NewParam(ctx, name+".weight", out, in),
		B:   NewParam(ctx, name+".bias", out),
		ctx: ctx,
	}
	bound := 1.0 / math.Sqrt(float64(in))
	uniformInit(rng, l.W.Data.Data(), bound)
	uniformInit(rng, l.B.Data.Data(), bound)
	return l, nil
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

// Forward maps (N, In) to (N, Out).
func (l *Linear) Forward(x *device.Tensor) (*device.Tensor, error) {
	if len(x.Dims()) != 2 || x.Dim(1) != l.In {
		return nil, fmt.Errorf("%w: linear %s: input dims %v, want (N, %d)", ErrShape, l.W.Name, x.Dims(), l.In)
	}
	if err := device.SameDevice(x, l.W.Data); err != nil {
		return nil, err
	}
	n := x.Dim(0)
	out := l.ctx.NewTensor(l.W.Name+".out", n, l.Out)

	xd := x.Data()
	w := l.W.Data.Data()
	b := l.B.Data.Data()
	od := out.Data()
	for i := 0; i < n; i++ {
		xi := xd[i*l.In : (i+1)*l.In]
		for o := 0; o < l.Out; o++ {
			wo := w[o*l.In : (o+1)*l.In]
			sum := b[o]
			for k, xv := range xi {
				sum += xv * wo[k]
			}
			od[i*l.Out+o] = sum
		}
	}

	l.x = x
	return out, nil
}

// Backward consumes dL/dy (N, Out), accumulates weight gradients and
// returns dL/dx (N, In).
func (l *Linear) Backward(dout *device.Tensor) (*device.Tensor, error) {
	if l.x == nil {
		return nil, fmt.Errorf("linear %s: backward before forward", l.W.Name)
	}
	n := l.x.Dim(0)
	if len(dout.Dims()) != 2 || dout.Dim(0) != n || dout.Dim(1) != l.Out {
		return nil, fmt.Errorf("%w: linear %s: grad dims %v, want (%d, %d)", ErrShape, l.W.Name, dout.Dims(), n, l.Out)
	}

	dx := l.ctx.NewTensor(l.W.Name+".dx", n, l.In)
	xd := l.x.Data()
	w := l.W.Data.Data()
	dw := l.W.Grad.Data()
	db := l.B.Grad.Data()
	dd := dout.Data()
	dxd := dx.Data()

	for i := 0; i < n; i++ {
		xi := xd[i*l.In : (i+1)*l.In]
		di := dd[i*l.Out : (i+1)*l.Out]
		dxi := dxd[i*l.In : (i+1)*l.In]
		for o := 0; o < l.Out; o++ {
			g := di[o]
			if g == 0 {
				continue
			}
			db[o] += g
			wo := w[o*l.In : (o+1)*l.In]
			dwo := dw[o*l.In : (o+1)*l.In]
			for k := range xi {
				dwo[k] += g * xi[k]
				dxi[k] += g * wo[k]
			}
		}
	}
	return dx, nil
}
