package nn

import (
	"fmt"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// MaxPool2d is a max pooling stage with square windows, no padding.
type MaxPool2d struct {
	Kernel int
	Stride int

	ctx    *device.Context
	name   string
	argmax []int // flat input index of each output's winner
	shape  []int
}

func NewMaxPool2d(ctx *device.Context, name string, kernel, stride int) (*MaxPool2d, error) {
	if kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("%w: maxpool %s: kernel %d stride %d (must be positive)", ErrConfig, name, kernel, stride)
	}
	return &MaxPool2d{Kernel: kernel, Stride: stride, ctx: ctx, name: name}, nil
}

func (p *MaxPool2d) Forward(x *device.Tensor) (*device.Tensor, error) {
	dims := x.Dims()
	if len(dims) != 4 {
		return nil, fmt.Errorf("%w: maxpool %s: input dims %v, want (N, C, H, W)", ErrShape, p.name, dims)
	}
	n, c, h, w := dims[0], dims[1], dims[2], dims[3]
	ho := PoolOutputSize(h, p.Kernel, p.Stride)
	wo := PoolOutputSize(w, p.Kernel, p.Stride)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("%w: maxpool %s: input %dx%d collapses to %dx%d", ErrConfig, p.name, h, w, ho, wo)
	}

	out := p.ctx.NewTensor(p.name+".out", n, c, ho, wo)
	p.argmax = make([]int, out.NumElements())
	p.shape = append([]int(nil), dims...)

	xd := x.Data()
	od := out.Data()
	oi := 0
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := (i*c + ch) * h * w
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					iy0 := oy * p.Stride
					ix0 := ox * p.Stride
					best := plane + iy0*w + ix0
					bestVal := xd[best]
					for ky := 0; ky < p.Kernel; ky++ {
						row := plane + (iy0+ky)*w + ix0
						for kx := 0; kx < p.Kernel; kx++ {
							if xd[row+kx] > bestVal {
								bestVal = xd[row+kx]
								best = row + kx
							}
						}
					}
					od[oi] = bestVal
					p.argmax[oi] = best
					oi++
				}
			}
		}
	}
	return out, nil
}

// Backward scatters each output gradient to the input cell that won the
// corresponding window.
func (p *MaxPool2d) Backward(dout *device.Tensor) (*device.Tensor, error) {
	if p.argmax == nil {
		return nil, fmt.Errorf("maxpool %s: backward before forward", p.name)
	}
	if dout.NumElements() != len(p.argmax) {
		return nil, fmt.Errorf("%w: maxpool %s: grad has %d elements, want %d", ErrShape, p.name, dout.NumElements(), len(p.argmax))
	}
	dx := p.ctx.NewTensor(p.name+".dx", p.shape...)
	dd := dout.Data()
	dxd := dx.Data()
	for oi, src := range p.argmax {
		dxd[src] += dd[oi]
	}
	return dx, nil
}

// ReLU with a cached activation mask.
type ReLU struct {
	ctx  *device.Context
	name string
	mask []bool
}

func NewReLU(ctx *device.Context, name string) *ReLU {
	return &ReLU{ctx: ctx, name: name}
}

func (r *ReLU) Forward(x *device.Tensor) (*device.Tensor, error) {
	out := r.ctx.NewTensor(r.name+".out", x.Dims()...)
	r.mask = make([]bool, x.NumElements())
	xd := x.Data()
	od := out.Data()
	for i, v := range xd {
		if v > 0 {
			od[i] = v
			r.mask[i] = true
		}
	}
	return out, nil
}

func (r *ReLU) Backward(dout *device.Tensor) (*device.Tensor, error) {
	if r.mask == nil {
		return nil, fmt.Errorf("relu %s: backward before forward", r.name)
	}
	if dout.NumElements() != len(r.mask) {
		return nil, fmt.Errorf("%w: relu %s: grad has %d elements, want %d", ErrShape, r.name, dout.NumElements(), len(r.mask))
	}
	dx := r.ctx.NewTensor(r.name+".dx", dout.Dims()...)
	dd := dout.Data()
	dxd := dx.Data()
	for i, on := range r.mask {
		if on {
			dxd[i] = dd[i]
		}
	}
	return dx, nil
}
