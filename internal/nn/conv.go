package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// Conv2d is a 2D convolution with square kernels, no padding and no
// dilation, the only configuration the image encoder needs.
type Conv2d struct {
	InC    int
	OutC   int
	Kernel int
	Stride int
	W      *Param // OutC x InC x K x K
	B      *Param // OutC

	ctx *device.Context
	x   *device.Tensor
}

func NewConv2d(ctx *device.Context, name string, inC, outC, kernel, stride int, rng *rand.Rand) (*Conv2d, error) {
	if inC <= 0 || outC <= 0 || kernel <= 0 || stride <= 0 {
		return nil, fmt.Errorf("%w: conv %s: channels %d->%d kernel %d stride %d (must be positive)",
			ErrConfig, name, inC, outC, kernel, stride)
	}
	c := &Conv2d{
		InC:    inC,
		OutC:   outC,
		Kernel: kernel,
		Stride: stride,
		W:      NewParam(ctx, name+".weight", outC, inC, kernel, kernel),
		B:      NewParam(ctx, name+".bias", outC),
		ctx:    ctx,
	}
	fanIn := inC * kernel * kernel
	bound := 1.0 / math.Sqrt(float64(fanIn))
	uniformInit(rng, c.W.Data.Data(), bound)
	uniformInit(rng, c.B.Data.Data(), bound)
	return c, nil
}

func (c *Conv2d) Params() []*Param {
	return []*Param{c.W, c.B}
}

// Forward maps (N, InC, H, W) to (N, OutC, H', W').
func (c *Conv2d) Forward(x *device.Tensor) (*device.Tensor, error) {
	dims := x.Dims()
	if len(dims) != 4 || dims[1] != c.InC {
		return nil, fmt.Errorf("%w: conv %s: input dims %v, want (N, %d, H, W)", ErrShape, c.W.Name, dims, c.InC)
	}
	if err := device.SameDevice(x, c.W.Data); err != nil {
		return nil, err
	}
	n, h, w := dims[0], dims[2], dims[3]
	ho := ConvOutputSize(h, c.Kernel, c.Stride)
	wo := ConvOutputSize(w, c.Kernel, c.Stride)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("%w: conv %s: input %dx%d collapses to %dx%d", ErrConfig, c.W.Name, h, w, ho, wo)
	}

	out := c.ctx.NewTensor(c.W.Name+".out", n, c.OutC, ho, wo)
	xd := x.Data()
	wd := c.W.Data.Data()
	bd := c.B.Data.Data()
	od := out.Data()

	k := c.Kernel
	for i := 0; i < n; i++ {
		for oc := 0; oc < c.OutC; oc++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					iy0 := oy * c.Stride
					ix0 := ox * c.Stride
					sum := bd[oc]
					for ic := 0; ic < c.InC; ic++ {
						xBase := ((i*c.InC+ic)*h + iy0) * w
						wBase := ((oc*c.InC + ic) * k) * k
						for ky := 0; ky < k; ky++ {
							xRow := xd[xBase+ky*w+ix0 : xBase+ky*w+ix0+k]
							wRow := wd[wBase+ky*k : wBase+ky*k+k]
							for kx := 0; kx < k; kx++ {
								sum += xRow[kx] * wRow[kx]
							}
						}
					}
					od[((i*c.OutC+oc)*ho+oy)*wo+ox] = sum
				}
			}
		}
	}

	c.x = x
	return out, nil
}

// Backward consumes dL/dy (N, OutC, H', W'), accumulates gradients and
// returns dL/dx.
func (c *Conv2d) Backward(dout *device.Tensor) (*device.Tensor, error) {
	if c.x == nil {
		return nil, fmt.Errorf("conv %s: backward before forward", c.W.Name)
	}
	xdims := c.x.Dims()
	n, h, w := xdims[0], xdims[2], xdims[3]
	ho := ConvOutputSize(h, c.Kernel, c.Stride)
	wo := ConvOutputSize(w, c.Kernel, c.Stride)
	dd := dout.Dims()
	if len(dd) != 4 || dd[0] != n || dd[1] != c.OutC || dd[2] != ho || dd[3] != wo {
		return nil, fmt.Errorf("%w: conv %s: grad dims %v, want (%d, %d, %d, %d)", ErrShape, c.W.Name, dd, n, c.OutC, ho, wo)
	}

	dx := c.ctx.NewTensor(c.W.Name+".dx", n, c.InC, h, w)
	xd := c.x.Data()
	wd := c.W.Data.Data()
	dwd := c.W.Grad.Data()
	dbd := c.B.Grad.Data()
	dod := dout.Data()
	dxd := dx.Data()

	k := c.Kernel
	for i := 0; i < n; i++ {
		for oc := 0; oc < c.OutC; oc++ {
			for oy := 0; oy < ho; oy++ {
				for ox := 0; ox < wo; ox++ {
					g := dod[((i*c.OutC+oc)*ho+oy)*wo+ox]
					if g == 0 {
						continue
					}
					dbd[oc] += g
					iy0 := oy * c.Stride
					ix0 := ox * c.Stride
					for ic := 0; ic < c.InC; ic++ {
						xBase := ((i*c.InC+ic)*h + iy0) * w
						dxBase := xBase
						wBase := ((oc*c.InC + ic) * k) * k
						for ky := 0; ky < k; ky++ {
							for kx := 0; kx < k; kx++ {
								dwd[wBase+ky*k+kx] += g * xd[xBase+ky*w+ix0+kx]
								dxd[dxBase+ky*w+ix0+kx] += g * wd[wBase+ky*k+kx]
							}
						}
					}
				}
			}
		}
	}
	return dx, nil
}
