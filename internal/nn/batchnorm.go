package nn

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// BatchNorm2d normalizes per channel over (N, H, W). Running statistics
// are instance-owned and only mutated during training-mode forward
// passes; evaluation reads them without touching them. Momentum is the
// blend weight of the current batch statistic:
// running = (1-momentum)*running + momentum*batch.
type BatchNorm2d struct {
	C        int
	Momentum float32
	Eps      float32

	Gamma       *Param
	Beta        *Param
	RunningMean []float32
	RunningVar  []float32

	ctx      *device.Context
	training bool

	// backward caches
	xhat   []float32
	invStd []float32
	shape  []int
}

func NewBatchNorm2d(ctx *device.Context, name string, channels int, momentum float32) (*BatchNorm2d, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: batchnorm %s: channels=%d (must be positive)", ErrConfig, name, channels)
	}
	if momentum <= 0 || momentum >= 1 {
		return nil, fmt.Errorf("%w: batchnorm %s: momentum=%f (must be in (0,1))", ErrConfig, name, momentum)
	}
	bn := &BatchNorm2d{
		C:           channels,
		Momentum:    momentum,
		Eps:         1e-5,
		Gamma:       NewParam(ctx, name+".gamma", channels),
		Beta:        NewParam(ctx, name+".beta", channels),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
		ctx:         ctx,
		training:    true,
	}
	g := bn.Gamma.Data.Data()
	for i := range g {
		g[i] = 1
	}
	for i := range bn.RunningVar {
		bn.RunningVar[i] = 1
	}
	return bn, nil
}

func (bn *BatchNorm2d) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}

// SetTraining switches between batch statistics (training) and running
// statistics (evaluation). Idempotent.
func (bn *BatchNorm2d) SetTraining(training bool) {
	bn.training = training
}

func (bn *BatchNorm2d) Forward(x *device.Tensor) (*device.Tensor, error) {
	dims := x.Dims()
	if len(dims) != 4 || dims[1] != bn.C {
		return nil, fmt.Errorf("%w: batchnorm %s: input dims %v, want (N, %d, H, W)", ErrShape, bn.Gamma.Name, dims, bn.C)
	}
	n, h, w := dims[0], dims[2], dims[3]
	spatial := h * w
	count := n * spatial

	out := bn.ctx.NewTensor(bn.Gamma.Name+".out", dims...)
	xd := x.Data()
	od := out.Data()
	gamma := bn.Gamma.Data.Data()
	beta := bn.Beta.Data.Data()

	bn.xhat = make([]float32, len(xd))
	bn.invStd = make([]float32, bn.C)
	bn.shape = append([]int(nil), dims...)

	for c := 0; c < bn.C; c++ {
		var mean, variance float32
		if bn.training {
			var sum float64
			for i := 0; i < n; i++ {
				base := (i*bn.C + c) * spatial
				for j := 0; j < spatial; j++ {
					sum += float64(xd[base+j])
				}
			}
			mean = float32(sum / float64(count))
			var sqSum float64
			for i := 0; i < n; i++ {
				base := (i*bn.C + c) * spatial
				for j := 0; j < spatial; j++ {
					d := float64(xd[base+j] - mean)
					sqSum += d * d
				}
			}
			variance = float32(sqSum / float64(count))

			// Running variance uses the unbiased estimate, as the
			// reference training framework does.
			unbiased := variance
			if count > 1 {
				unbiased = float32(sqSum / float64(count-1))
			}
			bn.RunningMean[c] = (1-bn.Momentum)*bn.RunningMean[c] + bn.Momentum*mean
			bn.RunningVar[c] = (1-bn.Momentum)*bn.RunningVar[c] + bn.Momentum*unbiased
		} else {
			mean = bn.RunningMean[c]
			variance = bn.RunningVar[c]
		}

		invStd := float32(1.0 / math.Sqrt(float64(variance)+float64(bn.Eps)))
		bn.invStd[c] = invStd
		for i := 0; i < n; i++ {
			base := (i*bn.C + c) * spatial
			for j := 0; j < spatial; j++ {
				xh := (xd[base+j] - mean) * invStd
				bn.xhat[base+j] = xh
				od[base+j] = gamma[c]*xh + beta[c]
			}
		}
	}
	return out, nil
}

// Backward implements the training-mode gradient. In eval mode the
// model never backpropagates, so only the batch-statistics path is
// needed.
func (bn *BatchNorm2d) Backward(dout *device.Tensor) (*device.Tensor, error) {
	if bn.xhat == nil {
		return nil, fmt.Errorf("batchnorm %s: backward before forward", bn.Gamma.Name)
	}
	dims := dout.Dims()
	if len(dims) != 4 || dims[0] != bn.shape[0] || dims[1] != bn.C || dims[2] != bn.shape[2] || dims[3] != bn.shape[3] {
		return nil, fmt.Errorf("%w: batchnorm %s: grad dims %v, want %v", ErrShape, bn.Gamma.Name, dims, bn.shape)
	}
	n, h, w := dims[0], dims[2], dims[3]
	spatial := h * w
	count := float32(n * spatial)

	dx := bn.ctx.NewTensor(bn.Gamma.Name+".dx", dims...)
	dd := dout.Data()
	dxd := dx.Data()
	gamma := bn.Gamma.Data.Data()
	dgamma := bn.Gamma.Grad.Data()
	dbeta := bn.Beta.Grad.Data()

	for c := 0; c < bn.C; c++ {
		var sumDy, sumDyXhat float32
		for i := 0; i < n; i++ {
			base := (i*bn.C + c) * spatial
			for j := 0; j < spatial; j++ {
				sumDy += dd[base+j]
				sumDyXhat += dd[base+j] * bn.xhat[base+j]
			}
		}
		dgamma[c] += sumDyXhat
		dbeta[c] += sumDy

		scale := gamma[c] * bn.invStd[c] / count
		for i := 0; i < n; i++ {
			base := (i*bn.C + c) * spatial
			for j := 0; j < spatial; j++ {
				dxd[base+j] = scale * (count*dd[base+j] - sumDy - bn.xhat[base+j]*sumDyXhat)
			}
		}
	}
	return dx, nil
}
