package train

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/metrics"
	"github.com/23skdu/longbow-sketch/internal/nn"
)

// LossResult carries the padding-masked loss together with the mask and
// real-token count the loop needs for micro-averaged accuracy.
type LossResult struct {
	Loss       float64
	Mask       []float32 // 1 at real positions, 0 at pad
	RealTokens int
}

// PaddedNLL computes negative log likelihood over non-pad positions
// only, averaged by the count of real tokens so the value is
// batch-size invariant. A batch with zero real tokens is an error, not
// a NaN.
func PaddedNLL(logProbs *device.Tensor, targets []int, padIdx int) (*LossResult, error) {
	dims := logProbs.Dims()
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: loss: predictions dims %v, want (N*T, V)", nn.ErrShape, dims)
	}
	rows, classes := dims[0], dims[1]
	if rows != len(targets) {
		return nil, fmt.Errorf("%w: loss: %d predictions for %d targets", nn.ErrShape, rows, len(targets))
	}

	lp := logProbs.Data()
	mask := make([]float32, rows)
	real := 0
	var sum float64
	for i, tgt := range targets {
		if tgt < 0 || tgt >= classes {
			return nil, fmt.Errorf("%w: loss: target %d at position %d out of range [0, %d)", nn.ErrShape, tgt, i, classes)
		}
		if tgt == padIdx {
			continue
		}
		mask[i] = 1
		real++
		sum += float64(lp[i*classes+tgt])
	}
	if real == 0 {
		return nil, fmt.Errorf("%w: loss: batch has no real tokens", nn.ErrShape)
	}

	loss := -sum / float64(real)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		stats := device.ComputeActivationStats(lp, 0)
		metrics.RecordNumericalInstability("log_probs", stats.NaNs, stats.Infs)
		return nil, fmt.Errorf("loss is not finite: %f", loss)
	}
	return &LossResult{Loss: loss, Mask: mask, RealTokens: real}, nil
}

// Grad converts the loss result into the gradient with respect to the
// head logits (pre-softmax): softmax minus one-hot at real positions,
// scaled by 1/realTokens, zero elsewhere.
func (r *LossResult) Grad(ctx *device.Context, logProbs *device.Tensor, targets []int) (*device.Tensor, error) {
	dims := logProbs.Dims()
	rows, classes := dims[0], dims[1]
	if rows != len(targets) || rows != len(r.Mask) {
		return nil, fmt.Errorf("%w: loss grad: %d predictions, %d targets, %d mask entries",
			nn.ErrShape, rows, len(targets), len(r.Mask))
	}
	dlogits := ctx.NewTensor("loss.dlogits", rows, classes)
	lp := logProbs.Data()
	dd := dlogits.Data()
	scale := float32(1.0 / float64(r.RealTokens))
	for i := range targets {
		if r.Mask[i] == 0 {
			continue
		}
		base := i * classes
		for k := 0; k < classes; k++ {
			dd[base+k] = float32(math.Exp(float64(lp[base+k]))) * scale
		}
		dd[base+targets[i]] -= scale
	}
	return dlogits, nil
}

// CorrectTokens counts argmax hits at real positions for micro-averaged
// accuracy.
func CorrectTokens(logProbs *device.Tensor, targets []int, mask []float32) int {
	dims := logProbs.Dims()
	rows, classes := dims[0], dims[1]
	lp := logProbs.Data()
	correct := 0
	for i := 0; i < rows && i < len(targets); i++ {
		if i >= len(mask) || mask[i] == 0 {
			continue
		}
		row := lp[i*classes : (i+1)*classes]
		best := 0
		for k := 1; k < classes; k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		if best == targets[i] {
			correct++
		}
	}
	return correct
}
