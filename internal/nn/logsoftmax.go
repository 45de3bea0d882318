package nn

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-sketch/internal/device"
)

// LogSoftmax computes row-wise log probabilities for a 2D logits
// tensor. Max-subtraction keeps the exponentials finite. The gradient
// is taken care of by the fused padded-NLL loss, which differentiates
// straight through to the logits.
func LogSoftmax(ctx *device.Context, logits *device.Tensor) (*device.Tensor, error) {
	dims := logits.Dims()
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: log_softmax: input dims %v, want (rows, classes)", ErrShape, dims)
	}
	rows, classes := dims[0], dims[1]
	out := ctx.NewTensor("log_softmax.out", rows, classes)
	xd := logits.Data()
	od := out.Data()
	for i := 0; i < rows; i++ {
		row := xd[i*classes : (i+1)*classes]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - max))
		}
		lse := max + float32(math.Log(sum))
		orow := od[i*classes : (i+1)*classes]
		for k, v := range row {
			orow[k] = v - lse
		}
	}
	return out, nil
}
