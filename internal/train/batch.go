package train

import (
	"fmt"

	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/metrics"
	"github.com/23skdu/longbow-sketch/internal/nn"
)

// Batch is one mapping-invariant group of samples: images stacked into
// (N, C, H, W), input and target sequences right-padded to the batch's
// own maximum length, true lengths kept separately. Every position
// beyond a sequence's length holds the pad index.
type Batch struct {
	Images  *device.Tensor
	Inputs  []int // (N, T) flattened row-major
	Targets []int // (N, T) flattened row-major
	T       int
	Lens    []int
}

// Prepare stacks samples into a batch on the context's device.
func Prepare(samples []dataset.Sample, channels, height, width, padIdx int, ctx *device.Context) (*Batch, error) {
	n := len(samples)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty batch", nn.ErrShape)
	}
	imgSize := channels * height * width

	maxLen := 0
	for i, s := range samples {
		if len(s.Image) != imgSize {
			metrics.RecordValidationError("prepare_batch", "image_size")
			return nil, fmt.Errorf("%w: sample %d: image has %d values, want %d", nn.ErrShape, i, len(s.Image), imgSize)
		}
		if len(s.Input) == 0 {
			metrics.RecordValidationError("prepare_batch", "empty_sequence")
			return nil, fmt.Errorf("%w: sample %d: zero-length sequence", nn.ErrShape, i)
		}
		if len(s.Input) != len(s.Target) {
			metrics.RecordValidationError("prepare_batch", "misaligned_sequence")
			return nil, fmt.Errorf("%w: sample %d: input length %d != target length %d",
				nn.ErrShape, i, len(s.Input), len(s.Target))
		}
		if len(s.Input) > maxLen {
			maxLen = len(s.Input)
		}
	}

	images := ctx.NewTensor("batch.images", n, channels, height, width)
	imgData := images.Data()
	inputs := make([]int, n*maxLen)
	targets := make([]int, n*maxLen)
	lens := make([]int, n)
	for i, s := range samples {
		copy(imgData[i*imgSize:(i+1)*imgSize], s.Image)
		lens[i] = len(s.Input)
		for j := 0; j < maxLen; j++ {
			if j < len(s.Input) {
				inputs[i*maxLen+j] = s.Input[j]
				targets[i*maxLen+j] = s.Target[j]
			} else {
				inputs[i*maxLen+j] = padIdx
				targets[i*maxLen+j] = padIdx
			}
		}
	}

	return &Batch{Images: images, Inputs: inputs, Targets: targets, T: maxLen, Lens: lens}, nil
}
