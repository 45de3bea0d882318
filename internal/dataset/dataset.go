package dataset

import (
	"fmt"
)

// Sample is one supervised example: a rendered sketch image, the
// program prefix fed to the decoder, and the next-token labels. The
// token slices are already numeric-encoded against the model's
// vocabulary; input and target are index-aligned.
type Sample struct {
	Image  []float32 // C*H*W, row-major
	Input  []int
	Target []int
}

// Dataset is an in-memory collection of samples sharing one image
// geometry.
type Dataset struct {
	Channels int
	Height   int
	Width    int
	Samples  []Sample
}

func New(channels, height, width int) *Dataset {
	return &Dataset{Channels: channels, Height: height, Width: width}
}

func (d *Dataset) Len() int {
	return len(d.Samples)
}

// Validate checks sample alignment before training: every image must
// match the dataset geometry and every input must pair with a target of
// equal length.
func (d *Dataset) Validate() error {
	want := d.Channels * d.Height * d.Width
	if want <= 0 {
		return fmt.Errorf("invalid image geometry %dx%dx%d", d.Channels, d.Height, d.Width)
	}
	for i, s := range d.Samples {
		if len(s.Image) != want {
			return fmt.Errorf("sample %d: image has %d values, want %d", i, len(s.Image), want)
		}
		if len(s.Input) == 0 {
			return fmt.Errorf("sample %d: empty input sequence", i)
		}
		if len(s.Input) != len(s.Target) {
			return fmt.Errorf("sample %d: input length %d != target length %d", i, len(s.Input), len(s.Target))
		}
	}
	return nil
}
