package config

import (
	"fmt"
)

// Model describes the sketch-to-DSL network geometry. The two historic
// model variants (with and without intermediate normalization) are one
// component here, switched by BatchNorm.
type Model struct {
	ImgHeight   int
	ImgWidth    int
	ImgChannels int

	EmbeddingDim int
	HiddenDim    int
	VocabSize    int
	PadIndex     int

	BatchNorm  bool
	BNMomentum float32

	Seed int64
}

func (c *Model) Validate() error {
	if c.ImgHeight <= 0 {
		return fmt.Errorf("invalid img_height: %d (must be positive)", c.ImgHeight)
	}
	if c.ImgWidth <= 0 {
		return fmt.Errorf("invalid img_width: %d (must be positive)", c.ImgWidth)
	}
	if c.ImgChannels <= 0 {
		return fmt.Errorf("invalid img_channels: %d (must be positive)", c.ImgChannels)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("invalid embedding_dim: %d (must be positive)", c.EmbeddingDim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", c.HiddenDim)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.PadIndex < 0 || c.PadIndex >= c.VocabSize {
		return fmt.Errorf("invalid pad_index: %d (must be in [0, %d))", c.PadIndex, c.VocabSize)
	}
	if c.BatchNorm && (c.BNMomentum <= 0 || c.BNMomentum >= 1) {
		return fmt.Errorf("invalid bn_momentum: %f (must be in (0,1))", c.BNMomentum)
	}
	return nil
}

// Training holds the loop hyperparameters.
type Training struct {
	BatchSize   int
	Epochs      int
	LR          float64
	Momentum    float64
	WeightDecay float64
	Optimizer   string // "sgd" or "adam"
	Shuffle     bool
}

func (c *Training) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("invalid epochs: %d (must be positive)", c.Epochs)
	}
	if c.LR <= 0 {
		return fmt.Errorf("invalid lr: %f (must be positive)", c.LR)
	}
	switch c.Optimizer {
	case "sgd", "adam":
	default:
		return fmt.Errorf("invalid optimizer: %q (must be sgd or adam)", c.Optimizer)
	}
	return nil
}

func DefaultModel() Model {
	return Model{
		ImgHeight:    224,
		ImgWidth:     224,
		ImgChannels:  3,
		EmbeddingDim: 64,
		HiddenDim:    256,
		BatchNorm:    true,
		BNMomentum:   0.9,
		Seed:         1,
	}
}

func DefaultTraining() Training {
	return Training{
		BatchSize: 32,
		Epochs:    10,
		LR:        0.001,
		Momentum:  0.9,
		Optimizer: "adam",
		Shuffle:   true,
	}
}
