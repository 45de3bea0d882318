package config

import "testing"

func TestModelValidate(t *testing.T) {
	cfg := DefaultModel()
	cfg.VocabSize = 18
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default model config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Model)
	}{
		{"zero height", func(c *Model) { c.ImgHeight = 0 }},
		{"negative width", func(c *Model) { c.ImgWidth = -1 }},
		{"zero channels", func(c *Model) { c.ImgChannels = 0 }},
		{"zero embedding", func(c *Model) { c.EmbeddingDim = 0 }},
		{"zero hidden", func(c *Model) { c.HiddenDim = 0 }},
		{"zero vocab", func(c *Model) { c.VocabSize = 0 }},
		{"pad out of range", func(c *Model) { c.PadIndex = 18 }},
		{"bn momentum too high", func(c *Model) { c.BNMomentum = 1 }},
	}
	for _, c := range cases {
		bad := DefaultModel()
		bad.VocabSize = 18
		c.mutate(&bad)
		if err := bad.Validate(); err == nil {
			t.Errorf("%s: want validation error", c.name)
		}
	}

	// The momentum bound only applies when normalization is on.
	off := DefaultModel()
	off.VocabSize = 18
	off.BatchNorm = false
	off.BNMomentum = 0
	if err := off.Validate(); err != nil {
		t.Errorf("momentum unchecked with batchnorm off: %v", err)
	}
}

func TestTrainingValidate(t *testing.T) {
	cfg := DefaultTraining()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default training config invalid: %v", err)
	}

	bad := DefaultTraining()
	bad.Optimizer = "rmsprop"
	if err := bad.Validate(); err == nil {
		t.Error("unknown optimizer must fail")
	}
	bad = DefaultTraining()
	bad.BatchSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero batch size must fail")
	}
	bad = DefaultTraining()
	bad.LR = -0.1
	if err := bad.Validate(); err == nil {
		t.Error("negative learning rate must fail")
	}
	bad = DefaultTraining()
	bad.Epochs = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero epochs must fail")
	}
}
