package train

import (
	"math"
	"testing"

	"github.com/23skdu/longbow-sketch/internal/config"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/model"
)

func trainingConfig(opt string) config.Training {
	return config.Training{
		BatchSize: 2,
		Epochs:    1,
		LR:        0.01,
		Momentum:  0.9,
		Optimizer: opt,
		Shuffle:   true,
	}
}

func TestRunEpochUpdatesParameters(t *testing.T) {
	ctx := device.NewContext()
	m, err := model.New(evalModelConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tr, err := NewTrainer(m, trainingConfig("sgd"), ctx)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	params := m.Parameters()
	before := make([]float32, len(params))
	for i, p := range params {
		before[i] = p.Data.Data()[0]
	}

	ds := evalDataset(4)
	res, err := tr.RunEpoch(ds, 1)
	if err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}
	if res.Batches != 2 {
		t.Errorf("Batches = %d, want 2", res.Batches)
	}
	if math.IsNaN(res.MeanLoss) || math.IsInf(res.MeanLoss, 0) {
		t.Fatalf("MeanLoss = %f, not finite", res.MeanLoss)
	}
	if res.RealTokens == 0 {
		t.Error("epoch saw no real tokens")
	}

	changed := 0
	for i, p := range params {
		if p.Data.Data()[0] != before[i] {
			changed++
		}
	}
	if changed == 0 {
		t.Fatal("optimizer step changed no parameters")
	}
}

func TestRunEpochWithAdam(t *testing.T) {
	ctx := device.NewContext()
	m, err := model.New(evalModelConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	tr, err := NewTrainer(m, trainingConfig("adam"), ctx)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	ds := evalDataset(3)
	for epoch := 1; epoch <= 2; epoch++ {
		res, err := tr.RunEpoch(ds, epoch)
		if err != nil {
			t.Fatalf("epoch %d failed: %v", epoch, err)
		}
		if math.IsNaN(res.MeanLoss) {
			t.Fatalf("epoch %d loss is NaN", epoch)
		}
	}
}

func TestNewTrainerRejectsBadConfig(t *testing.T) {
	ctx := device.NewContext()
	m, err := model.New(evalModelConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cfg := trainingConfig("sgd")
	cfg.Optimizer = "lbfgs"
	if _, err := NewTrainer(m, cfg, ctx); err == nil {
		t.Error("unknown optimizer must fail")
	}
	cfg = trainingConfig("sgd")
	cfg.LR = 0
	if _, err := NewTrainer(m, cfg, ctx); err == nil {
		t.Error("zero learning rate must fail")
	}
}

func TestOptimizerStepDirections(t *testing.T) {
	ctx := device.NewContext()
	m, err := model.New(evalModelConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	params := m.Parameters()

	sgd := NewSGD(params, 0.1, 0, 0)
	w := params[0].Data.Data()
	g := params[0].Grad.Data()
	start := w[0]
	g[0] = 1
	sgd.Step()
	if got := w[0]; math.Abs(float64(got-(start-0.1))) > 1e-6 {
		t.Errorf("sgd step moved weight to %f, want %f", got, start-0.1)
	}
	sgd.ZeroGrad()
	if g[0] != 0 {
		t.Error("ZeroGrad left gradient set")
	}

	adam := NewAdam(params, 0.1)
	start = w[0]
	g[0] = 1
	adam.Step()
	// First Adam step with bias correction moves by ~lr against the
	// gradient sign.
	if got := w[0]; got >= start {
		t.Errorf("adam step did not descend: %f -> %f", start, got)
	}
}
