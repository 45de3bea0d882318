package nn

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-sketch/internal/device"
)

func TestBatchNormTrainingNormalizes(t *testing.T) {
	ctx := device.NewContext()
	bn, err := NewBatchNorm2d(ctx, "bn", 1, 0.9)
	if err != nil {
		t.Fatalf("NewBatchNorm2d failed: %v", err)
	}

	x, _ := ctx.TensorFrom("x", []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	out, err := bn.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// With gamma=1, beta=0 the output has zero mean and unit variance.
	var sum, sqSum float64
	for _, v := range out.Data() {
		sum += float64(v)
		sqSum += float64(v) * float64(v)
	}
	mean := sum / 4
	variance := sqSum/4 - mean*mean
	if math.Abs(mean) > 1e-5 {
		t.Errorf("normalized mean = %f, want 0", mean)
	}
	if math.Abs(variance-1) > 1e-3 {
		t.Errorf("normalized variance = %f, want 1", variance)
	}
}

func TestBatchNormRunningStats(t *testing.T) {
	ctx := device.NewContext()
	bn, err := NewBatchNorm2d(ctx, "bn", 1, 0.5)
	if err != nil {
		t.Fatalf("NewBatchNorm2d failed: %v", err)
	}

	// Batch mean 2.5, biased var 1.25, unbiased var 5/3.
	x, _ := ctx.TensorFrom("x", []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	if _, err := bn.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// running = (1-m)*old + m*batch, starting from mean 0 and var 1.
	if got, want := bn.RunningMean[0], float32(1.25); math.Abs(float64(got-want)) > 1e-5 {
		t.Errorf("RunningMean = %f, want %f", got, want)
	}
	wantVar := float32(0.5 + 0.5*5.0/3.0)
	if got := bn.RunningVar[0]; math.Abs(float64(got-wantVar)) > 1e-5 {
		t.Errorf("RunningVar = %f, want %f", got, wantVar)
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	ctx := device.NewContext()
	bn, err := NewBatchNorm2d(ctx, "bn", 1, 0.9)
	if err != nil {
		t.Fatalf("NewBatchNorm2d failed: %v", err)
	}
	bn.SetTraining(false)
	bn.RunningMean[0] = 2
	bn.RunningVar[0] = 4

	x, _ := ctx.TensorFrom("x", []float32{2, 4}, 1, 1, 1, 2)
	out, err := bn.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// (x - 2) / sqrt(4 + eps)
	if got := out.Data()[0]; math.Abs(float64(got)) > 1e-5 {
		t.Errorf("out[0] = %f, want 0", got)
	}
	if got := out.Data()[1]; math.Abs(float64(got-1)) > 1e-3 {
		t.Errorf("out[1] = %f, want ~1", got)
	}

	// Eval-mode forward must not touch running statistics.
	if bn.RunningMean[0] != 2 || bn.RunningVar[0] != 4 {
		t.Errorf("running stats mutated in eval mode: mean=%f var=%f", bn.RunningMean[0], bn.RunningVar[0])
	}
}

func TestBatchNormBackwardGradSums(t *testing.T) {
	ctx := device.NewContext()
	bn, err := NewBatchNorm2d(ctx, "bn", 1, 0.9)
	if err != nil {
		t.Fatalf("NewBatchNorm2d failed: %v", err)
	}
	x, _ := ctx.TensorFrom("x", []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	if _, err := bn.Forward(x); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	dout, _ := ctx.TensorFrom("dout", []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	dx, err := bn.Backward(dout)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dbeta is the plain gradient sum; dx sums to zero because the
	// normalization subtracts the batch mean.
	if got := bn.Beta.Grad.Data()[0]; got != 10 {
		t.Errorf("dbeta = %f, want 10", got)
	}
	var dxSum float64
	for _, v := range dx.Data() {
		dxSum += float64(v)
	}
	if math.Abs(dxSum) > 1e-4 {
		t.Errorf("dx sums to %f, want 0", dxSum)
	}
}

func TestBatchNormRejectsBadConfig(t *testing.T) {
	ctx := device.NewContext()
	if _, err := NewBatchNorm2d(ctx, "bn", 0, 0.9); !errors.Is(err, ErrConfig) {
		t.Errorf("zero channels: err = %v, want ErrConfig", err)
	}
	if _, err := NewBatchNorm2d(ctx, "bn", 3, 1.5); !errors.Is(err, ErrConfig) {
		t.Errorf("momentum out of range: err = %v, want ErrConfig", err)
	}
}
