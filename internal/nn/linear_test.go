package nn

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-sketch/internal/device"
)

func TestLinearForwardBackward(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(1))
	l, err := NewLinear(ctx, "fc", 2, 2, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	copy(l.W.Data.Data(), []float32{1, 2, 3, 4})
	copy(l.B.Data.Data(), []float32{0.5, -0.5})

	x, err := ctx.TensorFrom("x", []float32{1, 2}, 1, 2)
	if err != nil {
		t.Fatalf("TensorFrom failed: %v", err)
	}
	out, err := l.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	// y0 = 0.5 + 1*1 + 2*2, y1 = -0.5 + 1*3 + 2*4
	if got := out.Data(); got[0] != 5.5 || got[1] != 10.5 {
		t.Fatalf("Forward = %v, want [5.5 10.5]", got)
	}

	dout, _ := ctx.TensorFrom("dout", []float32{1, 1}, 1, 2)
	dx, err := l.Backward(dout)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if got := dx.Data(); got[0] != 4 || got[1] != 6 {
		t.Fatalf("dx = %v, want [4 6]", got)
	}
	if got := l.B.Grad.Data(); got[0] != 1 || got[1] != 1 {
		t.Fatalf("db = %v, want [1 1]", got)
	}
	wantDW := []float32{1, 2, 1, 2}
	for i, want := range wantDW {
		if got := l.W.Grad.Data()[i]; got != want {
			t.Fatalf("dW[%d] = %f, want %f", i, got, want)
		}
	}
}

func TestLinearGradAccumulates(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(1))
	l, err := NewLinear(ctx, "fc", 1, 1, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	x, _ := ctx.TensorFrom("x", []float32{2}, 1, 1)
	dout, _ := ctx.TensorFrom("dout", []float32{1}, 1, 1)

	for pass := 0; pass < 2; pass++ {
		if _, err := l.Forward(x); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if _, err := l.Backward(dout); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}
	// Two backward passes without ZeroGrad accumulate.
	if got := l.W.Grad.Data()[0]; got != 4 {
		t.Fatalf("accumulated dW = %f, want 4", got)
	}
	l.W.ZeroGrad()
	if got := l.W.Grad.Data()[0]; got != 0 {
		t.Fatalf("ZeroGrad left dW = %f", got)
	}
}

func TestLinearRejectsBadShapes(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(1))
	if _, err := NewLinear(ctx, "fc", 0, 3, rng); !errors.Is(err, ErrConfig) {
		t.Errorf("zero input dim: err = %v, want ErrConfig", err)
	}

	l, err := NewLinear(ctx, "fc", 3, 2, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	x, _ := ctx.TensorFrom("x", []float32{1, 2}, 1, 2)
	if _, err := l.Forward(x); !errors.Is(err, ErrShape) {
		t.Errorf("mismatched input: err = %v, want ErrShape", err)
	}
	dout, _ := ctx.TensorFrom("dout", []float32{1, 1}, 1, 2)
	if _, err := l.Backward(dout); err == nil {
		t.Error("Backward before Forward must fail")
	}
}
