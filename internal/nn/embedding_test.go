package nn

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-sketch/internal/device"
)

func TestEmbeddingPadRowIsZero(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(7))
	e, err := NewEmbedding(ctx, "embed", 5, 3, 0, rng)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}
	for d := 0; d < 3; d++ {
		if got := e.W.Data.Data()[d]; got != 0 {
			t.Fatalf("pad row dim %d = %f, want 0", d, got)
		}
	}

	out, err := e.Forward([]int{0, 2}, 1, 2)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	od := out.Data()
	for d := 0; d < 3; d++ {
		if od[d] != 0 {
			t.Fatalf("pad token lookup dim %d = %f, want 0", d, od[d])
		}
		if od[3+d] != e.W.Data.Data()[2*3+d] {
			t.Fatalf("token 2 lookup dim %d mismatched", d)
		}
	}
}

func TestEmbeddingBackwardSkipsPad(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(7))
	e, err := NewEmbedding(ctx, "embed", 4, 2, 0, rng)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}
	if _, err := e.Forward([]int{3, 0, 3}, 1, 3); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	dout, _ := ctx.TensorFrom("dout", []float32{1, 2, 10, 20, 3, 4}, 1, 3, 2)
	if err := e.Backward(dout); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	dw := e.W.Grad.Data()
	// Pad row never accumulates, token 3 accumulates both occurrences.
	if dw[0] != 0 || dw[1] != 0 {
		t.Errorf("pad row grad = [%f %f], want zeros", dw[0], dw[1])
	}
	if dw[3*2] != 4 || dw[3*2+1] != 6 {
		t.Errorf("token 3 grad = [%f %f], want [4 6]", dw[3*2], dw[3*2+1])
	}
}

func TestEmbeddingRejectsOutOfVocab(t *testing.T) {
	ctx := device.NewContext()
	rng := rand.New(rand.NewSource(7))
	e, err := NewEmbedding(ctx, "embed", 4, 2, 0, rng)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}
	if _, err := e.Forward([]int{1, 4}, 1, 2); !errors.Is(err, ErrShape) {
		t.Errorf("out-of-vocab token: err = %v, want ErrShape", err)
	}
	if _, err := NewEmbedding(ctx, "embed", 4, 2, 9, rng); !errors.Is(err, ErrConfig) {
		t.Errorf("pad out of range: err = %v, want ErrConfig", err)
	}
}
