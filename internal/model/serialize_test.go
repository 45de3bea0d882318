package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-sketch/internal/device"
)

func TestSaveLoadWeightsRoundtrip(t *testing.T) {
	ctx := device.NewContext()
	src, err := New(testConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	src.bn1.RunningMean[0] = 0.75
	src.bn2.RunningVar[3] = 2.5
	path := filepath.Join(t.TempDir(), "weights.bin")
	if err := src.SaveWeights(path); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}

	// A second model with a different seed starts with different
	// weights; loading must make it identical to the source.
	cfg := testConfig()
	cfg.Seed = 99
	dst, err := New(cfg, ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := dst.LoadWeights(path); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	srcParams := src.Parameters()
	dstParams := dst.Parameters()
	for i, sp := range srcParams {
		dp := dstParams[i]
		for k, v := range sp.Data.Data() {
			if dp.Data.Data()[k] != v {
				t.Fatalf("parameter %s diverged at %d after load", sp.Name, k)
			}
		}
	}
	// Running statistics travel with the weights.
	if dst.bn1.RunningMean[0] != 0.75 || dst.bn2.RunningVar[3] != 2.5 {
		t.Fatalf("running stats not restored: mean=%f var=%f",
			dst.bn1.RunningMean[0], dst.bn2.RunningVar[3])
	}
}

func TestLoadWeightsRejectsMismatchedModel(t *testing.T) {
	ctx := device.NewContext()
	src, err := New(testConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "weights.bin")
	if err := src.SaveWeights(path); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}

	cfg := testConfig()
	cfg.BatchNorm = false
	dst, err := New(cfg, ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := dst.LoadWeights(path); err == nil {
		t.Fatal("loading into a model with a different parameter set must fail")
	}
}

func TestLoadWeightsRejectsBadMagic(t *testing.T) {
	ctx := device.NewContext()
	m, err := New(testConfig(), ctx)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(path, []byte("JUNKJUNKJUNK"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := m.LoadWeights(path); err == nil {
		t.Fatal("loading a non-weights file must fail")
	}
}
