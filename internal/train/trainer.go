package train

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-sketch/internal/config"
	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/logger"
	"github.com/23skdu/longbow-sketch/internal/metrics"
	"github.com/23skdu/longbow-sketch/internal/model"
)

// Trainer runs supervised epochs over a dataset: forward, masked loss,
// backward, optimizer step.
type Trainer struct {
	model *model.SketchDecoder
	opt   Optimizer
	cfg   config.Training
	ctx   *device.Context
	rng   *rand.Rand
}

func NewTrainer(m *model.SketchDecoder, cfg config.Training, ctx *device.Context) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params := m.Parameters()
	var opt Optimizer
	switch cfg.Optimizer {
	case "sgd":
		opt = NewSGD(params, cfg.LR, cfg.Momentum, cfg.WeightDecay)
	case "adam":
		opt = NewAdam(params, cfg.LR)
	default:
		return nil, fmt.Errorf("invalid optimizer: %q", cfg.Optimizer)
	}
	return &Trainer{
		model: m,
		opt:   opt,
		cfg:   cfg,
		ctx:   ctx,
		rng:   rand.New(rand.NewSource(m.Config().Seed)),
	}, nil
}

// EpochResult summarizes one training pass.
type EpochResult struct {
	MeanLoss   float64
	Accuracy   float64
	Batches    int
	RealTokens int
}

// RunEpoch makes one full pass over the dataset in training mode. The
// visit order is reshuffled once at the start of the pass when the
// config asks for it.
func (tr *Trainer) RunEpoch(ds *dataset.Dataset, epoch int) (EpochResult, error) {
	tr.model.Train()
	start := time.Now()

	padIdx := tr.model.Config().PadIndex
	it, err := NewIterator(ds, tr.cfg.BatchSize, padIdx, tr.cfg.Shuffle, tr.rng, tr.ctx)
	if err != nil {
		return EpochResult{}, err
	}

	var res EpochResult
	var lossSum float64
	correct := 0
	for {
		batch, ok, err := it.Next()
		if err != nil {
			return EpochResult{}, err
		}
		if !ok {
			break
		}
		batchStart := time.Now()

		logProbs, err := tr.model.Forward(batch.Images, batch.Inputs, batch.T, batch.Lens)
		if err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: forward: %w", epoch, res.Batches, err)
		}
		lr, err := PaddedNLL(logProbs, batch.Targets, padIdx)
		if err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: loss: %w", epoch, res.Batches, err)
		}
		dlogits, err := lr.Grad(tr.ctx, logProbs, batch.Targets)
		if err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: loss grad: %w", epoch, res.Batches, err)
		}

		tr.opt.ZeroGrad()
		if err := tr.model.Backward(dlogits); err != nil {
			return EpochResult{}, fmt.Errorf("epoch %d batch %d: backward: %w", epoch, res.Batches, err)
		}
		tr.opt.Step()

		lossSum += lr.Loss
		res.RealTokens += lr.RealTokens
		correct += CorrectTokens(logProbs, batch.Targets, lr.Mask)
		res.Batches++
		metrics.RecordTrainBatch(lr.Loss, lr.RealTokens, batch.T, time.Since(batchStart))
	}

	if res.Batches > 0 {
		res.MeanLoss = lossSum / float64(res.Batches)
	}
	if res.RealTokens > 0 {
		res.Accuracy = float64(correct) / float64(res.RealTokens)
	}
	metrics.RecordEpoch(time.Since(start))
	logger.Log.Info("epoch complete",
		"epoch", epoch,
		"batches", res.Batches,
		"loss", res.MeanLoss,
		"accuracy", res.Accuracy,
		"tokens", res.RealTokens,
		"duration", time.Since(start).String())
	return res, nil
}
