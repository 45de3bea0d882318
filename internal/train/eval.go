package train

import (
	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/metrics"
	"github.com/23skdu/longbow-sketch/internal/model"
)

// EvalResult summarizes one full evaluation pass. Accuracy is
// micro-averaged: pooled correct tokens over pooled real tokens across
// every batch, never a mean of per-batch ratios.
type EvalResult struct {
	MeanLoss   float64
	Accuracy   float64
	Batches    int
	RealTokens int
}

// Evaluate runs the whole dataset through the model with no gradient
// work. The model is put in evaluation mode for the pass and restored
// to training mode on every exit path, including errors and empty
// datasets.
func Evaluate(m *model.SketchDecoder, ds *dataset.Dataset, batchSize int, ctx *device.Context) (EvalResult, error) {
	m.Eval()
	defer m.Train()

	cfg := m.Config()
	it, err := NewIterator(ds, batchSize, cfg.PadIndex, false, nil, ctx)
	if err != nil {
		return EvalResult{}, err
	}

	var res EvalResult
	var lossSum float64
	correct := 0
	for {
		batch, ok, err := it.Next()
		if err != nil {
			return EvalResult{}, err
		}
		if !ok {
			break
		}
		logProbs, err := m.Forward(batch.Images, batch.Inputs, batch.T, batch.Lens)
		if err != nil {
			return EvalResult{}, err
		}
		lr, err := PaddedNLL(logProbs, batch.Targets, cfg.PadIndex)
		if err != nil {
			return EvalResult{}, err
		}
		lossSum += lr.Loss
		res.RealTokens += lr.RealTokens
		correct += CorrectTokens(logProbs, batch.Targets, lr.Mask)
		res.Batches++
	}

	if res.Batches > 0 {
		res.MeanLoss = lossSum / float64(res.Batches)
	}
	if res.RealTokens > 0 {
		res.Accuracy = float64(correct) / float64(res.RealTokens)
	}
	metrics.RecordEval(res.MeanLoss, res.Accuracy, res.RealTokens)
	return res, nil
}
