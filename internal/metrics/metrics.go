package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "train_tokens_total",
		Help: "Total number of real (non-pad) tokens trained on",
	})

	EvalTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_tokens_total",
		Help: "Total number of real (non-pad) tokens evaluated",
	})

	TrainBatchLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "train_batch_loss",
		Help: "Padded-aware NLL loss of the most recent training batch",
	})

	TrainBatchDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "train_batch_duration_seconds",
		Help: "Duration of training steps (forward, loss, backward, update)",
	})

	EvalLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eval_loss",
		Help: "Mean batch loss of the most recent evaluation pass",
	})

	EvalAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eval_token_accuracy",
		Help: "Micro-averaged token accuracy of the most recent evaluation pass",
	})

	EpochDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "train_epoch_duration_seconds",
		Help: "Duration of full training epochs",
	})

	BatchSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "train_batch_sequence_length",
		Help:    "Distribution of padded sequence lengths per batch",
		Buckets: []float64{4, 8, 16, 32, 64, 128, 256, 512},
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})
)

func RecordTrainBatch(loss float64, tokens int, seqLen int, duration time.Duration) {
	TrainBatchLoss.Set(loss)
	TrainTokensTotal.Add(float64(tokens))
	BatchSizeHistogram.Observe(float64(seqLen))
	TrainBatchDuration.Observe(duration.Seconds())
}

func RecordEval(loss, accuracy float64, tokens int) {
	EvalLoss.Set(loss)
	EvalAccuracy.Set(accuracy)
	EvalTokensTotal.Add(float64(tokens))
}

func RecordEpoch(duration time.Duration) {
	EpochDuration.Observe(duration.Seconds())
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}
