package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/23skdu/longbow-sketch/internal/config"
	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/logger"
	"github.com/23skdu/longbow-sketch/internal/model"
	"github.com/23skdu/longbow-sketch/internal/monitoring"
	"github.com/23skdu/longbow-sketch/internal/train"
	"github.com/23skdu/longbow-sketch/internal/vocab"
)

var (
	dataPath     = flag.String("data", "", "Training dataset: Arrow IPC file, or flight://host:port/name")
	evalPath     = flag.String("eval-data", "", "Evaluation dataset (optional, same formats as -data)")
	vocabPath    = flag.String("vocab", "", "Path to newline-delimited vocabulary file")
	savePath     = flag.String("save", "", "Path to write trained weights (optional)")
	epochs       = flag.Int("epochs", 10, "Number of training epochs")
	batchSize    = flag.Int("batch", 32, "Batch size")
	lr           = flag.Float64("lr", 0.001, "Learning rate")
	optimizer    = flag.String("optimizer", "adam", "Optimizer: sgd or adam")
	momentum     = flag.Float64("momentum", 0.9, "SGD momentum")
	weightDecay  = flag.Float64("weight-decay", 0, "SGD weight decay")
	batchNorm    = flag.Bool("batchnorm", true, "Enable batch normalization in the encoder")
	bnMomentum   = flag.Float64("bn-momentum", 0.9, "Batch norm running-stat momentum")
	embeddingDim = flag.Int("embedding-dim", 64, "Token embedding dimension")
	hiddenDim    = flag.Int("hidden-dim", 256, "LSTM hidden dimension")
	seed         = flag.Int64("seed", 1, "Random seed")
	monitorAddr  = flag.String("monitor", ":9090", "Address to serve health and Prometheus metrics")
	logLevel     = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat    = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	if *dataPath == "" || *vocabPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -data and -vocab flags are required")
		flag.Usage()
		os.Exit(1)
	}

	voc, err := vocab.Load(*vocabPath)
	if err != nil {
		logger.Log.Fatal("failed to load vocabulary", "path", *vocabPath, "error", err)
	}
	logger.Log.Info("vocabulary loaded", "path", *vocabPath, "size", voc.Size())

	trainDS, err := loadDataset(*dataPath)
	if err != nil {
		logger.Log.Fatal("failed to load training dataset", "source", *dataPath, "error", err)
	}
	if err := trainDS.Validate(); err != nil {
		logger.Log.Fatal("training dataset invalid", "error", err)
	}
	logger.Log.Info("training dataset loaded",
		"source", *dataPath,
		"samples", trainDS.Len(),
		"image", fmt.Sprintf("%dx%dx%d", trainDS.Channels, trainDS.Height, trainDS.Width))

	var evalDS *dataset.Dataset
	if *evalPath != "" {
		evalDS, err = loadDataset(*evalPath)
		if err != nil {
			logger.Log.Fatal("failed to load evaluation dataset", "source", *evalPath, "error", err)
		}
		if err := evalDS.Validate(); err != nil {
			logger.Log.Fatal("evaluation dataset invalid", "error", err)
		}
	}

	modelCfg := config.Model{
		ImgHeight:    trainDS.Height,
		ImgWidth:     trainDS.Width,
		ImgChannels:  trainDS.Channels,
		EmbeddingDim: *embeddingDim,
		HiddenDim:    *hiddenDim,
		VocabSize:    voc.Size(),
		PadIndex:     voc.PadIndex(),
		BatchNorm:    *batchNorm,
		BNMomentum:   float32(*bnMomentum),
		Seed:         *seed,
	}
	trainCfg := config.Training{
		BatchSize:   *batchSize,
		Epochs:      *epochs,
		LR:          *lr,
		Momentum:    *momentum,
		WeightDecay: *weightDecay,
		Optimizer:   *optimizer,
		Shuffle:     true,
	}

	ctx := device.NewContext()
	m, err := model.New(modelCfg, ctx)
	if err != nil {
		logger.Log.Fatal("failed to build model", "error", err)
	}

	trainer, err := train.NewTrainer(m, trainCfg, ctx)
	if err != nil {
		logger.Log.Fatal("failed to build trainer", "error", err)
	}

	monitor := monitoring.NewMonitor(*epochs)
	go func() {
		if err := monitor.Start(*monitorAddr); err != nil {
			logger.Log.Warn("monitor server stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for epoch := 1; epoch <= *epochs; epoch++ {
			monitor.SetTraining(epoch)
			res, err := trainer.RunEpoch(trainDS, epoch)
			if err != nil {
				logger.Log.Fatal("training failed", "epoch", epoch, "error", err)
			}
			monitor.RecordEpoch(epoch, res.MeanLoss)

			if evalDS != nil {
				er, err := train.Evaluate(m, evalDS, *batchSize, ctx)
				if err != nil {
					logger.Log.Fatal("evaluation failed", "epoch", epoch, "error", err)
				}
				monitor.RecordEval(er.MeanLoss, er.Accuracy)
				logger.Log.Info("evaluation complete",
					"epoch", epoch,
					"loss", er.MeanLoss,
					"accuracy", er.Accuracy,
					"tokens", er.RealTokens)
			}
		}

		if *savePath != "" {
			if err := m.SaveWeights(*savePath); err != nil {
				logger.Log.Fatal("failed to save weights", "path", *savePath, "error", err)
			}
			logger.Log.Info("weights saved", "path", *savePath)
		}
		monitor.SetDone()
	}()

	select {
	case <-done:
		logger.Log.Info("training run complete")
	case sig := <-sigChan:
		logger.Log.Warn("interrupted", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	monitor.Stop(shutdownCtx)
}

// loadDataset reads an Arrow IPC file from disk, or fetches the named
// dataset over Arrow Flight when the source uses the flight:// scheme.
func loadDataset(source string) (*dataset.Dataset, error) {
	if !strings.HasPrefix(source, "flight://") {
		return dataset.ReadIPC(source)
	}

	rest := strings.TrimPrefix(source, "flight://")
	addr, name, ok := strings.Cut(rest, "/")
	if !ok || addr == "" || name == "" {
		return nil, fmt.Errorf("invalid flight source %q (want flight://host:port/name)", source)
	}
	client, err := dataset.NewFlightClient(addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Fetch(context.Background(), name)
}
