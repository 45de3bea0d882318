package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/23skdu/longbow-sketch/internal/config"
	"github.com/23skdu/longbow-sketch/internal/dataset"
	"github.com/23skdu/longbow-sketch/internal/device"
	"github.com/23skdu/longbow-sketch/internal/logger"
	"github.com/23skdu/longbow-sketch/internal/model"
	"github.com/23skdu/longbow-sketch/internal/vocab"
)

var (
	weightsPath  = flag.String("weights", "", "Path to trained weights file")
	vocabPath    = flag.String("vocab", "", "Path to newline-delimited vocabulary file")
	dataPath     = flag.String("data", "", "Arrow IPC dataset to draw the input sketch from")
	sampleIdx    = flag.Int("sample", 0, "Index of the sketch within the dataset")
	startToken   = flag.String("start", "<start>", "Token that begins generation")
	stopToken    = flag.String("stop", "<end>", "Token that ends generation")
	maxLen       = flag.Int("max-len", 256, "Maximum number of tokens to generate")
	embeddingDim = flag.Int("embedding-dim", 64, "Token embedding dimension (must match training)")
	hiddenDim    = flag.Int("hidden-dim", 256, "LSTM hidden dimension (must match training)")
	batchNorm    = flag.Bool("batchnorm", true, "Batch normalization (must match training)")
	logLevel     = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, "console")

	if *weightsPath == "" || *vocabPath == "" || *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -weights, -vocab and -data flags are required")
		flag.Usage()
		os.Exit(1)
	}

	voc, err := vocab.Load(*vocabPath)
	if err != nil {
		logger.Log.Fatal("failed to load vocabulary", "path", *vocabPath, "error", err)
	}
	start, ok := voc.Lookup(*startToken)
	if !ok {
		logger.Log.Fatal("start token not in vocabulary", "token", *startToken)
	}
	stop, ok := voc.Lookup(*stopToken)
	if !ok {
		logger.Log.Fatal("stop token not in vocabulary", "token", *stopToken)
	}

	ds, err := dataset.ReadIPC(*dataPath)
	if err != nil {
		logger.Log.Fatal("failed to load dataset", "path", *dataPath, "error", err)
	}
	if *sampleIdx < 0 || *sampleIdx >= ds.Len() {
		logger.Log.Fatal("sample index out of range", "index", *sampleIdx, "samples", ds.Len())
	}

	cfg := config.Model{
		ImgHeight:    ds.Height,
		ImgWidth:     ds.Width,
		ImgChannels:  ds.Channels,
		EmbeddingDim: *embeddingDim,
		HiddenDim:    *hiddenDim,
		VocabSize:    voc.Size(),
		PadIndex:     voc.PadIndex(),
		BatchNorm:    *batchNorm,
		BNMomentum:   0.9,
		Seed:         1,
	}

	ctx := device.NewContext()
	m, err := model.New(cfg, ctx)
	if err != nil {
		logger.Log.Fatal("failed to build model", "error", err)
	}
	if err := m.LoadWeights(*weightsPath); err != nil {
		logger.Log.Fatal("failed to load weights", "path", *weightsPath, "error", err)
	}

	sample := ds.Samples[*sampleIdx]
	img, err := ctx.TensorFrom("sketch", sample.Image, 1, ds.Channels, ds.Height, ds.Width)
	if err != nil {
		logger.Log.Fatal("failed to shape sketch", "error", err)
	}

	ids, err := m.Generate(img, start, stop, *maxLen)
	if err != nil {
		logger.Log.Fatal("generation failed", "error", err)
	}
	tokens, err := voc.Decode(ids)
	if err != nil {
		logger.Log.Fatal("failed to decode output", "error", err)
	}
	fmt.Println(strings.Join(tokens, " "))
}
