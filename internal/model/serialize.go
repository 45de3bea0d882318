package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Flat little-endian weight dump: magic, version, then a sequence of
// (name, element count, raw float32 data) entries covering every
// parameter and every normalization running statistic. Enough for the
// CLI pair to hand a trained model to the generator; optimizer state is
// not a part of it.

const (
	weightsMagic   = "LBSK"
	weightsVersion = uint32(1)
)

type namedBuffer struct {
	name string
	data []float32
}

// weightBuffers lists everything the dump carries: trainable parameters
// plus the batchnorm running statistics evaluation depends on.
func (m *SketchDecoder) weightBuffers() []namedBuffer {
	var bufs []namedBuffer
	for _, p := range m.Parameters() {
		bufs = append(bufs, namedBuffer{name: p.Name, data: p.Data.Data()})
	}
	if m.bn1 != nil {
		bufs = append(bufs,
			namedBuffer{name: "bn1.running_mean", data: m.bn1.RunningMean},
			namedBuffer{name: "bn1.running_var", data: m.bn1.RunningVar},
			namedBuffer{name: "bn2.running_mean", data: m.bn2.RunningMean},
			namedBuffer{name: "bn2.running_var", data: m.bn2.RunningVar})
	}
	return bufs
}

// SaveWeights writes every parameter and running statistic to path.
func (m *SketchDecoder) SaveWeights(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weights file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if _, err := w.WriteString(weightsMagic); err != nil {
		return err
	}
	bufs := m.weightBuffers()
	if err := binary.Write(w, binary.LittleEndian, weightsVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bufs))); err != nil {
		return err
	}
	for _, b := range bufs {
		name := []byte(b.name)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
			return err
		}
		if _, err := w.Write(name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(b.data))); err != nil {
			return err
		}
		for _, v := range b.data {
			if err := binary.Write(w, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// LoadWeights restores parameters saved by SaveWeights into a model of
// identical geometry.
func (m *SketchDecoder) LoadWeights(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open weights file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	magic := make([]byte, len(weightsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != weightsMagic {
		return fmt.Errorf("not a weights file: bad magic %q", magic)
	}
	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != weightsVersion {
		return fmt.Errorf("unsupported weights version %d", version)
	}
	bufs := m.weightBuffers()
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	if int(count) != len(bufs) {
		return fmt.Errorf("weights file has %d entries, model has %d", count, len(bufs))
	}
	for _, b := range bufs {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return err
		}
		if string(name) != b.name {
			return fmt.Errorf("weights file entry %q, model expects %q", name, b.name)
		}
		var numel uint32
		if err := binary.Read(r, binary.LittleEndian, &numel); err != nil {
			return err
		}
		if int(numel) != len(b.data) {
			return fmt.Errorf("entry %s has %d elements in file, %d in model", b.name, numel, len(b.data))
		}
		for i := range b.data {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return err
			}
			b.data[i] = math.Float32frombits(bits)
		}
	}
	return nil
}
