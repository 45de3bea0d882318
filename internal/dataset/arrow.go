package dataset

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Arrow layout: one row per sample. Images are fixed-size float32
// lists, token sequences are variable-length int32 lists. The image
// geometry rides along as schema metadata.

func Schema(channels, height, width int) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"channels", "height", "width"},
		[]string{strconv.Itoa(channels), strconv.Itoa(height), strconv.Itoa(width)},
	)
	return arrow.NewSchema([]arrow.Field{
		{Name: "image", Type: arrow.FixedSizeListOf(int32(channels*height*width), arrow.PrimitiveTypes.Float32)},
		{Name: "input_tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "target_tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	}, &md)
}

// ToRecord builds one Arrow record holding the whole dataset.
func ToRecord(d *Dataset, mem memory.Allocator) (arrow.Record, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	schema := Schema(d.Channels, d.Height, d.Width)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	imgB := b.Field(0).(*array.FixedSizeListBuilder)
	imgV := imgB.ValueBuilder().(*array.Float32Builder)
	inB := b.Field(1).(*array.ListBuilder)
	inV := inB.ValueBuilder().(*array.Int32Builder)
	tgtB := b.Field(2).(*array.ListBuilder)
	tgtV := tgtB.ValueBuilder().(*array.Int32Builder)

	for _, s := range d.Samples {
		imgB.Append(true)
		imgV.AppendValues(s.Image, nil)
		inB.Append(true)
		for _, tok := range s.Input {
			inV.Append(int32(tok))
		}
		tgtB.Append(true)
		for _, tok := range s.Target {
			tgtV.Append(int32(tok))
		}
	}
	return b.NewRecord(), nil
}

// FromRecord decodes samples from one Arrow record and appends them to
// a dataset built from the schema metadata.
func FromRecord(rec arrow.Record) (*Dataset, error) {
	md := rec.Schema().Metadata()
	channels, err := metadataInt(md, "channels")
	if err != nil {
		return nil, err
	}
	height, err := metadataInt(md, "height")
	if err != nil {
		return nil, err
	}
	width, err := metadataInt(md, "width")
	if err != nil {
		return nil, err
	}
	d := New(channels, height, width)
	if err := AppendRecord(d, rec); err != nil {
		return nil, err
	}
	return d, nil
}

// AppendRecord decodes one record's rows into an existing dataset.
func AppendRecord(d *Dataset, rec arrow.Record) error {
	if rec.NumCols() != 3 {
		return fmt.Errorf("record has %d columns, want 3", rec.NumCols())
	}
	imgCol, ok := rec.Column(0).(*array.FixedSizeList)
	if !ok {
		return fmt.Errorf("image column is %T, want fixed-size list", rec.Column(0))
	}
	inCol, ok := rec.Column(1).(*array.List)
	if !ok {
		return fmt.Errorf("input_tokens column is %T, want list", rec.Column(1))
	}
	tgtCol, ok := rec.Column(2).(*array.List)
	if !ok {
		return fmt.Errorf("target_tokens column is %T, want list", rec.Column(2))
	}

	imgSize := d.Channels * d.Height * d.Width
	imgVals := imgCol.ListValues().(*array.Float32).Float32Values()
	inVals := inCol.ListValues().(*array.Int32).Int32Values()
	inOffsets := inCol.Offsets()
	tgtVals := tgtCol.ListValues().(*array.Int32).Int32Values()
	tgtOffsets := tgtCol.Offsets()

	n := int(rec.NumRows())
	for i := 0; i < n; i++ {
		imgStart := (imgCol.Offset() + i) * imgSize
		img := make([]float32, imgSize)
		copy(img, imgVals[imgStart:imgStart+imgSize])

		in := int32sToInts(inVals[inOffsets[i]:inOffsets[i+1]])
		tgt := int32sToInts(tgtVals[tgtOffsets[i]:tgtOffsets[i+1]])
		d.Samples = append(d.Samples, Sample{Image: img, Input: in, Target: tgt})
	}
	return d.Validate()
}

func int32sToInts(v []int32) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

func metadataInt(md arrow.Metadata, key string) (int, error) {
	idx := md.FindKey(key)
	if idx < 0 {
		return 0, fmt.Errorf("schema metadata missing %q", key)
	}
	v, err := strconv.Atoi(md.Values()[idx])
	if err != nil {
		return 0, fmt.Errorf("schema metadata %q: %w", key, err)
	}
	return v, nil
}

// WriteIPC serializes the dataset to an Arrow IPC file.
func WriteIPC(path string, d *Dataset) error {
	rec, err := ToRecord(d, memory.NewGoAllocator())
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()))
	if err != nil {
		return fmt.Errorf("failed to create IPC writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	return w.Close()
}

// ReadIPC loads a dataset from an Arrow IPC file.
func ReadIPC(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open IPC reader: %w", err)
	}
	defer r.Close()

	var d *Dataset
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if d == nil {
			if d, err = FromRecord(rec); err != nil {
				return nil, err
			}
		} else {
			if err = AppendRecord(d, rec); err != nil {
				return nil, err
			}
		}
	}
	if d == nil {
		return nil, fmt.Errorf("dataset file %s holds no records", path)
	}
	return d, nil
}
