// Package export writes a dataset split as TFRecord files of tf.Example
// protos for trainers outside this process, together with a YAML manifest
// describing the records.
//
// Each example carries these features:
//
//	patch/id          bytes    patch identifier
//	image/height      int64
//	image/width       int64
//	image/bands       int64
//	image/data        float    image values, band-major
//	confidence/data   float    confidence mask, row-major
//	label             float    multi-hot label vector
//	label/names       bytes    names of the positive classes
//	mask/class        int64    class mask codes, row-major
package export

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	tensorflow "github.com/ryszard/tfutils/proto/tensorflow/core/example"

	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/monitoring"
)

// Options controls Split.
type Options struct {
	Shards    int // maximum number of record files; defaults to 1
	BatchSize int // samples loaded at once; defaults to 32
	Workers   int // loader goroutines; defaults to GOMAXPROCS
}

// RecordPath returns the path of shard idx of n for a split exported to dir.
func RecordPath(dir, split string, idx, n int) string {
	path := filepath.Join(dir, split+".tfrecord")
	if n > 1 {
		path += fmt.Sprintf("-%05d-of-%05d", idx, n)
	}
	return path
}

// Split writes every sample of d, in split file order, to TFRecord shards in
// dir and saves the manifest next to them. The dataset's transform, if any, is
// applied to the exported values.
func Split(ctx context.Context, d *dataset.Dataset, dir string, opts Options) (*Manifest, error) {
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	m := newManifest(d)
	shardSize := max(1, int(math.Ceil(float64(d.Size())/float64(opts.Shards))))
	// Small splits fill fewer shards than requested; names carry the real count.
	shards := (d.Size() + shardSize - 1) / shardSize

	var shard *os.File
	closeShard := func() error {
		if shard == nil {
			return nil
		}
		err := shard.Close()
		shard = nil
		return err
	}
	defer closeShard()

	written := 0
	err := dataset.Iterate(ctx, d, dataset.BatchOptions{BatchSize: opts.BatchSize, Workers: opts.Workers}, func(b dataset.Batch) error {
		for _, s := range b.Samples {
			if written%shardSize == 0 {
				if err := closeShard(); err != nil {
					return fmt.Errorf("failed to close shard: %w", err)
				}
				path := RecordPath(dir, d.Split(), len(m.Shards), shards)
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create shard %s: %w", path, err)
				}
				shard = f
				m.Shards = append(m.Shards, Shard{File: filepath.Base(path)})
			}

			if err := writeSample(shard, s); err != nil {
				return fmt.Errorf("patch %s: %w", s.Identifier, err)
			}
			m.Shards[len(m.Shards)-1].Records++
			written++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := closeShard(); err != nil {
		return nil, fmt.Errorf("failed to close shard: %w", err)
	}

	m.Records = written
	if err := m.Save(ManifestPath(dir, d.Split())); err != nil {
		return nil, err
	}
	monitoring.Logf("exported %d %s samples to %d shard(s) in %s (run %s)",
		written, d.Split(), len(m.Shards), dir, m.RunID)
	return m, nil
}

// Features converts a sample into the tf.Example feature map.
func Features(s *dataset.Sample) map[string]interface{} {
	mask := make([]int64, len(s.ClassMask.Data))
	for i, v := range s.ClassMask.Data {
		mask[i] = int64(v)
	}

	return map[string]interface{}{
		"patch/id":        s.Identifier.String(),
		"image/height":    s.Image.Height,
		"image/width":     s.Image.Width,
		"image/bands":     s.Image.Bands,
		"image/data":      s.Image.Data,
		"confidence/data": s.Confidence.Data,
		"label":           []float32(s.Labels),
		"label/names":     s.Labels.Names(),
		"mask/class":      mask,
	}
}

// writeSample serialises the example for s and writes it as one record to w.
func writeSample(w io.Writer, s *dataset.Sample) (err error) {
	// example.New panics on feature values it cannot convert.
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to tf.Example failed: %v", e)
		}
	}()

	return writeExample(w, example.New(Features(s)))
}

func writeExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal example: %w", err)
	}
	if err := tfrecord.Write(w, enc); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
