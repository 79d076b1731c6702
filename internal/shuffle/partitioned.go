package shuffle

import (
	"os"

	"github.com/cubeforge/cubeforge/internal/errors"
)

// PartitionedWriter fans records across one staged segment per shuffle
// partition, routing by key so that same-key records from this split land
// in the same partition. It implements Emitter. Lifecycle is all-or-nothing
// across the whole set: Close finalizes every segment or none, Abort
// discards them all.
type PartitionedWriter struct {
	writers []*SegmentWriter
	part    *Partitioner
	closed  bool
}

// NewPartitionedWriter stages one segment per path. A failure staging any
// segment aborts the ones already created.
func NewPartitionedWriter(paths []string) (*PartitionedWriter, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrCategoryShuffle, errors.CodeSegmentCorrupt,
			"partitioned writer needs at least one segment path")
	}

	writers := make([]*SegmentWriter, 0, len(paths))
	for _, p := range paths {
		w, err := NewSegmentWriter(p)
		if err != nil {
			for _, created := range writers {
				created.Abort()
			}
			return nil, err
		}
		writers = append(writers, w)
	}

	return &PartitionedWriter{
		writers: writers,
		part:    NewPartitioner(len(paths)),
	}, nil
}

// Emit routes the record to its partition's segment.
func (w *PartitionedWriter) Emit(rec Record) error {
	return w.writers[w.part.Partition(rec.Key)].Emit(rec)
}

// Count returns the total number of records emitted across all partitions.
func (w *PartitionedWriter) Count() int {
	total := 0
	for _, sw := range w.writers {
		total += sw.Count()
	}
	return total
}

// Writers returns the per-partition segment writers in partition order.
func (w *PartitionedWriter) Writers() []*SegmentWriter {
	return w.writers
}

// Close finalizes every partition segment. On the first failure the
// remaining staged segments are aborted so no partial partition set
// becomes visible.
func (w *PartitionedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	for i, sw := range w.writers {
		if err := sw.Close(); err != nil {
			// Partitions finalized before the failure must not outlive it.
			for _, done := range w.writers[:i] {
				os.Remove(done.Path())
			}
			for _, rest := range w.writers[i+1:] {
				rest.Abort()
			}
			return err
		}
	}
	return nil
}

// Abort discards every staged partition segment.
func (w *PartitionedWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	for _, sw := range w.writers {
		sw.Abort()
	}
}
