package shuffle

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// Partitioner routes record keys to reducer partitions by murmur3 hash.
// Same-key records always land in the same partition, which is what lets
// the downstream convergence merge per-key outputs from different splits.
type Partitioner struct {
	numPartitions uint32
}

// NewPartitioner creates a partitioner over n partitions. n < 1 is treated
// as 1.
func NewPartitioner(n int) *Partitioner {
	if n < 1 {
		n = 1
	}
	return &Partitioner{numPartitions: uint32(n)}
}

// Partition returns the partition index for a record key.
func (p *Partitioner) Partition(key int64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return int(murmur3.Sum32(buf[:]) % p.numPartitions)
}

// NumPartitions returns the partition count.
func (p *Partitioner) NumPartitions() int {
	return int(p.numPartitions)
}
