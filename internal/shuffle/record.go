// Package shuffle carries the statistics stage's output: (signed key, value)
// records on an ordered channel, hash-partitioned for downstream
// convergence and persisted as compressed segment files.
package shuffle

// Record is one shuffle record. The key space is signed: non-negative keys
// carry dictionary column samples, negative keys carry serialized sketch
// register buffers. Consumers route by sign without parsing the value.
type Record struct {
	Key   int64
	Value []byte
}

// Emitter accepts records in emission order.
type Emitter interface {
	Emit(rec Record) error
}

// Collector is an ordered in-memory Emitter for tests and single-process
// jobs. It is owned by one split and is not safe for concurrent use.
type Collector struct {
	records []Record
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Emit appends the record. The value is copied: producers are free to
// reuse their buffers on the row hot path.
func (c *Collector) Emit(rec Record) error {
	v := make([]byte, len(rec.Value))
	copy(v, rec.Value)
	c.records = append(c.records, Record{Key: rec.Key, Value: v})
	return nil
}

// Records returns the emitted records in order.
func (c *Collector) Records() []Record {
	return c.records
}

// Len returns the number of emitted records.
func (c *Collector) Len() int {
	return len(c.records)
}

// Reset drops all collected records.
func (c *Collector) Reset() {
	c.records = c.records[:0]
}
