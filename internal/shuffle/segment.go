package shuffle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/cubeforge/cubeforge/internal/errors"
)

// Segment file format. Records are framed as:
//   - 8 bytes: key (int64, little-endian)
//   - 4 bytes: compressed value length (uint32, little-endian)
//   - N bytes: snappy-compressed value
//   - 4 bytes: CRC32C over the key and compressed value bytes
//
// A writer stages the file under a ".staging" suffix and renames it into
// place on Close. A split that fails or is cancelled calls Abort and
// leaves nothing visible: a half-written segment must never be mistaken
// for valid split output.

const stagingSuffix = ".staging"

// maxFrameValueLen caps the compressed value length a reader will accept.
// The largest legitimate value is a precision-16 register buffer, well
// under a megabyte; anything bigger is a corrupt length field, and
// trusting it would size an allocation from garbage.
const maxFrameValueLen = 64 << 20

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// SegmentWriter writes shuffle records to a staged segment file.
type SegmentWriter struct {
	path    string
	staging string
	file    *os.File
	count   int
	closed  bool
}

// NewSegmentWriter creates a staged segment at path + ".staging".
func NewSegmentWriter(path string) (*SegmentWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewShuffleError(errors.CodeSegmentCorrupt, "create segment directory", err)
	}
	staging := path + stagingSuffix
	f, err := os.Create(staging)
	if err != nil {
		return nil, errors.NewShuffleError(errors.CodeSegmentCorrupt, "create staged segment", err)
	}
	return &SegmentWriter{path: path, staging: staging, file: f}, nil
}

// Emit appends one record frame. SegmentWriter implements Emitter.
func (w *SegmentWriter) Emit(rec Record) error {
	if w.closed {
		return errors.New(errors.ErrCategoryShuffle, errors.CodeSegmentClosed,
			"emit on closed segment writer")
	}

	compressed := snappy.Encode(nil, rec.Value)
	frame := make([]byte, 8+4+len(compressed)+4)
	binary.LittleEndian.PutUint64(frame[0:8], uint64(rec.Key))
	binary.LittleEndian.PutUint32(frame[8:12], uint32(len(compressed)))
	copy(frame[12:], compressed)
	crc := crc32.Checksum(frame[:12+len(compressed)], crcTable)
	binary.LittleEndian.PutUint32(frame[12+len(compressed):], crc)

	if _, err := w.file.Write(frame); err != nil {
		return errors.NewShuffleError(errors.CodeSegmentCorrupt, "write segment frame", err)
	}
	w.count++
	return nil
}

// Count returns the number of records emitted so far.
func (w *SegmentWriter) Count() int {
	return w.count
}

// Path returns the final segment path the writer renames into on Close.
func (w *SegmentWriter) Path() string {
	return w.path
}

// Close syncs the staged file and atomically renames it into place. After
// Close the segment is visible to readers in its entirety.
func (w *SegmentWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.staging)
		return errors.NewShuffleError(errors.CodeSegmentCorrupt, "sync staged segment", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.staging)
		return errors.NewShuffleError(errors.CodeSegmentCorrupt, "close staged segment", err)
	}
	if err := os.Rename(w.staging, w.path); err != nil {
		os.Remove(w.staging)
		return errors.NewShuffleError(errors.CodeSegmentCorrupt, "finalize segment", err)
	}
	return nil
}

// Abort discards the staged file. The final path is never created.
// Safe to call after Close (it is then a no-op) and more than once.
func (w *SegmentWriter) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.file.Close()
	os.Remove(w.staging)
}

// SegmentReader reads record frames from a finalized segment.
type SegmentReader struct {
	file *os.File
}

// OpenSegment opens a finalized segment for reading.
func OpenSegment(path string) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewShuffleError(errors.CodeSegmentCorrupt, "open segment", err)
	}
	return &SegmentReader{file: f}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *SegmentReader) Next() (Record, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, errors.NewShuffleError(errors.CodeSegmentCorrupt, "read frame header", err)
	}

	key := int64(binary.LittleEndian.Uint64(header[0:8]))
	clen := binary.LittleEndian.Uint32(header[8:12])
	if clen > maxFrameValueLen {
		return Record{}, errors.New(errors.ErrCategoryShuffle, errors.CodeSegmentCorrupt,
			fmt.Sprintf("frame length %d exceeds limit %d", clen, maxFrameValueLen))
	}

	body := make([]byte, int(clen)+4)
	if _, err := io.ReadFull(r.file, body); err != nil {
		return Record{}, errors.NewShuffleError(errors.CodeSegmentCorrupt, "read frame body", err)
	}

	crc := crc32.Checksum(header[:], crcTable)
	crc = crc32.Update(crc, crcTable, body[:clen])
	stored := binary.LittleEndian.Uint32(body[clen:])
	if crc != stored {
		return Record{}, errors.New(errors.ErrCategoryShuffle, errors.CodeSegmentCorrupt,
			fmt.Sprintf("frame checksum mismatch: computed %08x, stored %08x", crc, stored))
	}

	value, err := snappy.Decode(nil, body[:clen])
	if err != nil {
		return Record{}, errors.NewShuffleError(errors.CodeSegmentCorrupt, "decompress frame value", err)
	}
	return Record{Key: key, Value: value}, nil
}

// ReadAll drains the segment into a slice.
func (r *SegmentReader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// Close closes the underlying file.
func (r *SegmentReader) Close() error {
	return r.file.Close()
}
