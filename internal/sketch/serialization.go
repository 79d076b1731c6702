package sketch

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/cubeforge/cubeforge/internal/errors"
)

// Register buffer framing. The shuffle value for a sketch is a
// fixed-capacity buffer sized for the configured precision; the writer
// fills only the meaningful prefix and readers must not interpret the
// trailing bytes. The prefix is:
//   - 2 bytes: precision (uint16, little-endian)
//   - 4 bytes: payload length (uint32, little-endian)
//   - payload: the sketch's register state
const headerSize = 6

// RegisterCapacity returns the fixed buffer capacity for a precision:
// room for every dense register plus the frame header. A correctly
// configured sketch always fits; overflow means the precision and the
// buffer were sized inconsistently, which is a fatal misconfiguration.
func RegisterCapacity(precision int) int {
	return headerSize + (1 << uint(precision)) + 16
}

// WriteRegisters serializes the sketch into buf and returns the number of
// meaningful bytes. If the state does not fit, no bytes are written and a
// register-overflow fault is returned; truncation would corrupt every
// downstream estimate without signaling failure.
func (h *HyperLogLog) WriteRegisters(buf []byte) (int, error) {
	payload, err := h.inner.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCategorySketch, errors.CodeCorruptRegisters,
			"marshal sketch registers", err)
	}
	need := headerSize + len(payload)
	if need > len(buf) {
		return 0, errors.NewSketchError(errors.CodeRegisterOverflow,
			fmt.Sprintf("register state needs %d bytes, buffer holds %d", need, len(buf)))
	}
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.precision))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return need, nil
}

// Registers returns a freshly allocated fixed-capacity register buffer for
// the sketch, filled per WriteRegisters.
func (h *HyperLogLog) Registers() ([]byte, error) {
	buf := make([]byte, RegisterCapacity(h.precision))
	if _, err := h.WriteRegisters(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRegisters reconstructs a sketch from a register buffer. Only the
// framed prefix is read; trailing bytes are ignored.
func ReadRegisters(buf []byte) (*HyperLogLog, error) {
	if len(buf) < headerSize {
		return nil, errors.NewSketchError(errors.CodeCorruptRegisters,
			"register buffer shorter than frame header")
	}
	precision := int(binary.LittleEndian.Uint16(buf[0:2]))
	payloadLen := int(binary.LittleEndian.Uint32(buf[2:6]))
	if headerSize+payloadLen > len(buf) {
		return nil, errors.NewSketchError(errors.CodeCorruptRegisters,
			fmt.Sprintf("register frame claims %d payload bytes, buffer holds %d",
				payloadLen, len(buf)-headerSize))
	}

	h, err := New(precision)
	if err != nil {
		return nil, errors.NewSketchError(errors.CodeCorruptRegisters,
			fmt.Sprintf("register frame carries unsupported precision %d", precision))
	}
	if err := h.inner.UnmarshalBinary(buf[headerSize : headerSize+payloadLen]); err != nil {
		return nil, errors.Wrap(errors.ErrCategorySketch, errors.CodeCorruptRegisters,
			"unmarshal sketch registers", err)
	}
	return h, nil
}

// SerializeCompressed returns the sketch's register frame compressed with
// snappy, for catalog and segment storage where the fixed-capacity layout
// is not required.
func (h *HyperLogLog) SerializeCompressed() ([]byte, error) {
	payload, err := h.inner.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategorySketch, errors.CodeCorruptRegisters,
			"marshal sketch registers", err)
	}
	raw := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(raw[0:2], uint16(h.precision))
	binary.LittleEndian.PutUint32(raw[2:6], uint32(len(payload)))
	copy(raw[headerSize:], payload)
	return snappy.Encode(nil, raw), nil
}

// DeserializeCompressed reconstructs a sketch from SerializeCompressed
// output.
func DeserializeCompressed(data []byte) (*HyperLogLog, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategorySketch, errors.CodeCorruptRegisters,
			"snappy decompress sketch", err)
	}
	return ReadRegisters(raw)
}
