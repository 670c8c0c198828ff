package sensord

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// SampleSize is the wire size of one encoded sample.
const SampleSize = 20

// A Sample is one timestamped three-axis reading. Timestamps are
// monotonic microseconds; axis values are in device units.
type Sample struct {
	Timestamp uint64
	X, Y, Z   int32
}

// Marshal encodes the sample as a fixed 20-byte little-endian record, the
// payload format of the sample socket for XYZ sensor types.
func (s Sample) Marshal() []byte {
	buf := make([]byte, SampleSize)
	binary.LittleEndian.PutUint64(buf, s.Timestamp)
	binary.LittleEndian.PutUint32(buf[8:], uint32(s.X))
	binary.LittleEndian.PutUint32(buf[12:], uint32(s.Y))
	binary.LittleEndian.PutUint32(buf[16:], uint32(s.Z))
	return buf
}

// UnmarshalSample decodes a record previously produced by Marshal.
func UnmarshalSample(buf []byte) (Sample, error) {
	if len(buf) < SampleSize {
		return Sample{}, errors.Errorf("sample record too short: %d < %d", len(buf), SampleSize)
	}
	return Sample{
		Timestamp: binary.LittleEndian.Uint64(buf),
		X:         int32(binary.LittleEndian.Uint32(buf[8:])),
		Y:         int32(binary.LittleEndian.Uint32(buf[12:])),
		Z:         int32(binary.LittleEndian.Uint32(buf[16:])),
	}, nil
}

// A DataRange describes the span and resolution of values a sensor can
// report. Resolution zero means continuous.
type DataRange struct {
	Min, Max   float64
	Resolution float64
}
