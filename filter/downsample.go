// Package filter holds sample filters usable inside processing chains.
package filter

import (
	"github.com/sensorfw/sensord"
)

// Downsample averages consecutive samples: it buffers incoming samples,
// prunes entries older than the timeout relative to the newest sample, and
// once the buffer is full emits the arithmetic mean stamped with the newest
// timestamp. Not safe for concurrent use; a chain drives it from its
// producer context.
type Downsample struct {
	bufferSize int
	timeoutUS  uint64
	buffer     []sensord.Sample
}

// NewDownsample returns a downsampling filter emitting one averaged sample
// per bufferSize inputs. timeoutUS of zero disables age-based pruning.
func NewDownsample(bufferSize int, timeoutUS uint64) *Downsample {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Downsample{bufferSize: bufferSize, timeoutUS: timeoutUS}
}

// SetBufferSize adjusts the averaging window.
func (d *Downsample) SetBufferSize(n int) {
	if n >= 1 {
		d.bufferSize = n
	}
}

// Process implements sensord.Filter.
func (d *Downsample) Process(s sensord.Sample) (sensord.Sample, bool) {
	d.buffer = append(d.buffer, s)

	// drop overflow and stale entries from the front
	keep := d.buffer[:0]
	for i, old := range d.buffer {
		overflow := len(d.buffer)-i > d.bufferSize
		stale := d.timeoutUS != 0 && s.Timestamp-old.Timestamp > d.timeoutUS
		if overflow || stale {
			continue
		}
		keep = append(keep, old)
	}
	d.buffer = keep

	if len(d.buffer) < d.bufferSize {
		return sensord.Sample{}, false
	}

	var x, y, z int64
	for _, b := range d.buffer {
		x += int64(b.X)
		y += int64(b.Y)
		z += int64(b.Z)
	}
	n := int64(len(d.buffer))
	return sensord.Sample{
		Timestamp: s.Timestamp,
		X:         int32(x / n),
		Y:         int32(y / n),
		Z:         int32(z / n),
	}, true
}
