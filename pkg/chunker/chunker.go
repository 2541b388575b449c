// Package chunker implements the ChunkBuffer entity: it accumulates raw PCM
// and emits fixed-size chunks to a downstream sink, with a flush operation
// that ignores the enable/disable gate. Grounded on the xfyun extension's
// AudioBufferManager (fixed threshold, enable/disable, sink-or-return) and
// the teacher's splitAudio helper in pkg/volc/client/client.go.
package chunker

// Sink receives chunks as they become ready. When a Sink is registered,
// Buffer.Add and Buffer.Flush deliver chunks to it and return nil instead
// of returning the chunk slice.
type Sink func(chunk []byte)

// Buffer is the ChunkBuffer entity from spec.md §3/§4.2. Not safe for
// concurrent use; owned exclusively by the session's event loop.
type Buffer struct {
	threshold int
	buf       []byte
	enabled   bool
	sink      Sink
}

// New creates a Buffer with an immutable positive threshold. It panics if
// threshold is not positive, matching the xfyun manager's ValueError on
// construction with a non-positive threshold.
func New(threshold int) *Buffer {
	if threshold <= 0 {
		panic("chunker: threshold must be positive")
	}
	return &Buffer{threshold: threshold, enabled: true}
}

// SetSink registers a callback invoked for each chunk as it is emitted.
// Passing nil reverts to the return-chunks mode.
func (b *Buffer) SetSink(sink Sink) {
	b.sink = sink
}

// Enable allows Add to emit chunks as they cross the threshold.
func (b *Buffer) Enable() { b.enabled = true }

// Disable suppresses emission from Add: full chunks are still cut from the
// buffer but discarded, and only the short remainder stays buffered for
// Flush, which drains it regardless of the gate.
func (b *Buffer) Disable() { b.enabled = false }

// Enabled reports the current gate state.
func (b *Buffer) Enabled() bool { return b.enabled }

// Size returns the number of bytes currently buffered below threshold.
func (b *Buffer) Size() int { return len(b.buf) }

// Add appends data to the buffer, then emits every full-sized chunk while
// at least threshold bytes remain, gated by Enabled. If a Sink is
// registered, chunks are delivered to it and Add returns nil; otherwise the
// emitted chunks are returned in order.
func (b *Buffer) Add(data []byte) [][]byte {
	return b.addOrFlush(data, false)
}

// Flush empties the buffer regardless of the enable/disable gate, emitting
// every full chunk plus a final short remainder if any bytes are left.
func (b *Buffer) Flush() [][]byte {
	return b.addOrFlush(nil, true)
}

func (b *Buffer) addOrFlush(data []byte, force bool) [][]byte {
	if len(data) > 0 {
		b.buf = append(b.buf, data...)
	}

	var out [][]byte
	for len(b.buf) >= b.threshold {
		chunk := b.buf[:b.threshold:b.threshold]
		b.buf = b.buf[b.threshold:]
		out = b.deliver(out, chunk, b.enabled || force)
	}
	if force && len(b.buf) > 0 {
		remainder := b.buf
		b.buf = nil
		out = b.deliver(out, remainder, true)
	}
	return out
}

func (b *Buffer) deliver(out [][]byte, chunk []byte, gate bool) [][]byte {
	if !gate {
		return out
	}
	if b.sink != nil {
		b.sink(chunk)
		return out
	}
	return append(out, chunk)
}
