package audio

// Framer slices an arbitrary stream of float samples into fixed-size frames.
// Device callbacks deliver buffers whose size the host picks; Framer turns
// them into the frame size the remote model expects.
//
// Framer is not safe for concurrent use. A capture device owns exactly one.
type Framer struct {
	size int
	buf  []float32
	emit func([]float32)
}

// NewFramer returns a Framer that calls emit with every complete frame of
// size samples. Each emitted slice is freshly allocated and owned by emit.
// A non-positive size falls back to [DefaultFrameSamples].
func NewFramer(size int, emit func([]float32)) *Framer {
	if size <= 0 {
		size = DefaultFrameSamples
	}
	return &Framer{
		size: size,
		buf:  make([]float32, 0, size),
		emit: emit,
	}
}

// Write appends samples and emits every frame that becomes complete.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frame := f.buf
			f.buf = make([]float32, 0, f.size)
			f.emit(frame)
		}
	}
}

// Buffered returns the number of samples waiting for a complete frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards any partially filled frame.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
