package audio

import "context"

// InputDevice is an open microphone stream.
type InputDevice interface {
	// Start begins capture. onFrame is invoked from the device's callback
	// goroutine once per complete frame and must not block.
	Start(onFrame func(samples []float32)) error

	// Close stops capture and releases the device. Safe to call more than
	// once.
	Close() error
}

// Voice is one buffer scheduled on an [OutputDevice].
type Voice interface {
	// Stop silences the voice immediately. A stopped voice does not fire its
	// ended callback. Stopping a voice that already ended is a no-op.
	Stop()
}

// OutputDevice is an open speaker stream with a sample-accurate clock.
//
// Positions are expressed in sample frames at the device rate, counted from
// when the device was opened.
type OutputDevice interface {
	// Position returns the current playback position of the device clock.
	Position() int64

	// Schedule queues samples to start playing at sample position at. If at is
	// already in the past the buffer starts as soon as possible. onEnded, if
	// non-nil, is called once the last sample has been rendered.
	Schedule(samples []float32, at int64, onEnded func()) (Voice, error)

	// Close stops playback and releases the device. Safe to call more than
	// once.
	Close() error
}

// Devices opens audio endpoints. Implementations must allow an input and an
// output device to be open at the same time.
type Devices interface {
	// OpenInput opens the default microphone at the given format, delivering
	// frames of frameSamples samples.
	OpenInput(ctx context.Context, format Format, frameSamples int) (InputDevice, error)

	// OpenOutput opens the default speaker at the given format.
	OpenOutput(ctx context.Context, format Format) (OutputDevice, error)
}
