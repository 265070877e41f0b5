// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.InputDevice], and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// The mock output device has no real clock: time only moves when the test
// calls [OutputDevice.Advance], which fires ended callbacks synchronously.
//
// Typical usage:
//
//	devices := &mock.Devices{}
//	in, _ := devices.OpenInput(ctx, audio.Format{SampleRate: 16000, Channels: 1}, 4096)
//	_ = in.Start(func(s []float32) { ... })
//	devices.LastInput().Emit(make([]float32, 4096))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voiceguide/pkg/audio"
)

var (
	_ audio.Devices      = (*Devices)(nil)
	_ audio.InputDevice  = (*InputDevice)(nil)
	_ audio.OutputDevice = (*OutputDevice)(nil)
)

// ─── Devices ─────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices]. Every successful open
// creates a fresh device which is recorded in Inputs or Outputs.
type Devices struct {
	mu sync.Mutex

	// OpenInputErr is returned by [Devices.OpenInput] when non-nil.
	OpenInputErr error

	// OpenOutputErr is returned by [Devices.OpenOutput] when non-nil.
	OpenOutputErr error

	// StartErr is copied into every input device created by OpenInput.
	StartErr error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// Inputs holds every input device opened, in order.
	Inputs []*InputDevice

	// Outputs holds every output device opened, in order.
	Outputs []*OutputDevice

	// InputFormats and OutputFormats record the requested formats.
	InputFormats  []audio.Format
	OutputFormats []audio.Format
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context, format audio.Format, frameSamples int) (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenInput++
	d.InputFormats = append(d.InputFormats, format)
	if d.OpenInputErr != nil {
		return nil, d.OpenInputErr
	}
	in := &InputDevice{FrameSamples: frameSamples, StartErr: d.StartErr}
	d.Inputs = append(d.Inputs, in)
	return in, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, format audio.Format) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenOutput++
	d.OutputFormats = append(d.OutputFormats, format)
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	out := &OutputDevice{}
	d.Outputs = append(d.Outputs, out)
	return out, nil
}

// LastInput returns the most recently opened input device, or nil.
func (d *Devices) LastInput() *InputDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Inputs) == 0 {
		return nil
	}
	return d.Inputs[len(d.Inputs)-1]
}

// LastOutput returns the most recently opened output device, or nil.
func (d *Devices) LastOutput() *OutputDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

// ─── InputDevice ─────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice]. Frames are
// injected by the test through [InputDevice.Emit].
type InputDevice struct {
	mu sync.Mutex

	// FrameSamples is the frame size requested when the device was opened.
	FrameSamples int

	// StartErr is returned by [InputDevice.Start] when non-nil.
	StartErr error

	// CloseErr is returned by [InputDevice.Close].
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onFrame func([]float32)
	closed  bool
}

// Start implements [audio.InputDevice].
func (d *InputDevice) Start(onFrame func([]float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.onFrame = onFrame
	return nil
}

// Close implements [audio.InputDevice].
func (d *InputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.closed = true
	d.onFrame = nil
	return d.CloseErr
}

// Emit delivers samples to the registered frame callback as if the hardware
// had produced them. It reports false when the device is not capturing.
func (d *InputDevice) Emit(samples []float32) bool {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// Closed reports whether Close has been called.
func (d *InputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ─── OutputDevice ────────────────────────────────────────────────────────────

// Scheduled is a snapshot of one buffer handed to [OutputDevice.Schedule].
type Scheduled struct {
	// Samples is the scheduled audio.
	Samples []float32

	// At is the start position requested by the caller.
	At int64

	// Start is the position at which the buffer actually begins playing.
	Start int64

	// Stopped is true once the voice was stopped.
	Stopped bool

	// Ended is true once the voice played to completion.
	Ended bool
}

// End returns the position just past the buffer's last sample.
func (s Scheduled) End() int64 { return s.Start + int64(len(s.Samples)) }

// OutputDevice is a mock implementation of [audio.OutputDevice] with a
// manually driven clock.
type OutputDevice struct {
	mu sync.Mutex

	// ScheduleErr is returned by [OutputDevice.Schedule] when non-nil.
	ScheduleErr error

	// CloseErr is returned by [OutputDevice.Close].
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos    int64
	voices []*voice
	closed bool
}

type voice struct {
	out     *OutputDevice
	info    Scheduled
	onEnded func()
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	if !v.info.Ended {
		v.info.Stopped = true
	}
}

// Position implements [audio.OutputDevice].
func (d *OutputDevice) Position() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

// Schedule implements [audio.OutputDevice].
func (d *OutputDevice) Schedule(samples []float32, at int64, onEnded func()) (audio.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ScheduleErr != nil {
		return nil, d.ScheduleErr
	}
	v := &voice{
		out: d,
		info: Scheduled{
			Samples: samples,
			At:      at,
			Start:   max(at, d.pos),
		},
		onEnded: onEnded,
	}
	d.voices = append(d.voices, v)
	return v, nil
}

// Close implements [audio.OutputDevice]. Pending voices are stopped without
// firing their callbacks.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.closed = true
	for _, v := range d.voices {
		if !v.info.Ended {
			v.info.Stopped = true
		}
	}
	return d.CloseErr
}

// Advance moves the device clock forward by n samples and synchronously
// invokes the ended callback of every voice that finished, in schedule order.
func (d *OutputDevice) Advance(n int64) {
	d.mu.Lock()
	d.pos += n
	var ended []func()
	for _, v := range d.voices {
		if v.info.Ended || v.info.Stopped || d.closed {
			continue
		}
		if v.info.End() <= d.pos {
			v.info.Ended = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	d.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Scheduled returns a snapshot of every buffer scheduled so far.
func (d *OutputDevice) Scheduled() []Scheduled {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Scheduled, len(d.voices))
	for i, v := range d.voices {
		out[i] = v.info
	}
	return out
}

// Closed reports whether Close has been called.
func (d *OutputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
