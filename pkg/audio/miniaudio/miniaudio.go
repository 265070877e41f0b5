// Package miniaudio implements [audio.Devices] on top of the system's default
// microphone and speaker using miniaudio (via github.com/gen2brain/malgo).
//
// Both directions use 32-bit float mono samples so that no conversion is
// needed between the device callbacks and the rest of the pipeline. The
// output device renders a timeline of scheduled voices and exposes its
// sample-accurate position as the playback clock.
package miniaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voiceguide/pkg/audio"
)

var _ audio.Devices = (*Devices)(nil)

// bytesPerSample is the size of one mono float32 frame.
var bytesPerSample = malgo.SampleSizeInBytes(malgo.FormatF32)

// Devices opens default capture and playback devices. The underlying
// miniaudio context is created on first use and shared by all devices.
type Devices struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

// New returns a Devices. Nothing is initialised until the first device is
// opened.
func New(logger *slog.Logger) *Devices {
	if logger == nil {
		logger = slog.Default()
	}
	return &Devices{logger: logger}
}

func (d *Devices) context() (malgo.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx.Context, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", "msg", message)
	})
	if err != nil {
		return malgo.Context{}, fmt.Errorf("miniaudio: init context: %w", err)
	}
	d.ctx = ctx
	return ctx.Context, nil
}

// Close releases the shared miniaudio context. All devices must be closed
// first.
func (d *Devices) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(ctx context.Context, format audio.Format, frameSamples int) (audio.InputDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}

	in := &inputDevice{}
	in.framer = audio.NewFramer(frameSamples, in.emit)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1

	in.device, err = malgo.InitDevice(mctx, cfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerSample
			if n == 0 || len(pInput) < n {
				return
			}
			in.write(pInput[:n])
		},
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture device: %w", err)
	}
	d.logger.Debug("capture device opened", "format", format.String(), "frame_samples", frameSamples)
	return in, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(ctx context.Context, format audio.Format) (audio.OutputDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}

	out := &outputDevice{}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1

	out.device, err = malgo.InitDevice(mctx, cfg, malgo.DeviceCallbacks{Data: out.render})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	if err := out.device.Start(); err != nil {
		out.device.Uninit()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}
	d.logger.Debug("playback device opened", "format", format.String())
	return out, nil
}

// ─── capture ─────────────────────────────────────────────────────────────────

type inputDevice struct {
	mu      sync.Mutex
	device  *malgo.Device
	framer  *audio.Framer
	onFrame func([]float32)
	closed  bool
}

func (in *inputDevice) Start(onFrame func([]float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return errors.New("miniaudio: capture device closed")
	}
	in.onFrame = onFrame
	if in.device.IsStarted() {
		return nil
	}
	if err := in.device.Start(); err != nil {
		return fmt.Errorf("miniaudio: start capture device: %w", err)
	}
	return nil
}

// write runs on the device thread.
func (in *inputDevice) write(raw []byte) {
	samples := make([]float32, len(raw)/bytesPerSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || in.onFrame == nil {
		return
	}
	in.framer.Write(samples)
}

// emit is called by the framer with in.mu held.
func (in *inputDevice) emit(frame []float32) {
	in.onFrame(frame)
}

func (in *inputDevice) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	in.onFrame = nil
	in.framer.Reset()
	in.mu.Unlock()

	// Stop waits for the data callback to return, so it must run without
	// in.mu held.
	err := in.device.Stop()
	in.device.Uninit()
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}

// ─── playback ────────────────────────────────────────────────────────────────

type voice struct {
	out     *outputDevice
	samples []float32
	start   int64
	onEnded func()
	done    bool
}

func (v *voice) Stop() {
	v.out.mu.Lock()
	defer v.out.mu.Unlock()
	v.done = true
}

type outputDevice struct {
	mu     sync.Mutex
	device *malgo.Device
	pos    int64
	voices []*voice
	closed bool
}

func (out *outputDevice) Position() int64 {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.pos
}

func (out *outputDevice) Schedule(samples []float32, at int64, onEnded func()) (audio.Voice, error) {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return nil, errors.New("miniaudio: playback device closed")
	}
	v := &voice{
		out:     out,
		samples: samples,
		start:   max(at, out.pos),
		onEnded: onEnded,
	}
	out.voices = append(out.voices, v)
	return v, nil
}

// render mixes every voice overlapping the current period into pOutput and
// advances the clock. Runs on the device thread.
func (out *outputDevice) render(pOutput, _ []byte, frameCount uint32) {
	clear(pOutput)

	out.mu.Lock()
	from := out.pos
	to := from + int64(frameCount)
	var ended []func()
	live := out.voices[:0]
	for _, v := range out.voices {
		if v.done {
			continue
		}
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for p := lo; p < hi; p++ {
			off := int(p-from) * bytesPerSample
			mixed := math.Float32frombits(binary.LittleEndian.Uint32(pOutput[off:])) + v.samples[p-v.start]
			binary.LittleEndian.PutUint32(pOutput[off:], math.Float32bits(mixed))
		}
		if end <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		live = append(live, v)
	}
	clear(out.voices[len(live):])
	out.voices = live
	out.pos = to
	out.mu.Unlock()

	if len(ended) > 0 {
		go func() {
			for _, fn := range ended {
				fn()
			}
		}()
	}
}

func (out *outputDevice) Close() error {
	out.mu.Lock()
	if out.closed {
		out.mu.Unlock()
		return nil
	}
	out.closed = true
	for _, v := range out.voices {
		v.done = true
	}
	out.voices = nil
	out.mu.Unlock()

	err := out.device.Stop()
	out.device.Uninit()
	if err != nil {
		return fmt.Errorf("miniaudio: stop playback device: %w", err)
	}
	return nil
}
